package server

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tacticarena/protocol"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.HTTPAddr = ""
	cfg.LogFile = ""
	return cfg
}

// startServer 在回环地址上运行完整服务端，测试结束时关闭并等待所有会话退出
func startServer(t *testing.T, mutate func(*Config)) (*Server, string) {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("server did not shut down")
		}
	})
	return srv, ln.Addr().String()
}

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialClient(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) send(m protocol.Message) {
	c.t.Helper()
	if err := protocol.WriteMessage(c.conn, m); err != nil {
		c.t.Fatalf("send %s: %v", m.Kind(), err)
	}
}

func (c *client) recv() (protocol.Message, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return protocol.ReadMessage(c.r, 0)
}

func (c *client) next() protocol.Message {
	c.t.Helper()
	m, err := c.recv()
	if err != nil {
		c.t.Fatalf("recv: %v", err)
	}
	return m
}

// waitFor 跳过不关心的广播，直到出现匹配的消息
func (c *client) waitFor(match func(protocol.Message) bool) protocol.Message {
	c.t.Helper()
	for {
		if m := c.next(); match(m) {
			return m
		}
	}
}

func (c *client) welcome() protocol.Welcome {
	c.t.Helper()
	m := c.next()
	w, ok := m.(protocol.Welcome)
	if !ok {
		c.t.Fatalf("first message must be Welcome, got %s", m.Kind())
	}
	return w
}

func (c *client) response() protocol.Response {
	c.t.Helper()
	return c.waitFor(func(m protocol.Message) bool {
		_, ok := m.(protocol.Response)
		return ok
	}).(protocol.Response)
}

// syncOnly 读到满足 match 的 Sync 为止；期间出现 Response 即失败（回复只发给发起者）
func (c *client) syncOnly(match func(protocol.Sync) bool) protocol.Sync {
	c.t.Helper()
	for {
		switch m := c.next().(type) {
		case protocol.Response:
			c.t.Fatalf("player received a response meant for someone else: %+v", m)
		case protocol.Sync:
			if match(m) {
				return m
			}
		}
	}
}

func (c *client) expectClosed() {
	c.t.Helper()
	for {
		_, err := c.recv()
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			c.t.Fatalf("connection still open")
		}
		return
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionWelcomeFirst(t *testing.T) {
	srv, addr := startServer(t, nil)
	c := dialClient(t, addr)

	w := c.welcome()
	if w.PlayerID != 1 {
		t.Fatalf("first player should get id 1, got %d", w.PlayerID)
	}
	me, ok := w.World.Player(w.PlayerID)
	if !ok || !w.World.InBounds(me.Position) {
		t.Fatalf("welcome world must contain the player in bounds: %+v", w.World)
	}
	if w.World.CurrentTurn != w.PlayerID {
		t.Fatalf("first player should hold the turn, got %d", w.World.CurrentTurn)
	}
	eventually(t, "active session", func() bool {
		list := srv.Sessions()
		return len(list) == 1 && list[0].State == "active" && list[0].Session != ""
	})
}

func TestSessionMoveAndSync(t *testing.T) {
	srv, addr := startServer(t, nil)
	c := dialClient(t, addr)
	w := c.welcome()
	me, _ := w.World.Player(w.PlayerID)

	target := protocol.Pos(me.Position.X+1, me.Position.Y)
	if target.X >= w.World.MapWidth {
		target.X = me.Position.X - 1
	}
	c.send(protocol.Move{PlayerID: w.PlayerID, Target: target})
	if resp := c.response(); !resp.Success || resp.Message != "move accepted" {
		t.Fatalf("unexpected response %+v", resp)
	}
	c.waitFor(func(m protocol.Message) bool {
		s, ok := m.(protocol.Sync)
		if !ok {
			return false
		}
		p, found := s.World.Player(w.PlayerID)
		return found && p.Position == target && p.MovementPoints == protocol.DefaultMovementPoints-1
	})

	c.send(protocol.Move{PlayerID: w.PlayerID, Target: protocol.Pos(target.X+50, target.Y)})
	if resp := c.response(); resp.Success {
		t.Fatalf("far move should be rejected")
	}

	c.send(protocol.EndTurn{PlayerID: w.PlayerID + 1})
	resp := c.response()
	if resp.Success || !strings.Contains(resp.Message, "identity mismatch") {
		t.Fatalf("expected identity mismatch response, got %+v", resp)
	}
	c.send(protocol.EndTurn{PlayerID: w.PlayerID})
	if resp := c.response(); !resp.Success || resp.Message != "turn ended" {
		t.Fatalf("connection should survive an identity mismatch, got %+v", resp)
	}

	snap := srv.Metrics().Snapshot()
	if snap["identity_violations"].(int64) != 1 || snap["actions_accepted"].(int64) != 2 {
		t.Fatalf("unexpected metrics %v", snap)
	}
}

func TestSessionsSeeEachOther(t *testing.T) {
	srv, addr := startServer(t, nil)
	a := dialClient(t, addr)
	wa := a.welcome()
	b := dialClient(t, addr)
	wb := b.welcome()

	if wb.PlayerID != wa.PlayerID+1 || len(wb.World.Players) != 2 {
		t.Fatalf("second welcome should list both players: %+v", wb)
	}
	a.waitFor(func(m protocol.Message) bool {
		s, ok := m.(protocol.Sync)
		return ok && len(s.World.Players) == 2
	})

	b.send(protocol.EndTurn{PlayerID: wb.PlayerID})
	if resp := b.response(); resp.Success || resp.Message != "not your turn" {
		t.Fatalf("expected not your turn, got %+v", resp)
	}
	// 被拒绝的操作仍会广播一次 Sync，但 a 不应看到 b 的回复
	a.syncOnly(func(s protocol.Sync) bool { return s.World.CurrentTurn == wa.PlayerID })

	a.send(protocol.EndTurn{PlayerID: wa.PlayerID})
	if resp := a.response(); !resp.Success {
		t.Fatalf("end turn refused: %+v", resp)
	}
	b.syncOnly(func(s protocol.Sync) bool {
		return s.World.CurrentTurn == wb.PlayerID && s.World.TurnNumber == 2
	})

	_ = a.conn.Close()
	b.waitFor(func(m protocol.Message) bool {
		s, ok := m.(protocol.Sync)
		return ok && len(s.World.Players) == 1 && s.World.Players[0].ID == wb.PlayerID
	})
	eventually(t, "session cleanup", func() bool { return len(srv.Sessions()) == 1 })
}

func TestSessionDisconnectMessage(t *testing.T) {
	srv, addr := startServer(t, nil)
	c := dialClient(t, addr)
	w := c.welcome()

	c.send(protocol.Disconnect{PlayerID: w.PlayerID})
	c.expectClosed()

	world, err := srv.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(world.Players) != 0 || world.CurrentTurn != 0 {
		t.Fatalf("player should be gone: %+v", world)
	}
	eventually(t, "session cleanup", func() bool { return len(srv.Sessions()) == 0 })
}

func TestSessionDecodeErrorCloses(t *testing.T) {
	srv, addr := startServer(t, nil)
	c := dialClient(t, addr)
	c.welcome()

	if err := protocol.WriteFrame(c.conn, []byte{0xEE}); err != nil {
		t.Fatal(err)
	}
	c.expectClosed()
	eventually(t, "decode error metric", func() bool {
		return srv.Metrics().Snapshot()["decode_errors"].(int64) == 1
	})
}

func TestSessionOversizedFrameCloses(t *testing.T) {
	_, addr := startServer(t, func(c *Config) { c.MaxFrameSize = 64 })
	c := dialClient(t, addr)
	c.welcome()

	var hdr [protocol.HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[:], 1000)
	if _, err := c.conn.Write(hdr[:]); err != nil {
		t.Fatal(err)
	}
	c.expectClosed()
}

func TestSessionIdleTimeout(t *testing.T) {
	_, addr := startServer(t, func(c *Config) { c.IdleTimeout = 100 * time.Millisecond })
	c := dialClient(t, addr)
	c.welcome()
	c.expectClosed()
}

func TestServeStopsOnCancel(t *testing.T) {
	srv, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	c := dialClient(t, ln.Addr().String())
	c.welcome()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not return")
	}
	c.expectClosed()
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MapWidth = 0
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error for empty map")
	}
}

func readWS(t *testing.T, ws *websocket.Conn) protocol.Message {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	mt, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("expected binary message, got %d", mt)
	}
	body, err := protocol.SplitFrame(data, 0)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	m, err := protocol.Unmarshal(body)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func TestWebSocketSession(t *testing.T) {
	srv, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.HTTPHandler())
	defer ts.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	w, ok := readWS(t, ws).(protocol.Welcome)
	if !ok {
		t.Fatalf("first websocket message must be Welcome")
	}
	frame, err := protocol.EncodeFrame(protocol.EndTurn{PlayerID: w.PlayerID})
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatal(err)
	}
	for {
		if resp, ok := readWS(t, ws).(protocol.Response); ok {
			if !resp.Success || resp.Message != "turn ended" {
				t.Fatalf("unexpected response %+v", resp)
			}
			break
		}
	}

	_ = ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	eventually(t, "websocket session cleanup", func() bool { return len(srv.Sessions()) == 0 })
	world, _ := srv.Snapshot(context.Background())
	if len(world.Players) != 0 {
		t.Fatalf("websocket player should be removed: %+v", world)
	}
}

func TestWebSocketBeforeStart(t *testing.T) {
	srv, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	srv.HandleWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
