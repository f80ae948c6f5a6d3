package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tacticarena/game"
	"tacticarena/protocol"
)

// SessionState 会话生命周期：Accepted → Welcomed → Active → Closing → Closed
type SessionState int32

const (
	StateAccepted SessionState = iota
	StateWelcomed
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateWelcomed:
		return "welcomed"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	errPeerClosed = errors.New("peer closed connection")
	errPeerLeft   = errors.New("peer sent disconnect")
	errEvicted    = errors.New("evicted: outbound queue full")
)

// closeTimeout 会话收尾时访问引擎与广播协程的上限
const closeTimeout = 5 * time.Second

// Session 一个连接的双工管道：读协程解码并交给 Handler，写协程消费发送队列
type Session struct {
	ID     protocol.PlayerID
	Key    string // 日志关联用的会话 uuid
	Spawn  protocol.Position
	Since  time.Time
	conn   FrameConn
	srv    *Server
	outbox *Outbox
	state  atomic.Int32
	log    *zap.SugaredLogger
}

func newSession(srv *Server, id protocol.PlayerID, spawn protocol.Position, conn FrameConn) *Session {
	key := uuid.NewString()
	s := &Session{
		ID:     id,
		Key:    key,
		Spawn:  spawn,
		Since:  time.Now(),
		conn:   conn,
		srv:    srv,
		outbox: NewOutbox(srv.cfg.OutboundQueue),
		log:    Log.With("player", id, "session", key, "remote", conn.RemoteAddr()),
	}
	s.setState(StateAccepted)
	return s
}

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) setState(st SessionState) { s.state.Store(int32(st)) }

// Serve 运行会话直到任一方向失败；返回 nil 表示对端正常离开
func (s *Session) Serve(ctx context.Context) error {
	defer s.close()

	if err := s.welcome(ctx); err != nil {
		return fmt.Errorf("welcome: %w", err)
	}
	s.setState(StateActive)
	// 让其他玩家尽快看到新加入者
	if err := s.srv.hub.Publish(ctx, Event{Sender: s.ID, Message: protocol.Connect{PlayerID: s.ID}}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error {
		// 任一方向结束即关闭连接，解除另一方向的阻塞读写
		<-gctx.Done()
		s.setState(StateClosing)
		_ = s.conn.Close()
		return nil
	})
	err := g.Wait()
	switch {
	case errors.Is(err, errPeerClosed), errors.Is(err, errPeerLeft), errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

// welcome 先登记发送队列再取快照，保证 Welcome 之后的广播不会遗漏
func (s *Session) welcome(ctx context.Context) error {
	if err := s.srv.hub.Register(ctx, s.ID, s.outbox); err != nil {
		return err
	}
	world, err := s.srv.arena.Snapshot(ctx)
	if err != nil {
		return err
	}
	frame, err := protocol.EncodeFrame(protocol.Welcome{PlayerID: s.ID, World: world})
	if err != nil {
		return err
	}
	if err := s.writeFrame(frame); err != nil {
		return err
	}
	s.setState(StateWelcomed)
	s.log.Infow("welcomed", "spawn", s.Spawn, "players", len(world.Players))
	return nil
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		if idle := s.srv.knobs.IdleTimeout(); idle > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(idle))
		}
		body, err := s.conn.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errPeerClosed
			}
			return fmt.Errorf("read: %w", err)
		}
		s.srv.metrics.IncFrameIn()

		msg, err := protocol.Unmarshal(body)
		if err != nil {
			s.srv.metrics.IncDecodeError()
			return fmt.Errorf("decode: %w", err)
		}

		reply, herr := s.srv.handler.Handle(ctx, msg, s.ID)
		switch {
		case herr == nil:
		case IsRequestError(herr):
			s.log.Warnw("request refused", "kind", msg.Kind(), "error", herr)
			reply = protocol.Response{Success: false, Message: herr.Error()}
		default:
			return herr
		}
		if resp, ok := reply.(protocol.Response); ok && !resp.Success && herr == nil {
			s.log.Debugw("action rejected", "kind", msg.Kind(), "reason", resp.Message)
		}

		if reply != nil {
			frame, err := protocol.EncodeFrame(reply)
			if err != nil {
				return err
			}
			if err := s.outbox.Send(ctx, frame); err != nil {
				return err
			}
		}

		if _, leaving := msg.(protocol.Disconnect); leaving && herr == nil {
			return errPeerLeft
		}
		if herr == nil {
			if err := s.srv.hub.Publish(ctx, Event{Sender: s.ID, Message: msg}); err != nil {
				return err
			}
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case frame := <-s.outbox.Frames():
			if err := s.writeFrame(frame); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-s.outbox.Done():
			return errEvicted
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) writeFrame(frame []byte) error {
	if wt := s.srv.cfg.WriteTimeout; wt > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(wt))
	}
	if err := s.conn.WriteFrame(frame); err != nil {
		return err
	}
	s.srv.metrics.IncFrameOut()
	return nil
}

// close 收尾：退出广播、移除玩家、通知其他人、关闭连接。
// 先移除再广播 Disconnect，保证随后的 Sync 已不含该玩家
func (s *Session) close() {
	s.setState(StateClosing)
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	s.srv.hub.Unregister(s.ID)
	removed, err := s.srv.arena.RemovePlayer(ctx, s.ID)
	if err != nil && !errors.Is(err, game.ErrArenaClosed) {
		s.log.Warnw("remove player failed", "error", err)
	}
	if err := s.srv.hub.Publish(ctx, Event{Sender: s.ID, Message: protocol.Disconnect{PlayerID: s.ID}}); err != nil && !errors.Is(err, errHubClosed) {
		s.log.Warnw("publish disconnect failed", "error", err)
	}
	_ = s.conn.Close()
	s.setState(StateClosed)
	s.log.Infow("session closed", "removed", removed, "duration", time.Since(s.Since).Round(time.Millisecond))
}
