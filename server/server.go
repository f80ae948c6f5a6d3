package server

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"

	"tacticarena/game"
	"tacticarena/protocol"
)

// Server 持有唯一的引擎协程与广播协程，为每个连接分配身份与出生点并启动会话
type Server struct {
	cfg     Config
	knobs   *runtimeKnobs
	arena   *game.Arena
	hub     *Hub
	handler *Handler
	metrics *Metrics

	startOnce sync.Once
	ctxMu     deadlock.RWMutex
	ctx       context.Context

	mu       deadlock.RWMutex
	sessions map[protocol.PlayerID]*Session
	wg       sync.WaitGroup
}

// New 创建服务端；Start 或 Serve 之前不会启动任何协程
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	metrics := &Metrics{}
	arena := game.NewArena(game.New(cfg.MapWidth, cfg.MapHeight), time.Now().UnixNano())
	return &Server{
		cfg:      cfg,
		knobs:    newRuntimeKnobs(cfg),
		arena:    arena,
		hub:      NewHub(arena, metrics),
		handler:  NewHandler(arena, metrics),
		metrics:  metrics,
		sessions: make(map[protocol.PlayerID]*Session),
	}, nil
}

// Start 启动引擎与广播协程，ctx 取消时二者退出。重复调用无效
func (s *Server) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.ctxMu.Lock()
		s.ctx = ctx
		s.ctxMu.Unlock()
		go s.arena.Run(ctx)
		go s.hub.Run(ctx)
	})
}

func (s *Server) baseContext() context.Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.ctx
}

// ListenAndServe 在 cfg.Addr 上监听 TCP
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 接受连接直到 ctx 取消，然后等待所有会话结束
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.Start(ctx)
	Log.Infof("game listener on %s (map %dx%d)", ln.Addr(), s.cfg.MapWidth, s.cfg.MapHeight)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	defer s.wg.Wait()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				Log.Infof("game listener on %s stopped", ln.Addr())
				return nil
			}
			return err
		}
		Log.Debugf("accepted %s", c.RemoteAddr())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, newTCPConn(c, s.cfg.MaxFrameSize))
		}()
	}
}

// serveConn 分配身份与出生点后运行会话，结束时注销
func (s *Server) serveConn(ctx context.Context, conn FrameConn) {
	id, pos, err := s.arena.Spawn(ctx, s.knobs.SpawnAvoidOccupied())
	if err != nil {
		Log.Warnf("spawn for %s failed: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		return
	}
	sess := newSession(s, id, pos, conn)
	s.track(sess)
	s.metrics.IncSessionOpened()
	defer func() {
		s.untrack(id)
		s.metrics.IncSessionClosed()
	}()

	if err := sess.Serve(ctx); err != nil {
		sess.log.Infow("session ended", "error", err)
	}
}

func (s *Server) track(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *Server) untrack(id protocol.PlayerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// SessionInfo 管理接口展示的会话信息
type SessionInfo struct {
	PlayerID protocol.PlayerID `json:"playerId"`
	Session  string            `json:"session"`
	Remote   string            `json:"remote"`
	State    string            `json:"state"`
	Since    time.Time         `json:"since"`
}

// Sessions 按玩家 ID 排序返回当前会话
func (s *Server) Sessions() []SessionInfo {
	s.mu.RLock()
	list := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, SessionInfo{
			PlayerID: sess.ID,
			Session:  sess.Key,
			Remote:   sess.conn.RemoteAddr(),
			State:    sess.State().String(),
			Since:    sess.Since,
		})
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].PlayerID < list[j].PlayerID })
	return list
}

// Snapshot 当前世界快照（供管理接口使用）
func (s *Server) Snapshot(ctx context.Context) (protocol.WorldState, error) {
	return s.arena.Snapshot(ctx)
}

func (s *Server) Metrics() *Metrics { return s.metrics }
