package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tacticarena/server"
)

// TacticArena 入口：TCP 游戏端口 + HTTP（WebSocket 网关、管理与监控接口）
func main() {
	cfg := server.DefaultConfig()
	cfg.ApplyEnv(os.Getenv)

	var console bool
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "game listen address (TCP), e.g. :8080")
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "http listen address for /ws and admin, empty to disable")
	flag.Func("width", fmt.Sprintf("map width (default %d)", cfg.MapWidth), mapSideFlag(&cfg.MapWidth))
	flag.Func("height", fmt.Sprintf("map height (default %d)", cfg.MapHeight), mapSideFlag(&cfg.MapHeight))
	flag.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "close sessions idle for this long, 0 disables")
	flag.IntVar(&cfg.OutboundQueue, "queue", cfg.OutboundQueue, "per-session outbound queue size")
	flag.BoolVar(&cfg.SpawnAvoidOccupied, "spawn-free", cfg.SpawnAvoidOccupied, "spawn players on free cells when possible")
	flag.StringVar(&cfg.LogFile, "log", cfg.LogFile, "log file path")
	flag.BoolVar(&console, "console", false, "also log to stderr")
	flag.Parse()

	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := server.InitLogger(cfg.LogFile, console); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	srv, err := server.New(cfg)
	if err != nil {
		server.Log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	srv.Start(ctx)

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		httpSrv = &http.Server{Addr: cfg.HTTPAddr, Handler: srv.HTTPHandler()}
		go func() {
			server.Log.Infof("http listening on %s (/ws, /admin, /metrics)", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				server.Log.Fatalf("http listen: %v", err)
			}
		}()
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		server.Log.Fatalf("listen: %v", err)
	}

	// 优雅退出（Ctrl+C）
	server.Log.Info("Shutting down...")
	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}
}

func mapSideFlag(dst *int32) func(string) error {
	return func(raw string) error {
		v, err := server.ParseMapSide(raw)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
}
