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

	"cycles/config"
	"cycles/game"
	"cycles/server"
)

// Cycles 入口：TCP 接入 + WebSocket/管理接口，固定频率推进帧同步
func main() {
	flag.Parse()
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := server.InitLogger(cfg.LogFile, cfg.LogLevel); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	port, err := config.Port()
	if err != nil {
		server.Log.Fatalf("Please set the %s environment variable (%v)", config.PortEnv, err)
	}

	g, err := game.New(game.Config{Width: cfg.GridWidth, Height: cfg.GridHeight, Seed: cfg.Seed})
	if err != nil {
		server.Log.Fatalf("failed to create game: %v", err)
	}
	srv := server.New(g, server.Options{
		MaxClients:       cfg.MaxClients,
		TickPeriod:       cfg.TickPeriod,
		RoundDeadline:    cfg.RoundDeadline,
		HandshakeTimeout: cfg.HandshakeTimeout,
	})

	tcp, err := server.ListenTCP(fmt.Sprintf(":%d", port))
	if err != nil {
		server.Log.Fatalf("listen: %v", err)
	}
	wsl := server.NewWSListener(cfg.AdminAddr)
	httpSrv := &http.Server{Addr: cfg.AdminAddr, Handler: srv.Handler(wsl)}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		server.Log.Infof("admin and websocket endpoints on %s", cfg.AdminAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Log.Errorf("admin listen: %v", err)
		}
	}()
	go func() {
		if err := srv.Serve(ctx, tcp); err != nil && !errors.Is(err, context.Canceled) {
			server.Log.Errorf("tcp serve: %v", err)
		}
	}()
	go func() {
		if err := srv.Serve(ctx, wsl); err != nil && !errors.Is(err, context.Canceled) {
			server.Log.Errorf("websocket serve: %v", err)
		}
	}()

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		server.Log.Errorf("run: %v", err)
	}
	server.Log.Info("Shutting down...")
	if err := srv.Close(); err != nil {
		server.Log.Warnf("close: %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
