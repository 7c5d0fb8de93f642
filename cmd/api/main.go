package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"dealhunter/internal/api"
	"dealhunter/internal/config"
	"dealhunter/internal/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.NewDefault(cfg.App.LogLevel)
	slog.SetDefault(log)

	log.Info("starting dealhunter",
		slog.String("env", cfg.App.Env),
		slog.String("addr", cfg.App.HTTPAddr),
		slog.String("poll_interval", cfg.App.PollInterval.String()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := api.NewServer(cfg, log)
	if err != nil {
		log.Error("init server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer server.Close()

	if err := api.SeedDemoData(server.DB(), log); err != nil {
		log.Error("seed demo data failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 后台轮询器，panic 只记录不拖垮 API 进程
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("scheduler panic",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
			}
		}()
		server.Scheduler().Run(ctx)
	}()

	httpServer := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http server listening", slog.String("addr", cfg.App.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", slog.String("error", err.Error()))
	}

	log.Info("dealhunter stopped")
}
