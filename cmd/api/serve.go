package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"callbridge/internal/config"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 20 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long:  "Serves Twilio webhooks, the media-stream bridge, the REST API and the dashboard websocket.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	log := logger.New(cfg.App.Env)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	st, closeStore, err := openStore(rootCtx, cfg)
	if err != nil {
		return fmt.Errorf("store init failed: %w", err)
	}
	defer closeStore()

	rdb, err := openRedis(rootCtx, cfg)
	if err != nil {
		return fmt.Errorf("redis init failed: %w", err)
	}
	var scripter redis.Scripter
	if rdb != nil {
		defer rdb.Close()
		scripter = rdb
	}

	a, err := newApp(cfg, log, st, scripter)
	if err != nil {
		return err
	}

	// Live calls run on hijacked connections that srv.Shutdown does not
	// track; they end when callsCtx is canceled.
	callsCtx, cancelCalls := context.WithCancel(context.WithoutCancel(rootCtx))
	defer cancelCalls()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           newRouter(a, callsCtx),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("api listening",
			"addr", srv.Addr,
			"env", cfg.App.Env,
			"provider", cfg.Provider.Kind,
			"store", cfg.Store.Backend,
			"redis", cfg.RedisEnabled(),
			"auth", cfg.AuthEnabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	cancelCalls()
	a.broadcaster.Shutdown()

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server failed: %w", err)
	default:
		return nil
	}
}
