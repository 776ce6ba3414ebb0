package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"taskflow/internal/app"
	"taskflow/internal/attachments"
	"taskflow/internal/cache"
	"taskflow/internal/config"
	"taskflow/internal/notify"
	"taskflow/internal/realtime"
	"taskflow/internal/search"
	"taskflow/internal/session"
	"taskflow/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolConfig())
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", "files", applied)
	}

	dataStore := store.NewPostgresStore(db)
	opts := app.Options{Logger: logger, Cache: cache.Noop{}}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, running without cache and token revocation", "err", err)
		} else {
			defer client.Close()
			opts.Cache = cache.NewRedisCache(client, logger)
			opts.Revocations = session.NewRedisStoreWithClient(client, cfg.CachePrefix)
		}
	}

	hub := realtime.NewHub(logger)
	var pusher notify.Pusher = hub
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		relay := realtime.NewRelay(cfg.AMQPURL, hub, logger)
		go relay.Run(ctx)
		pusher = relay
		logger.Info("real-time relay enabled")
	}
	opts.Pusher = pusher

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewPgFTS(db), logger)
	opts.Search = searchService
	go searchService.ReindexAllFromPG(ctx)

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		objects, err := attachments.NewMinioStore(ctx, attachments.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		}, logger)
		if err != nil {
			logger.Error("object storage unavailable", "err", err)
			os.Exit(1)
		}
		opts.Objects = objects
	} else {
		logger.Info("attachments disabled: S3_ENDPOINT not set")
	}

	service := app.New(cfg, dataStore, opts)
	service.Start(ctx)

	httpServer := app.NewHTTPServer(service, hub, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("taskflow API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	hub.Close()
	service.Wait()
	logger.Info("taskflow API stopped")
}
