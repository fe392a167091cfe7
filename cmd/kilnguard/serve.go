package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kilnguard/api/internal/app"
	"kilnguard/api/internal/blob"
	"kilnguard/api/internal/notify"
	"kilnguard/api/internal/search"
	"kilnguard/api/internal/store"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not apply pending migrations on start")
}

func serve(ctx context.Context) error {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if !skipMigrations {
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}

	var notifier notify.Notifier
	if strings.TrimSpace(cfg.RedisURL) != "" {
		outbox, err := notify.NewOutbox(cfg.RedisURL, cfg.OutboxKey)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer outbox.Close()
		slog.Info("notifications queued to redis outbox", "key", cfg.OutboxKey)
		notifier = outbox
	} else {
		slog.Info("notifications written to log; set REDIS_URL to queue them")
		notifier = notify.LogNotifier{Logger: slog.Default()}
	}

	service := app.New(cfg, store.NewPostgresStore(db), notifier)

	pgSearch := search.NewPgSearch(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgSearch)
	go searchService.ReindexAllFromPG(context.WithoutCancel(ctx))
	service.WithSearch(searchService)

	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		documents, err := blob.NewStore(ctx, blob.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return fmt.Errorf("document storage failed: %w", err)
		}
		service.WithDocuments(documents)
	} else {
		slog.Warn("document uploads disabled; set MINIO_ENDPOINT to enable")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("kilnguard API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}
