package main

import (
	"errors"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"kilnguard/api/internal/email"
	"kilnguard/api/internal/notify"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Deliver queued notifications by email",
	Long: `dispatch drains the Redis outbox the API writes to and mails each message
to its recipient. Messages for recipients without an address are dropped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return errors.New("REDIS_URL is required for dispatch")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		outbox, err := notify.NewOutbox(cfg.RedisURL, cfg.OutboxKey)
		if err != nil {
			return err
		}
		defer outbox.Close()

		mailer := email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})
		if !mailer.IsConfigured() {
			slog.Warn("SMTP is not configured; queued messages will be dropped")
		}
		slog.Info("dispatcher started", "key", cfg.OutboxKey)
		return notify.NewDispatcher(outbox, mailer, slog.Default()).Run(ctx)
	},
}
