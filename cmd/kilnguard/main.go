// Command kilnguard runs the kiln permit API and its support tasks.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"kilnguard/api/internal/config"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "kilnguard",
	Short: "Kiln burning permits, appointments and emission monitoring",
	Long: `kilnguard serves the permit workflow API and runs its maintenance tasks.

Examples:
  kilnguard serve                 # Run the HTTP API
  kilnguard migrate up            # Apply pending migrations
  kilnguard dispatch              # Deliver queued notifications by email
  kilnguard token acct_123        # Issue a bearer token for an account`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	},
}

func init() {
	cfg = config.Load()
	rootCmd.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL connection string")
	rootCmd.PersistentFlags().StringVar(&cfg.MigrationsDir, "migrations-dir", cfg.MigrationsDir, "Directory holding .up.sql/.down.sql files")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}
