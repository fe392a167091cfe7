package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kilnguard/api/internal/auth"
	"kilnguard/api/internal/store"
)

var tokenCmd = &cobra.Command{
	Use:   "token <account-id>",
	Short: "Issue a bearer token for an existing account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		account, err := store.NewPostgresStore(db).GetAccount(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("load account %s: %w", args[0], err)
		}
		token, err := auth.IssueToken([]byte(cfg.TokenSecret), auth.NewClaims(account.ID, account.Role, cfg.TokenTTL))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
