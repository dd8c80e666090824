package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lorrc/service-desk-realtime/internal/auth"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/clock"
	"github.com/spf13/cobra"
)

func newCheckTokenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-token [token]",
		Short: "Check a token the way the client does before connecting",
		Long: "Decode a token and report its subject and expiry. Without an argument the\n" +
			"stored token is checked. The signature is not verified.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = strings.TrimSpace(args[0])
			} else {
				store, err := opts.credentials()
				if err != nil {
					return err
				}
				token, err = store.Load(cmd.Context())
				if errors.Is(err, apperrors.ErrNoCredential) {
					return fmt.Errorf("no token stored; run 'deskwatch login' first")
				}
				if err != nil {
					return fmt.Errorf("failed to read token: %w", err)
				}
			}

			check := auth.NewTokenValidator(clock.Real()).Validate(token)
			if !check.Valid {
				return fmt.Errorf("invalid token: %s", check.Reason)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Token is valid")
			fmt.Fprintf(out, "  Subject: %s\n", check.Subject)
			if check.ExpiresAt.IsZero() {
				fmt.Fprintln(out, "  Expires: never")
			} else {
				fmt.Fprintf(out, "  Expires: %s\n", check.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"))
			}
			return nil
		},
	}
}
