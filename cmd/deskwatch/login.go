package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lorrc/service-desk-realtime/internal/adapters/primary/validation"
	"github.com/lorrc/service-desk-realtime/internal/adapters/secondary/restapi"
	"github.com/lorrc/service-desk-realtime/internal/auth"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/clock"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var (
		email         string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the service desk and store the token",
		Long: "Exchange email and password for a bearer token through the REST API and\n" +
			"store it in the configured credential backend.",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := validation.NewValidator().Required("email", email).Email("email", email)
			if v.HasErrors() {
				return fmt.Errorf("invalid --email: %s", strings.Join(v.Errors().Errors["email"], "; "))
			}

			password, err := readPassword(cmd, passwordStdin)
			if err != nil {
				return err
			}

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := opts.logger(cfg)

			client := restapi.NewClient(restapi.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout}, logger)
			token, err := client.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			check := auth.NewTokenValidator(clock.Real()).Validate(token)
			if !check.Valid {
				return fmt.Errorf("server returned an unusable token: %s", check.Reason)
			}

			store, err := opts.credentials()
			if err != nil {
				return err
			}
			if err := store.Save(cmd.Context(), token); err != nil {
				return fmt.Errorf("failed to store token: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", check.Subject)
			if !check.ExpiresAt.IsZero() {
				fmt.Fprintf(cmd.OutOrStdout(), "Token expires %s\n", check.ExpiresAt.Format("2006-01-02 15:04 MST"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email address")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from standard input")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// readPassword prompts on the terminal with echo disabled, or reads one
// line from stdin when asked to.
func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	if fromStdin {
		return readPasswordLine(cmd.InOrStdin())
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal available for the password prompt (use --password-stdin)")
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(password) == 0 {
		return "", fmt.Errorf("password is empty")
	}
	return string(password), nil
}

func readPasswordLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("password is empty")
	}
	return password, nil
}
