package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lorrc/service-desk-realtime/internal/adapters/secondary/credential"
	"github.com/lorrc/service-desk-realtime/internal/config"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string

	cfg *config.Config
}

// load reads the configuration once and applies flag overrides.
func (o *rootOptions) load() (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	o.cfg = cfg
	return cfg, nil
}

func (o *rootOptions) logger(cfg *config.Config) *slog.Logger {
	return logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stderr,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})
}

func (o *rootOptions) credentials() (ports.CredentialStore, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	store, err := credential.New(cfg.Credential)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	return store, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "deskwatch",
		Short: "Realtime help desk event client",
		Long: "deskwatch keeps a realtime connection to the service desk open, collects\n" +
			"notifications and ticket updates, and serves them to local tools.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a TOML config file (default $"+config.ConfigFileEnv+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newCheckTokenCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
