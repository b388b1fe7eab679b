package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/ledger-mirror/internal/config"
	"github.com/dvloznov/ledger-mirror/internal/logger"
)

// cliOptions are the persistent flags shared by every command.
type cliOptions struct {
	configPath string
	timeout    time.Duration
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "cli",
		Short:         "Ledger mirror CLI",
		Long:          "Run reconciliations by hand and inspect or repair reconciliation records.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&opts.configPath, "config", envOr("LEDGER_MIRROR_CONFIG", "config.toml"), "Path to the TOML config file (or set LEDGER_MIRROR_CONFIG)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Overall command timeout")

	root.AddCommand(
		newReconcileCmd(opts),
		newInspectCmd(opts),
		newForgetCmd(opts),
		newMigrateCmd(opts),
	)
	return root
}

// setup loads the config and returns a context carrying the configured
// logger and the command timeout.
func (o *cliOptions) setup(cmd *cobra.Command) (context.Context, context.CancelFunc, config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, config.Config{}, zerolog.Logger{}, err
	}

	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	ctx = logger.WithContext(ctx, log)
	return ctx, cancel, cfg, log, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
