package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/ledger-mirror/internal/config"
	"github.com/dvloznov/ledger-mirror/internal/store/bqstore"
)

func newMigrateCmd(opts *cliOptions) *cobra.Command {
	var appliedBy string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending BigQuery schema migrations for the record store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, log, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			if cfg.Store.Backend != config.StoreBigQuery {
				return errors.New("migrate only applies to the bigquery store backend")
			}

			records, err := bqstore.New(ctx, cfg.Store.Project, cfg.Store.Dataset)
			if err != nil {
				return fmt.Errorf("creating BigQuery client: %w", err)
			}
			defer records.Close()

			log.Info().
				Str("project", cfg.Store.Project).
				Str("dataset", cfg.Store.Dataset).
				Msg("Connected to BigQuery")

			applied, err := bqstore.Migrate(ctx, records.Client(), cfg.Store.Project, cfg.Store.Dataset, appliedBy)
			if err != nil {
				return err
			}

			if applied == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No new migrations to apply. Database is up to date.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Successfully applied %d migration(s)\n", applied)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&appliedBy, "applied-by", "ledger-mirror-cli", "Name recorded in schema_migrations")
	return cmd
}
