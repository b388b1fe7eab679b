package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/ledger-mirror/internal/app"
	"github.com/dvloznov/ledger-mirror/internal/domain"
)

func newInspectCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <transaction-id>",
		Short: "Print the reconciliation record for a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, _, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			records, closeStore, err := app.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			rec, err := records.Get(ctx, args[0])
			if errors.Is(err, domain.ErrRecordNotFound) {
				return fmt.Errorf("no record for transaction %s", args[0])
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}

func newForgetCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <transaction-id>",
		Short: "Delete the reconciliation record for a transaction",
		Long: "Delete the reconciliation record for a transaction so the next run treats it as new.\n" +
			"Use this after the mirrored expense was deleted in the ledger.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, log, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			records, closeStore, err := app.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			rec, err := records.Get(ctx, args[0])
			if errors.Is(err, domain.ErrRecordNotFound) {
				return fmt.Errorf("no record for transaction %s", args[0])
			}
			if err != nil {
				return err
			}

			if err := records.Delete(ctx, args[0]); err != nil {
				return err
			}

			log.Info().
				Str("transaction_id", rec.TransactionID).
				Str("expense_id", string(rec.MirrorExpenseID)).
				Msg("Deleted reconciliation record")
			fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s (expense %s)\n", rec.TransactionID, rec.MirrorExpenseID)
			return nil
		},
	}
}
