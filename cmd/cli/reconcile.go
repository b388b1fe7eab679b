package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/ledger-mirror/internal/app"
	"github.com/dvloznov/ledger-mirror/internal/feed"
)

func newReconcileCmd(opts *cliOptions) *cobra.Command {
	var (
		startDate string
		endDate   string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Fetch a window from the feed and mirror qualifying transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, log, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			window := feed.DefaultWindow(time.Now(), cfg.Reconcile.LookbackDays)
			if startDate != "" || endDate != "" {
				if startDate == "" || endDate == "" {
					return errors.New("--start-date and --end-date must be given together")
				}
				window, err = feed.ParseWindow(startDate, endDate)
				if err != nil {
					return fmt.Errorf("invalid date, expected YYYY-MM-DD: %w", err)
				}
				if window.End.Before(window.Start) {
					return errors.New("--end-date must not be before --start-date")
				}
			}

			a, err := app.Build(ctx, cfg, app.Options{DryRun: dryRun})
			if err != nil {
				return err
			}
			defer a.Close()

			if dryRun {
				log.Info().Msg("[DRY RUN] No expenses will be created or records written")
			}

			report, err := a.Engine.Reconcile(ctx, window)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}

			if report.Failed > 0 {
				return fmt.Errorf("%d transaction(s) failed", report.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&startDate, "start-date", "", "Window start, YYYY-MM-DD (default: lookback from today)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "Window end, YYYY-MM-DD (default: today)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Classify transactions without calling the ledger or writing records")
	return cmd
}
