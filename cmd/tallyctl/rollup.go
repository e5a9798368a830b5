package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"tally/internal/backend"
	"tally/internal/cli"
	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/services"
)

var (
	flagRollupMonth  string
	flagRollupNotify bool
)

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Write monthly reports for every household",
	Long: "Roll up one calendar month for every household. Defaults to the month " +
		"before now in TIMEZONE. Rerunning a month replaces its reports.",
	Args: cobra.NoArgs,
	RunE: runRollup,
}

func init() {
	rollupCmd.Flags().StringVar(&flagRollupMonth, "month", "", "Month to roll up (YYYY-MM)")
	rollupCmd.Flags().BoolVar(&flagRollupNotify, "notify", false, "Publish monthly notifications to NOTIFY_EXCHANGE")
	rootCmd.AddCommand(rollupCmd)
}

func runRollup(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	now := time.Now()
	month, _, _ := core.PreviousMonth(now, loc)
	if flagRollupMonth != "" {
		if month, err = core.ParseMonthKey(flagRollupMonth); err != nil {
			return err
		}
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	st, cleanup, err := openStore(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := []services.CompactorOption{
		services.WithLocation(loc),
		services.WithConcurrency(cfg.RollupConcurrency),
	}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	exporter, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateExporter(ctx, bcfg)
	if err != nil {
		logger.Warn("Report export disabled", "error", err)
	} else if exporter != nil {
		opts = append(opts, services.WithExporter(exporter))
	}

	if flagRollupNotify {
		notifier, closeNotifier, err := dialNotifier(cfg)
		if err != nil {
			logger.Warn("Notifications disabled", "error", err)
		} else {
			defer closeNotifier()
			opts = append(opts, services.WithNotifier(notifier))
		}
	}

	result, runErr := services.NewMonthlyCompactor(st, opts...).RunMonth(ctx, month, now)

	rows := make([][]string, 0, len(result.Reports)+len(result.Failures))
	for _, r := range result.Reports {
		rows = append(rows, []string{r.HouseholdID, r.TotalExpenses.Format(), strconv.Itoa(len(r.CategoryTotals)), "written"})
	}
	for _, f := range result.Failures {
		rows = append(rows, []string{f.HouseholdID, "", "", "failed: " + f.Err.Error()})
	}
	if len(rows) > 0 {
		fmt.Print(cli.RenderTable(cli.Table{
			Title:   "Rollup " + month.Label(),
			Headers: []string{"Household", "Total", "Categories", "Status"},
			Rows:    rows,
		}))
	} else if runErr == nil {
		fmt.Println("  No households.")
	}

	var partial *core.PartialScanError
	if errors.As(runErr, &partial) {
		return fmt.Errorf("%d of %d households failed for %s", len(partial.Failures), len(rows), month)
	}
	return runErr
}
