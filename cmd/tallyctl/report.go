package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tally/internal/cli"
	"tally/internal/core"
	"tally/internal/store"
)

var flagReportJSON bool

var reportCmd = &cobra.Command{
	Use:   "report <household> [month]",
	Short: "Show a stored monthly report",
	Long:  "Print the monthly report for a household. The month defaults to the previous one.",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&flagReportJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(reportCmd)
}

// reportJSON is the JSON shape printed by report --json.
type reportJSON struct {
	HouseholdID    string                `json:"householdId"`
	Month          core.MonthKey         `json:"month"`
	TotalExpenses  core.Money            `json:"totalExpenses"`
	CategoryTotals map[string]core.Money `json:"categoryTotals"`
	GeneratedAt    time.Time             `json:"generatedAt"`
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	householdID := args[0]
	month, _, _ := core.PreviousMonth(time.Now(), loc)
	if len(args) == 2 {
		if month, err = core.ParseMonthKey(args[1]); err != nil {
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

	report, err := st.GetMonthlyReport(ctx, householdID, month)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no report for household %s in %s", householdID, month)
	}
	if err != nil {
		return err
	}

	if flagReportJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reportJSON{
			HouseholdID:    report.HouseholdID,
			Month:          report.Month,
			TotalExpenses:  report.TotalExpenses,
			CategoryTotals: report.CategoryTotals,
			GeneratedAt:    report.GeneratedAt,
		})
	}

	fmt.Print(cli.RenderTable(cli.ReportTable(report)))
	fmt.Printf("  generated %s\n", report.GeneratedAt.In(loc).Format(time.RFC3339))
	return nil
}
