package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tally/internal/backend"
	"tally/internal/cli"
	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/sheets"
)

var exportsCmd = &cobra.Command{
	Use:   "exports <month>",
	Short: "List reports mirrored to the spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE:  runExports,
}

func init() {
	rootCmd.AddCommand(exportsCmd)
}

func runExports(cmd *cobra.Command, args []string) error {
	month, err := core.ParseMonthKey(args[0])
	if err != nil {
		return err
	}
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	exporter, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateExporter(ctx, bcfg)
	if err != nil {
		return err
	}
	if exporter == nil {
		return errors.New("report export is not configured (GOOGLE_SPREADSHEET_ID)")
	}
	lister, ok := exporter.(sheets.ReportLister)
	if !ok {
		return errors.New("configured exporter cannot list reports")
	}

	reports, err := lister.ListReports(ctx, month)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Printf("  No mirrored reports for %s.\n", month.Label())
		return nil
	}

	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		rows = append(rows, []string{r.HouseholdID, r.TotalExpenses.Format(), strconv.Itoa(len(r.CategoryTotals))})
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Mirrored reports " + month.Label(),
		Headers: []string{"Household", "Total", "Categories"},
		Rows:    rows,
	}))
	return nil
}
