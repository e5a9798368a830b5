package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"tally/internal/cli"
	"tally/internal/core"
	"tally/internal/store"
)

var householdsCmd = &cobra.Command{
	Use:   "households",
	Short: "List households with their task counters",
	Args:  cobra.NoArgs,
	RunE:  runHouseholds,
}

var membersCmd = &cobra.Command{
	Use:   "members <household>",
	Short: "List a household's members with their task counters",
	Args:  cobra.ExactArgs(1),
	RunE:  runMembers,
}

func init() {
	rootCmd.AddCommand(householdsCmd)
	rootCmd.AddCommand(membersCmd)
}

func runHouseholds(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	st, cleanup, err := openStore(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	rows, err := householdRows(ctx, st)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("  No households.")
		return nil
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Households",
		Headers: []string{"Household", "Members", "Tasks", "Points"},
		Rows:    rows,
	}))
	return nil
}

func runMembers(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	st, cleanup, err := openStore(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	members, err := st.ListMembers(ctx, args[0])
	if err != nil {
		return err
	}
	if len(members) == 0 {
		fmt.Printf("  No members in household %s.\n", args[0])
		return nil
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Members of " + args[0],
		Headers: []string{"Member", "Tasks", "Points", "Last completion"},
		Rows:    memberRows(members, loc),
	}))
	return nil
}

// householdRows reads each household's counters in a read-only transaction.
// A household deleted between listing and reading is skipped.
func householdRows(ctx context.Context, st store.Store) ([][]string, error) {
	ids, err := st.ListHouseholds(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		var h core.Household
		err := st.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			h, err = tx.GetHousehold(ctx, id)
			return err
		})
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read household %s: %w", id, err)
		}
		members, err := st.ListMembers(ctx, id)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []string{
			h.ID,
			strconv.Itoa(len(members)),
			strconv.FormatInt(h.TotalTasksCompleted, 10),
			strconv.FormatInt(h.TotalPoints, 10),
		})
	}
	return rows, nil
}

func memberRows(members []core.Member, loc *time.Location) [][]string {
	rows := make([][]string, 0, len(members))
	for _, m := range members {
		last := "never"
		if m.LastTaskCompleted != nil {
			last = m.LastTaskCompleted.In(loc).Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			m.ID,
			strconv.FormatInt(m.TasksCompleted, 10),
			strconv.FormatInt(m.Points, 10),
			last,
		})
	}
	return rows
}
