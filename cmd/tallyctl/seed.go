package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tally/internal/core"
	"tally/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create households, members, users and categories",
	Long: `Create the source documents change events are applied to.

Counters start at zero. Seeding an existing document resets its counters,
so only seed documents that do not exist yet.`,
}

// seedKind is one "seed <kind>" subcommand. apply receives the positional
// arguments already checked against len(args).
type seedKind struct {
	name  string
	args  []string
	short string
	apply func(ctx context.Context, s store.Seeder, args []string) error
}

var seedKinds = []seedKind{
	{
		name:  "household",
		args:  []string{"household"},
		short: "Create a household",
		apply: func(ctx context.Context, s store.Seeder, args []string) error {
			return s.SeedHousehold(ctx, core.Household{ID: args[0]})
		},
	},
	{
		name:  "member",
		args:  []string{"household", "member"},
		short: "Create a member and map the member's user id to the household",
		apply: func(ctx context.Context, s store.Seeder, args []string) error {
			if err := s.SeedMember(ctx, core.Member{ID: args[1], HouseholdID: args[0]}); err != nil {
				return err
			}
			return s.SeedUser(ctx, args[1], args[0])
		},
	},
	{
		name:  "user",
		args:  []string{"user", "household"},
		short: "Map a user id to a household",
		apply: func(ctx context.Context, s store.Seeder, args []string) error {
			return s.SeedUser(ctx, args[0], args[1])
		},
	},
	{
		name:  "category",
		args:  []string{"household", "category"},
		short: "Create an expense category",
		apply: func(ctx context.Context, s store.Seeder, args []string) error {
			return s.SeedCategory(ctx, core.Category{ID: args[1], HouseholdID: args[0]})
		},
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	for _, k := range seedKinds {
		use := k.name
		for _, a := range k.args {
			use += " <" + a + ">"
		}
		seedCmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: k.short,
			Args:  cobra.ExactArgs(len(k.args)),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSeed(cmd, k, args)
			},
		})
	}
}

func runSeed(cmd *cobra.Command, k seedKind, args []string) error {
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

	if err := seed(ctx, st, k, args); err != nil {
		return err
	}
	fmt.Printf("  Seeded %s %v.\n", k.name, args)
	return nil
}

func seed(ctx context.Context, s store.Seeder, k seedKind, args []string) error {
	for i, a := range args {
		if a == "" {
			return fmt.Errorf("seed %s: %s: %w", k.name, k.args[i], core.ErrEmptyIdentifier)
		}
	}
	if err := k.apply(ctx, s, args); err != nil {
		return fmt.Errorf("seed %s: %w", k.name, err)
	}
	return nil
}
