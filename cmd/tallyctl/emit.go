package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"tally/internal/amqp"
)

var (
	flagEmitParams map[string]string
	flagEmitBefore string
	flagEmitAfter  string
)

var emitCmd = &cobra.Command{
	Use:   "emit <task|expense>",
	Short: "Publish a change event to AMQP_EXCHANGE",
	Long: "Publish a document change for the workers to apply. Routing parameters " +
		"go in --param (householdID, memberID, taskID for tasks; uid, expId for expenses). " +
		"Omit --before for a create and --after for a delete.",
	Example: `  tallyctl emit task --param householdID=h1 --param memberID=m1 --param taskID=t1 \
    --before '{"done":false,"points":3}' --after '{"done":true,"points":3}'`,
	Args: cobra.ExactArgs(1),
	RunE: runEmit,
}

func init() {
	emitCmd.Flags().StringToStringVar(&flagEmitParams, "param", nil, "Routing parameter key=value (repeatable)")
	emitCmd.Flags().StringVar(&flagEmitBefore, "before", "", "Document state before the write (JSON)")
	emitCmd.Flags().StringVar(&flagEmitAfter, "after", "", "Document state after the write (JSON)")
	rootCmd.AddCommand(emitCmd)
}

func runEmit(cmd *cobra.Command, args []string) error {
	entity := amqp.Entity(args[0])
	if entity != amqp.EntityTask && entity != amqp.EntityExpense {
		return fmt.Errorf("unknown entity %q, want task or expense", args[0])
	}
	before, err := stateFlag("before", flagEmitBefore)
	if err != nil {
		return err
	}
	after, err := stateFlag("after", flagEmitAfter)
	if err != nil {
		return err
	}

	msg, err := amqp.NewChangeMessage(entity, flagEmitParams, before, after)
	if err != nil {
		return err
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	client, err := amqp.Dial(amqp.Config{URL: cfg.AMQPURL, Exchange: cfg.AMQPExchange})
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	if err := client.PublishChange(ctx, msg); err != nil {
		return err
	}
	logger.Info("Change event published", "event_id", msg.ID, "entity", string(entity), "exchange", cfg.AMQPExchange)
	fmt.Println(msg.ID)
	return nil
}

// stateFlag validates a JSON document flag. Empty means the document is absent.
func stateFlag(name, value string) (any, error) {
	if value == "" {
		return nil, nil
	}
	if !json.Valid([]byte(value)) {
		return nil, fmt.Errorf("--%s is not valid JSON", name)
	}
	return json.RawMessage(value), nil
}
