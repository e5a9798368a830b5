// Package worker turns change messages into aggregate updates and
// household notifications.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/services"
	"tally/internal/store"
)

// EventWorker handles change messages from the aggregates queue.
type EventWorker struct {
	updater  *services.AggregateUpdater
	resolver services.HouseholdResolver
	notifier services.Dispatcher
	loc      *time.Location
	timeout  time.Duration
}

// NewEventWorker wires the worker. resolver is used to route expense
// notifications; a nil notifier disables them.
func NewEventWorker(updater *services.AggregateUpdater, resolver services.HouseholdResolver, notifier services.Dispatcher, loc *time.Location, timeout time.Duration) *EventWorker {
	if loc == nil {
		loc = time.UTC
	}
	if notifier == nil {
		notifier = services.NopDispatcher{}
	}
	return &EventWorker{
		updater:  updater,
		resolver: resolver,
		notifier: notifier,
		loc:      loc,
		timeout:  timeout,
	}
}

// HandleChange processes a single change message. The returned error
// decides whether the message is acked, rejected or redelivered.
func (w *EventWorker) HandleChange(ctx context.Context, msg *amqp.ChangeMessage) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	logger := log.Default(log.ComponentWorker).With(log.FieldEventID, msg.ID, log.FieldEntity, string(msg.Entity))
	ctx = log.WithLogger(ctx, logger)
	logger.DebugContext(ctx, "Processing change message")

	switch msg.Entity {
	case amqp.EntityTask:
		return w.handleTask(ctx, msg)
	case amqp.EntityExpense:
		return w.handleExpense(ctx, msg)
	default:
		return fmt.Errorf("%w: unknown entity %q", core.ErrMalformedEvent, msg.Entity)
	}
}

func (w *EventWorker) handleTask(ctx context.Context, msg *amqp.ChangeMessage) error {
	params, err := requireParams(msg.Params, "householdID", "memberID", "taskID")
	if err != nil {
		return err
	}
	ref := services.TaskRef{HouseholdID: params[0], MemberID: params[1], TaskID: params[2]}

	before, err := decodeState[core.Task](msg.Before)
	if err != nil {
		return fmt.Errorf("task before: %w", err)
	}
	after, err := decodeState[core.Task](msg.After)
	if err != nil {
		return fmt.Errorf("task after: %w", err)
	}
	for _, t := range []*core.Task{before, after} {
		if t != nil && t.ID == "" {
			t.ID = ref.TaskID
		}
	}

	d, err := core.NormalizeTask(before, after)
	if err != nil {
		return err
	}
	outcome, err := w.updater.ApplyTaskDelta(ctx, ref, d, msg.ID)
	if err != nil {
		return err
	}
	log.FromContext(ctx).DebugContext(ctx, "Task change handled",
		log.FieldOperation, log.OpApplyTask,
		log.FieldPath, store.TaskPath(ref.HouseholdID, ref.MemberID, ref.TaskID),
		log.FieldKind, string(d.Kind),
		log.FieldOutcome, string(outcome),
		log.FieldHouseholdID, ref.HouseholdID,
		log.FieldMemberID, ref.MemberID)
	if outcome != services.OutcomeDuplicate {
		services.Notify(ctx, w.notifier, ref.HouseholdID, services.TaskNotification(d.Kind, ref.TaskID, ref.MemberID))
	}
	return nil
}

func (w *EventWorker) handleExpense(ctx context.Context, msg *amqp.ChangeMessage) error {
	params, err := requireParams(msg.Params, "uid", "expId")
	if err != nil {
		return err
	}
	ref := services.ExpenseRef{UserID: params[0], ExpenseID: params[1]}

	before, err := decodeState[core.Expense](msg.Before)
	if err != nil {
		return fmt.Errorf("expense before: %w", err)
	}
	after, err := decodeState[core.Expense](msg.After)
	if err != nil {
		return fmt.Errorf("expense after: %w", err)
	}
	for _, e := range []*core.Expense{before, after} {
		if e == nil {
			continue
		}
		if e.ID == "" {
			e.ID = ref.ExpenseID
		}
		if e.UserID == "" {
			e.UserID = ref.UserID
		}
	}

	d, err := core.NormalizeExpense(before, after, w.loc)
	if err != nil {
		return err
	}
	outcome, err := w.updater.ApplyExpenseDelta(ctx, ref, d, msg.ID)
	if err != nil {
		return err
	}
	log.FromContext(ctx).DebugContext(ctx, "Expense change handled",
		log.FieldOperation, log.OpApplyExpense,
		log.FieldKind, string(d.Kind),
		log.FieldOutcome, string(outcome),
		log.FieldUserID, ref.UserID,
		log.FieldAmountCents, d.AmountDiff)
	if d.Kind == core.KindAdded && outcome != services.OutcomeDuplicate {
		w.notifyExpense(ctx, ref, *d.After)
	}
	return nil
}

func (w *EventWorker) notifyExpense(ctx context.Context, ref services.ExpenseRef, e core.Expense) {
	if w.resolver == nil {
		return
	}
	householdID, err := w.resolver.ResolveHousehold(ctx, ref.UserID)
	if err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Cannot route expense notification",
			log.FieldUserID, ref.UserID,
			log.FieldExpenseID, ref.ExpenseID,
			log.FieldError, err)
		return
	}
	services.Notify(ctx, w.notifier, householdID, services.ExpenseNotification(e))
}

// requireParams returns the named routing parameters in order.
func requireParams(params map[string]string, names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		v := params[name]
		if v == "" {
			return nil, fmt.Errorf("%w: missing routing parameter %q", core.ErrMalformedEvent, name)
		}
		out[i] = v
	}
	return out, nil
}

// decodeState decodes one side of a change. Empty and null mean the
// document did not exist.
func decodeState[T any](raw json.RawMessage) (*T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedEvent, err)
	}
	return &v, nil
}
