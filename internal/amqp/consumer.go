package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tally/internal/core"
	"tally/internal/log"
)

// Handler processes one decoded change message.
type Handler func(ctx context.Context, msg *ChangeMessage) error

// Disposition is what the consumer does with a delivery after handling it.
type Disposition int

const (
	// Ack removes the message.
	Ack Disposition = iota
	// Reject drops the message, or dead-letters it when the queue has a
	// dead-letter exchange.
	Reject
	// Requeue returns the message for redelivery.
	Requeue
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Reject:
		return "reject"
	case Requeue:
		return "requeue"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// Dispose maps a handler result to a delivery disposition. Errors that
// redelivery cannot fix are rejected; everything else is requeued.
func Dispose(err error) Disposition {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, core.ErrMalformedEvent), errors.Is(err, core.ErrMissingAggregateTarget):
		return Reject
	default:
		return Requeue
	}
}

// acknowledger is the subset of amqp091.Delivery the consumer settles with.
type acknowledger interface {
	Ack(multiple bool) error
	Reject(requeue bool) error
	Nack(multiple, requeue bool) error
}

// Consume delivers change messages to handler until ctx ends, reconnecting
// whenever the broker drops the connection.
func (c *Client) Consume(ctx context.Context, handler Handler) error {
	for {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Stopping message consumption", "component", "amqp", "reason", ctx.Err())
			return ctx.Err()
		}
		c.recordFailure()
		slog.ErrorContext(ctx, "Consumer interrupted", "component", "amqp", "queue", c.queueName, "error", err)
		if err := c.reconnect(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) consumeOnce(ctx context.Context, handler Handler) error {
	ch, err := c.currentChannel()
	if err != nil {
		return err
	}
	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming change messages", "component", "amqp", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.handleDelivery(ctx, delivery.Body, delivery, handler)
		}
	}
}

// handleDelivery decodes, handles and settles one delivery. It returns the
// disposition applied.
func (c *Client) handleDelivery(ctx context.Context, body []byte, ack acknowledger, handler Handler) Disposition {
	msg, err := ChangeMessageFromJSON(body)
	if err != nil {
		slog.ErrorContext(ctx, "Dropping undecodable message", "component", "amqp", "error", err)
		settle(ctx, ack, Reject)
		return Reject
	}

	err = handler(ctx, msg)
	disposition := Dispose(err)

	fields := log.NewFields().
		WithComponent(log.ComponentAMQP).
		WithEvent(msg.ID, string(msg.Entity))
	fields["disposition"] = disposition.String()
	switch {
	case err == nil:
		slog.DebugContext(ctx, "Processed change message", fields.ToSlice()...)
	case disposition == Reject:
		var target *core.TargetError
		if errors.As(err, &target) {
			fields.WithTarget(target.Path, target.Params)
		} else {
			fields.WithTarget("", msg.Params)
		}
		fields[log.FieldErrorType] = errorType(err)
		slog.ErrorContext(ctx, "Rejected change message", fields.WithError(err).ToSlice()...)
	default:
		fields[log.FieldErrorType] = errorType(err)
		slog.WarnContext(ctx, "Change message will be redelivered", fields.WithError(err).ToSlice()...)
	}

	settle(ctx, ack, disposition)
	return disposition
}

func settle(ctx context.Context, ack acknowledger, d Disposition) {
	var err error
	switch d {
	case Ack:
		err = ack.Ack(false)
	case Reject:
		err = ack.Reject(false)
	default:
		err = ack.Nack(false, true)
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to settle delivery", "component", "amqp", "disposition", d.String(), "error", err)
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, core.ErrMalformedEvent):
		return log.ErrorTypeMalformed
	case errors.Is(err, core.ErrMissingAggregateTarget):
		return log.ErrorTypeMissingTarget
	case errors.Is(err, core.ErrTransactionConflict):
		return log.ErrorTypeConflict
	case errors.Is(err, context.DeadlineExceeded):
		return log.ErrorTypeTimeout
	case isConnectionError(err):
		return log.ErrorTypeNetwork
	default:
		return log.ErrorTypeInternal
	}
}
