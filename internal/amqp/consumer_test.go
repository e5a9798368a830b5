package amqp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"tally/internal/core"
)

type fakeAck struct {
	acked, rejected, requeued int
}

func (f *fakeAck) Ack(bool) error { f.acked++; return nil }

func (f *fakeAck) Reject(requeue bool) error {
	if requeue {
		f.requeued++
	} else {
		f.rejected++
	}
	return nil
}

func (f *fakeAck) Nack(_, requeue bool) error {
	if requeue {
		f.requeued++
	} else {
		f.rejected++
	}
	return nil
}

func TestDispose(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Disposition
	}{
		{"success", nil, Ack},
		{"malformed", fmt.Errorf("decode: %w", core.ErrMalformedEvent), Reject},
		{"missing target", core.MissingTarget("household/h1", nil), Reject},
		{"conflict", fmt.Errorf("%w: busy", core.ErrTransactionConflict), Requeue},
		{"deadline", context.DeadlineExceeded, Requeue},
		{"unknown", errors.New("boom"), Requeue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Dispose(tt.err); got != tt.want {
				t.Errorf("Dispose(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestHandleDelivery(t *testing.T) {
	valid := []byte(`{"id":"m1","entity":"task","params":{"householdID":"h1","memberID":"m1","taskID":"t1"},"after":{"id":"t1"}}`)

	tests := []struct {
		name       string
		body       []byte
		handlerErr error
		want       Disposition
	}{
		{"handled", valid, nil, Ack},
		{"undecodable", []byte(`{`), nil, Reject},
		{"missing target", valid, core.MissingTarget("household/h1/members/m1", map[string]string{"memberID": "m1"}), Reject},
		{"conflict", valid, core.ErrTransactionConflict, Requeue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(Config{Exchange: "tally.changes", Queue: "tally.aggregates"})
			ack := &fakeAck{}
			called := 0
			handler := func(_ context.Context, msg *ChangeMessage) error {
				called++
				if msg.Entity != EntityTask {
					t.Errorf("entity = %s", msg.Entity)
				}
				return tt.handlerErr
			}

			got := c.handleDelivery(context.Background(), tt.body, ack, handler)
			if got != tt.want {
				t.Fatalf("disposition = %s, want %s", got, tt.want)
			}
			switch tt.want {
			case Ack:
				if ack.acked != 1 {
					t.Errorf("acked = %d", ack.acked)
				}
			case Reject:
				if ack.rejected != 1 || ack.requeued != 0 {
					t.Errorf("rejected = %d, requeued = %d", ack.rejected, ack.requeued)
				}
			case Requeue:
				if ack.requeued != 1 {
					t.Errorf("requeued = %d", ack.requeued)
				}
			}
			if tt.name == "undecodable" && called != 0 {
				t.Error("handler called for an undecodable body")
			}
		})
	}
}
