package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tally/internal/core"
)

// Entity names the kind of document a change message describes.
type Entity string

const (
	EntityTask    Entity = "task"
	EntityExpense Entity = "expense"
)

// ChangeMessage is one document write: the document's routing parameters
// plus its state before and after. A missing or null state means the
// document did not exist on that side of the write.
type ChangeMessage struct {
	ID        string            `json:"id"`
	Entity    Entity            `json:"entity"`
	Params    map[string]string `json:"params"`
	Before    json.RawMessage   `json:"before,omitempty"`
	After     json.RawMessage   `json:"after,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewChangeMessage builds a change message with a fresh ID. A nil before or
// after is left empty.
func NewChangeMessage(entity Entity, params map[string]string, before, after any) (*ChangeMessage, error) {
	msg := &ChangeMessage{
		ID:        uuid.NewString(),
		Entity:    entity,
		Params:    params,
		Timestamp: time.Now().UTC(),
	}
	var err error
	if msg.Before, err = rawState(before); err != nil {
		return nil, fmt.Errorf("marshal before: %w", err)
	}
	if msg.After, err = rawState(after); err != nil {
		return nil, fmt.Errorf("marshal after: %w", err)
	}
	return msg, nil
}

func rawState(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON decodes a delivery body. Bodies that cannot be
// decoded, or that name an unknown entity, are malformed.
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedEvent, err)
	}
	switch msg.Entity {
	case EntityTask, EntityExpense:
	default:
		return nil, fmt.Errorf("%w: unknown entity %q", core.ErrMalformedEvent, msg.Entity)
	}
	return &msg, nil
}

// NotificationMessage is the body published to a household topic.
type NotificationMessage struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func NewNotificationMessage(topic string, n core.Notification) *NotificationMessage {
	return &NotificationMessage{
		ID:        uuid.NewString(),
		Topic:     topic,
		Title:     n.Title,
		Body:      n.Body,
		Data:      n.Data,
		Timestamp: time.Now().UTC(),
	}
}

func (m *NotificationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
