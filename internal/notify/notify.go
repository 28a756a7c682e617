// Package notify delivers best-effort messages to event members. Callers
// invoke it only after their transaction has committed.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Notification types sent by the engine.
const (
	EventConfirming      = "event.confirming"
	EventFrozen          = "event.frozen"
	EventCompleted       = "event.completed"
	ConflictAcknowledged = "conflict.acknowledged"
)

// Notifier sends one message to one person.
type Notifier interface {
	Notify(ctx context.Context, personID, eventType string, metadata map[string]any) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, personID, eventType string, metadata map[string]any) error

func (f Func) Notify(ctx context.Context, personID, eventType string, metadata map[string]any) error {
	return f(ctx, personID, eventType, metadata)
}

// Nop drops every message.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, map[string]any) error { return nil }

// Log writes each message to a zerolog logger.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Notify(_ context.Context, personID, eventType string, metadata map[string]any) error {
	l.Logger.Info().
		Str("person_id", personID).
		Str("type", eventType).
		Fields(metadata).
		Msg("notify")
	return nil
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, personID, eventType string, metadata map[string]any) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, personID, eventType, metadata); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
