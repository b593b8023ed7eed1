// Package journal
package journal

import (
	"context"
	"time"
)

// Event represents a journaled event.
type Event struct {
	Time        time.Time
	Type        string // e.g., "signal", "position", "data_integrity"
	Description string
	Data        map[string]any
}

// Event types emitted by the engine and simulator.
const (
	TypeSignal        = "signal"
	TypePosition      = "position"
	TypeDataIntegrity = "data_integrity"
)

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}
