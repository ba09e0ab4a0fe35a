// Package events carries session state changes to everyone watching a session.
package events

import (
	"context"
	"time"
)

// EventType names a session state change.
type EventType string

const (
	TypeSessionCreated   EventType = "session.created"
	TypeSessionActivated EventType = "session.activated"
	TypeSessionEnded     EventType = "session.ended"
	TypeSessionCancelled EventType = "session.cancelled"
	TypeConsentRecorded  EventType = "consent.recorded"
	TypeSummaryGenerated EventType = "summary.generated"
	// TypeSessionSnapshot is sent by watchers that detected a change by polling.
	TypeSessionSnapshot EventType = "session.snapshot"
)

// SessionEvent is the payload fanned out to session watchers.
type SessionEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	SessionID     string    `json:"session_id"`
	AppointmentID string    `json:"appointment_id"`
	State         string    `json:"state"`
	Party         string    `json:"party,omitempty"`
	At            time.Time `json:"at"`
}

// Terminal reports whether the event leaves the session closed for joining.
func (e SessionEvent) Terminal() bool {
	return e.State == "ended" || e.State == "cancelled"
}

// Publisher emits session events.
type Publisher interface {
	Publish(ctx context.Context, evt SessionEvent) error
}

// Subscriber delivers events for one session until ctx is done. The returned
// channel is closed when the subscription ends.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan SessionEvent, error)
}

// Bus publishes and subscribes.
type Bus interface {
	Publisher
	Subscriber
}
