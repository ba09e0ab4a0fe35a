// Package compliance records an append-only audit trail for session decisions
// that matter clinically: consent, cancellation, and AI summary generation.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the type of compliance event.
type AuditEventType string

const (
	// EventConsentRecorded is logged when a party opts in to AI processing.
	EventConsentRecorded AuditEventType = "compliance.consent_recorded"
	// EventSessionCancelled is logged when a party cancels a session.
	EventSessionCancelled AuditEventType = "compliance.session_cancelled"
	// EventSummaryGenerated is logged when an AI summary is produced for a session.
	EventSummaryGenerated AuditEventType = "compliance.summary_generated"
)

// AuditEvent represents an immutable compliance audit record.
type AuditEvent struct {
	ID            string          `json:"id"`
	EventType     AuditEventType  `json:"event_type"`
	SessionID     string          `json:"session_id"`
	AppointmentID string          `json:"appointment_id,omitempty"`
	ActorID       string          `json:"actor_id,omitempty"`
	Party         string          `json:"party,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details. Summary text and transcript
// content are never stored here.
type AuditDetails struct {
	// For cancellation
	Reason string `json:"reason,omitempty"`

	// For summary generation
	Model         string   `json:"model,omitempty"`
	AIEnabled     bool     `json:"ai_enabled,omitempty"`
	SegmentCount  int      `json:"segment_count,omitempty"`
	ChatCount     int      `json:"chat_count,omitempty"`
	HadNotes      bool     `json:"had_notes,omitempty"`
	FlaggedCount  int      `json:"flagged_count,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	ConsentBefore bool     `json:"consent_before,omitempty"`
}

// AuditService handles compliance audit logging.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records a compliance audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if s == nil || s.db == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO compliance_audit_events (
			id, event_type, session_id, appointment_id, actor_id, party, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.SessionID,
		nullString(event.AppointmentID),
		nullString(event.ActorID),
		nullString(event.Party),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}

	return nil
}

// LogConsentRecorded logs a party's AI consent.
func (s *AuditService) LogConsentRecorded(ctx context.Context, sessionID, appointmentID, actorID, party string) error {
	return s.LogEvent(ctx, AuditEvent{
		EventType:     EventConsentRecorded,
		SessionID:     sessionID,
		AppointmentID: appointmentID,
		ActorID:       actorID,
		Party:         party,
	})
}

// LogSessionCancelled logs who cancelled a session and why.
func (s *AuditService) LogSessionCancelled(ctx context.Context, sessionID, appointmentID, actorID, party, reason string) error {
	detailsJSON, _ := json.Marshal(AuditDetails{Reason: reason})

	return s.LogEvent(ctx, AuditEvent{
		EventType:     EventSessionCancelled,
		SessionID:     sessionID,
		AppointmentID: appointmentID,
		ActorID:       actorID,
		Party:         party,
		Details:       detailsJSON,
	})
}

// LogSummaryGenerated logs the shape of a generated summary without its content.
func (s *AuditService) LogSummaryGenerated(ctx context.Context, sessionID, appointmentID, actorID string, details AuditDetails) error {
	detailsJSON, _ := json.Marshal(details)

	return s.LogEvent(ctx, AuditEvent{
		EventType:     EventSummaryGenerated,
		SessionID:     sessionID,
		AppointmentID: appointmentID,
		ActorID:       actorID,
		Details:       detailsJSON,
	})
}

// QueryEvents retrieves audit events with filters.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, session_id, appointment_id, actor_id, party, details, created_at
		FROM compliance_audit_events
		WHERE session_id = $1
	`
	args := []interface{}{filter.SessionID}
	argIdx := 2

	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var apptID, actorID, party sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.SessionID, &apptID, &actorID, &party, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.AppointmentID = apptID.String
		e.ActorID = actorID.String
		e.Party = party.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	SessionID string
	EventType AuditEventType
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
