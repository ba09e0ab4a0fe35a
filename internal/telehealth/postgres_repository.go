package telehealth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type sessionQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists sessions in telemedicine_sessions. The partial unique
// index on appointment_id (state <> 'cancelled') arbitrates concurrent creates.
type PostgresStore struct {
	pool sessionQuerier
}

// NewPostgresStore initializes a store backed by pgxpool.
func NewPostgresStore(pool sessionQuerier) *PostgresStore {
	if pool == nil {
		panic("telehealth: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

const sessionColumns = `
	id, appointment_id, state, room_id,
	ai_summary_enabled, ai_summary_prompt, transcription_enabled,
	ai_consent_doctor, ai_consent_doctor_at, ai_consent_patient, ai_consent_patient_at,
	cancellation_reason, cancelled_at, cancelled_by, ended_at, ended_by, started_at,
	notes, ai_summary, ai_summary_generated_at, created_by, created_at, updated_at`

func (r *PostgresStore) Insert(ctx context.Context, s *Session) error {
	query := `
		INSERT INTO telemedicine_sessions (
			id, appointment_id, state, room_id,
			ai_summary_enabled, ai_summary_prompt, transcription_enabled,
			ai_consent_doctor, ai_consent_doctor_at, notes, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`
	_, err := r.pool.Exec(ctx, query,
		s.ID,
		s.AppointmentID,
		string(s.State),
		s.RoomID,
		s.AISummaryEnabled,
		nullString(s.AISummaryPrompt),
		s.TranscriptionEnabled,
		s.ConsentDoctor,
		nullTime(s.ConsentDoctorAt),
		nullString(s.Notes),
		s.CreatedBy,
		s.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateSession
		}
		return fmt.Errorf("telehealth: insert session: %w", err)
	}
	return nil
}

func (r *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM telemedicine_sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("telehealth: get session: %w", err)
	}
	return s, nil
}

func (r *PostgresStore) GetLiveByAppointment(ctx context.Context, appointmentID string) (*Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM telemedicine_sessions
		WHERE appointment_id = $1 AND state <> 'cancelled'`
	s, err := scanSession(r.pool.QueryRow(ctx, query, appointmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("telehealth: get live session: %w", err)
	}
	return s, nil
}

func (r *PostgresStore) UpdateState(ctx context.Context, change StateChange) (*Session, error) {
	var query string
	args := []any{change.SessionID, string(change.From), string(change.To), change.At}
	switch change.To {
	case StateActive:
		query = `
			UPDATE telemedicine_sessions
			SET state = $3, started_at = COALESCE(started_at, $4), updated_at = $4
			WHERE id = $1 AND state = $2
			RETURNING ` + sessionColumns
	case StateEnded:
		query = `
			UPDATE telemedicine_sessions
			SET state = $3, ended_at = $4, ended_by = $5, updated_at = $4
			WHERE id = $1 AND state = $2
			RETURNING ` + sessionColumns
		args = append(args, string(change.By))
	case StateCancelled:
		query = `
			UPDATE telemedicine_sessions
			SET state = $3, cancelled_at = $4, cancelled_by = $5, cancellation_reason = $6, updated_at = $4
			WHERE id = $1 AND state = $2
			RETURNING ` + sessionColumns
		args = append(args, string(change.By), nullString(change.Reason))
	default:
		return nil, fmt.Errorf("%w: cannot store state %q", ErrInvalidState, change.To)
	}

	s, err := scanSession(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStateConflict
		}
		return nil, fmt.Errorf("telehealth: update state: %w", err)
	}
	return s, nil
}

func (r *PostgresStore) RecordConsent(ctx context.Context, id string, party Party, at time.Time) (*Session, error) {
	var query string
	switch party {
	case PartyDoctor:
		query = `
			UPDATE telemedicine_sessions
			SET ai_consent_doctor = TRUE,
				ai_consent_doctor_at = COALESCE(ai_consent_doctor_at, $2),
				updated_at = $2
			WHERE id = $1 AND state <> 'cancelled'
			RETURNING ` + sessionColumns
	case PartyPatient:
		query = `
			UPDATE telemedicine_sessions
			SET ai_consent_patient = TRUE,
				ai_consent_patient_at = COALESCE(ai_consent_patient_at, $2),
				updated_at = $2
			WHERE id = $1 AND state <> 'cancelled'
			RETURNING ` + sessionColumns
	default:
		return nil, fmt.Errorf("%w: %s cannot consent", ErrForbidden, party)
	}

	s, err := scanSession(r.pool.QueryRow(ctx, query, id, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStateConflict
		}
		return nil, fmt.Errorf("telehealth: record consent: %w", err)
	}
	return s, nil
}

func (r *PostgresStore) SaveSummary(ctx context.Context, id, text string, at time.Time) error {
	query := `
		UPDATE telemedicine_sessions
		SET ai_summary = $2, ai_summary_generated_at = $3, updated_at = $3
		WHERE id = $1
	`
	ct, err := r.pool.Exec(ctx, query, id, text, at)
	if err != nil {
		return fmt.Errorf("telehealth: save summary: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var (
		s                                         Session
		state                                     string
		prompt, reason, cancelledBy, endedBy      sql.NullString
		notes, summary                            sql.NullString
		doctorAt, patientAt, cancelledAt, endedAt sql.NullTime
		startedAt, generatedAt                    sql.NullTime
	)
	if err := row.Scan(
		&s.ID, &s.AppointmentID, &state, &s.RoomID,
		&s.AISummaryEnabled, &prompt, &s.TranscriptionEnabled,
		&s.ConsentDoctor, &doctorAt, &s.ConsentPatient, &patientAt,
		&reason, &cancelledAt, &cancelledBy, &endedAt, &endedBy, &startedAt,
		&notes, &summary, &generatedAt, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.State = State(state)
	s.AISummaryPrompt = prompt.String
	s.CancellationReason = reason.String
	s.CancelledBy = Party(cancelledBy.String)
	s.EndedBy = Party(endedBy.String)
	s.Notes = notes.String
	s.AISummary = summary.String
	s.ConsentDoctorAt = timePtr(doctorAt)
	s.ConsentPatientAt = timePtr(patientAt)
	s.CancelledAt = timePtr(cancelledAt)
	s.EndedAt = timePtr(endedAt)
	s.StartedAt = timePtr(startedAt)
	s.AISummaryGeneratedAt = timePtr(generatedAt)
	return &s, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
