package appointments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory reads appointments from the clinic database.
type PostgresDirectory struct {
	pool queryRower
}

// NewPostgresDirectory initializes a directory backed by pgxpool.
func NewPostgresDirectory(pool queryRower) *PostgresDirectory {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &PostgresDirectory{pool: pool}
}

// Get fetches one appointment by id.
func (d *PostgresDirectory) Get(ctx context.Context, id string) (*Appointment, error) {
	query := `
		SELECT id, clinician_id, patient_id, scheduled_at, status
		FROM appointments
		WHERE id = $1
	`
	var appt Appointment
	if err := d.pool.QueryRow(ctx, query, id).Scan(
		&appt.ID,
		&appt.ClinicianID,
		&appt.PatientID,
		&appt.ScheduledAt,
		&appt.Status,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("appointments: select failed: %w", err)
	}
	return &appt, nil
}
