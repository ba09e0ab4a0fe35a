package appointments

import "time"

// Appointment is the scheduling record a telemedicine session hangs off.
// Only the fields the session core needs are loaded.
type Appointment struct {
	ID          string    `json:"id"`
	ClinicianID string    `json:"clinician_id"`
	PatientID   string    `json:"patient_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Status      string    `json:"status"`
}
