// Package telehealth owns the telemedicine session record: its state machine,
// the two-party AI consent gate, and the HTTP surface clients drive them with.
package telehealth

import "time"

// State is the lifecycle state of a session.
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateEnded     State = "ended"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateCancelled
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateActive, StateEnded, StateCancelled:
		return true
	}
	return false
}

// Party is the caller's relationship to a session's appointment.
type Party string

const (
	PartyDoctor  Party = "doctor"
	PartyPatient Party = "patient"
	PartyAdmin   Party = "admin"
)

// Session is the record governing one telemedicine call for one appointment.
type Session struct {
	ID            string `json:"id"`
	AppointmentID string `json:"appointment_id"`
	State         State  `json:"state"`
	RoomID        string `json:"room_id"`

	AISummaryEnabled     bool   `json:"ai_summary_enabled"`
	AISummaryPrompt      string `json:"ai_summary_prompt,omitempty"`
	TranscriptionEnabled bool   `json:"transcription_enabled"`

	ConsentDoctor    bool       `json:"ai_consent_doctor"`
	ConsentDoctorAt  *time.Time `json:"ai_consent_doctor_at,omitempty"`
	ConsentPatient   bool       `json:"ai_consent_patient"`
	ConsentPatientAt *time.Time `json:"ai_consent_patient_at,omitempty"`

	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        Party      `json:"cancelled_by,omitempty"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	EndedBy            Party      `json:"ended_by,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`

	// Notes is the flat free-text note attached at scheduling time.
	Notes string `json:"notes,omitempty"`

	AISummary            string     `json:"ai_summary,omitempty"`
	AISummaryGeneratedAt *time.Time `json:"ai_summary_generated_at,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasConsent reports whether party has opted in.
func (s *Session) HasConsent(party Party) bool {
	switch party {
	case PartyDoctor:
		return s.ConsentDoctor
	case PartyPatient:
		return s.ConsentPatient
	}
	return false
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.ConsentDoctorAt = cloneTime(s.ConsentDoctorAt)
	cp.ConsentPatientAt = cloneTime(s.ConsentPatientAt)
	cp.CancelledAt = cloneTime(s.CancelledAt)
	cp.EndedAt = cloneTime(s.EndedAt)
	cp.StartedAt = cloneTime(s.StartedAt)
	cp.AISummaryGeneratedAt = cloneTime(s.AISummaryGeneratedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CreateRequest opens (or returns) the session for an appointment.
type CreateRequest struct {
	AppointmentID        string `json:"appointment_id"`
	AISummaryEnabled     bool   `json:"ai_summary_enabled"`
	AISummaryPrompt      string `json:"ai_summary_prompt,omitempty"`
	TranscriptionEnabled bool   `json:"transcription_enabled"`
	// Consent records the creating clinician's AI consent.
	Consent bool   `json:"consent"`
	Notes   string `json:"notes,omitempty"`
}

// JoinTicket is what a party needs to start media negotiation.
type JoinTicket struct {
	SessionID string `json:"session_id"`
	RoomID    string `json:"room_id"`
	Party     Party  `json:"party"`
	State     State  `json:"state"`
}

// StateChange is a compare-and-swap request against the stored state.
type StateChange struct {
	SessionID string
	From      State
	To        State
	By        Party
	Reason    string
	At        time.Time
}
