package telehealth

import (
	"context"
	"sync"
	"time"
)

// Store is the durable session record. Uniqueness of live sessions per
// appointment and compare-and-swap on state are enforced here, not by callers.
type Store interface {
	// Insert fails with ErrDuplicateSession when a non-cancelled session
	// already exists for the appointment.
	Insert(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// GetLiveByAppointment returns the non-cancelled session for an appointment.
	GetLiveByAppointment(ctx context.Context, appointmentID string) (*Session, error)
	// UpdateState applies change only if the stored state still equals
	// change.From, returning ErrStateConflict otherwise.
	UpdateState(ctx context.Context, change StateChange) (*Session, error)
	// RecordConsent sets the party's flag; the first timestamp is kept.
	// Cancelled sessions return ErrStateConflict.
	RecordConsent(ctx context.Context, id string, party Party, at time.Time) (*Session, error)
	SaveSummary(ctx context.Context, id, text string, at time.Time) error
}

// InMemoryStore is a mutex-guarded Store for development and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	// live maps appointment id to the non-cancelled session id.
	live map[string]string
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*Session),
		live:     make(map[string]string),
	}
}

func (r *InMemoryStore) Insert(ctx context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.State != StateCancelled {
		if _, exists := r.live[s.AppointmentID]; exists {
			return ErrDuplicateSession
		}
		r.live[s.AppointmentID] = s.ID
	}
	r.sessions[s.ID] = s.clone()
	return nil
}

func (r *InMemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.clone(), nil
}

func (r *InMemoryStore) GetLiveByAppointment(ctx context.Context, appointmentID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.live[appointmentID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return r.sessions[id].clone(), nil
}

func (r *InMemoryStore) UpdateState(ctx context.Context, change StateChange) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[change.SessionID]
	if !ok || s.State != change.From {
		return nil, ErrStateConflict
	}

	at := change.At
	s.State = change.To
	s.UpdatedAt = at
	switch change.To {
	case StateActive:
		if s.StartedAt == nil {
			s.StartedAt = &at
		}
	case StateEnded:
		s.EndedAt = &at
		s.EndedBy = change.By
	case StateCancelled:
		s.CancelledAt = &at
		s.CancelledBy = change.By
		s.CancellationReason = change.Reason
		delete(r.live, s.AppointmentID)
	}
	return s.clone(), nil
}

func (r *InMemoryStore) RecordConsent(ctx context.Context, id string, party Party, at time.Time) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.State == StateCancelled {
		return nil, ErrStateConflict
	}
	switch party {
	case PartyDoctor:
		if !s.ConsentDoctor {
			s.ConsentDoctor = true
			s.ConsentDoctorAt = &at
			s.UpdatedAt = at
		}
	case PartyPatient:
		if !s.ConsentPatient {
			s.ConsentPatient = true
			s.ConsentPatientAt = &at
			s.UpdatedAt = at
		}
	}
	return s.clone(), nil
}

func (r *InMemoryStore) SaveSummary(ctx context.Context, id, text string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.AISummary = text
	s.AISummaryGeneratedAt = &at
	s.UpdatedAt = at
	return nil
}
