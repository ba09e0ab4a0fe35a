package telehealth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/medspa-telehealth/internal/appointments"
	"github.com/wolfman30/medspa-telehealth/internal/events"
	"github.com/wolfman30/medspa-telehealth/internal/identity"
	"github.com/wolfman30/medspa-telehealth/internal/observability/metrics"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("medspa.internal.telehealth")

// Auditor records compliance-relevant session decisions.
type Auditor interface {
	LogConsentRecorded(ctx context.Context, sessionID, appointmentID, actorID, party string) error
	LogSessionCancelled(ctx context.Context, sessionID, appointmentID, actorID, party, reason string) error
}

// Manager is the session state machine. All state it relies on lives in the
// Store; it holds no per-session locks.
type Manager struct {
	store        Store
	appointments appointments.Directory
	publisher    events.Publisher
	auditor      Auditor
	metrics      *metrics.TelehealthMetrics
	logger       *logging.Logger
	now          func() time.Time
}

// NewManager wires a manager over a store and the appointment directory.
func NewManager(store Store, dir appointments.Directory, logger *logging.Logger) *Manager {
	if store == nil || dir == nil {
		panic("telehealth: store and appointment directory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		store:        store,
		appointments: dir,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (m *Manager) WithPublisher(p events.Publisher) *Manager {
	m.publisher = p
	return m
}

func (m *Manager) WithAuditor(a Auditor) *Manager {
	m.auditor = a
	return m
}

func (m *Manager) WithMetrics(mt *metrics.TelehealthMetrics) *Manager {
	m.metrics = mt
	return m
}

// Store exposes the underlying store for collaborators that write back
// through it (summary persistence).
func (m *Manager) Store() Store {
	return m.store
}

// Create returns the live session for the appointment, creating it when none
// exists. The boolean reports whether this call created it.
func (m *Manager) Create(ctx context.Context, caller identity.Caller, req CreateRequest) (*Session, bool, error) {
	ctx, span := tracer.Start(ctx, "telehealth.create")
	defer span.End()
	span.SetAttributes(attribute.String("appointment.id", req.AppointmentID))

	if caller.UserID == "" {
		return nil, false, ErrUnauthenticated
	}
	if !caller.IsStaff() {
		return nil, false, ErrForbidden
	}
	if !caller.InScope(req.AppointmentID) {
		return nil, false, appointments.ErrAppointmentNotFound
	}
	appt, err := m.appointments.Get(ctx, req.AppointmentID)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	party, ok := partyFor(caller, appt)
	if !ok {
		return nil, false, appointments.ErrAppointmentNotFound
	}
	if party == PartyPatient {
		return nil, false, ErrForbidden
	}

	existing, err := m.store.GetLiveByAppointment(ctx, appt.ID)
	switch {
	case err == nil:
		existing, err = m.consentOnCreate(ctx, caller, existing, party, req.Consent)
		return existing, false, err
	case !errors.Is(err, ErrSessionNotFound):
		span.RecordError(err)
		return nil, false, err
	}

	now := m.now()
	session := &Session{
		ID:                   uuid.New().String(),
		AppointmentID:        appt.ID,
		State:                StatePending,
		RoomID:               "room-" + uuid.New().String(),
		AISummaryEnabled:     req.AISummaryEnabled,
		AISummaryPrompt:      req.AISummaryPrompt,
		TranscriptionEnabled: req.TranscriptionEnabled,
		Notes:                req.Notes,
		CreatedBy:            caller.UserID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if req.Consent && party == PartyDoctor {
		session.ConsentDoctor = true
		session.ConsentDoctorAt = &now
	}

	if err := m.store.Insert(ctx, session); err != nil {
		if !errors.Is(err, ErrDuplicateSession) {
			span.RecordError(err)
			return nil, false, err
		}
		// Another request won the race; its row is the session.
		m.metrics.ObserveCreateReconciled()
		winner, err := m.store.GetLiveByAppointment(ctx, appt.ID)
		if err != nil {
			return nil, false, fmt.Errorf("telehealth: re-read after conflict: %w", err)
		}
		winner, err = m.consentOnCreate(ctx, caller, winner, party, req.Consent)
		return winner, false, err
	}

	span.SetAttributes(attribute.String("session.id", session.ID))
	m.logger.Info("telehealth session created", "session_id", session.ID, "appointment_id", appt.ID)
	m.publish(ctx, session, events.TypeSessionCreated, party)
	return session, true, nil
}

func (m *Manager) consentOnCreate(ctx context.Context, caller identity.Caller, s *Session, party Party, consent bool) (*Session, error) {
	if !consent || party != PartyDoctor || s.ConsentDoctor {
		return s, nil
	}
	return m.applyConsent(ctx, caller, s, party)
}

// Get returns the session if the caller is a party to it.
func (m *Manager) Get(ctx context.Context, caller identity.Caller, id string) (*Session, Party, error) {
	s, _, party, err := m.resolve(ctx, caller, id)
	if err != nil {
		return nil, "", err
	}
	return s, party, nil
}

// GetByAppointment returns the live session for an appointment. This is how a
// patient-link holder, who only knows the appointment, reaches the session.
// Non-parties and appointments without a live session both get
// ErrSessionNotFound.
func (m *Manager) GetByAppointment(ctx context.Context, caller identity.Caller, appointmentID string) (*Session, Party, error) {
	if caller.UserID == "" {
		return nil, "", ErrUnauthenticated
	}
	if appointmentID == "" || !caller.InScope(appointmentID) {
		return nil, "", ErrSessionNotFound
	}
	appt, err := m.appointments.Get(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, appointments.ErrAppointmentNotFound) {
			return nil, "", ErrSessionNotFound
		}
		return nil, "", err
	}
	party, ok := partyFor(caller, appt)
	if !ok {
		return nil, "", ErrSessionNotFound
	}
	s, err := m.store.GetLiveByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, "", err
	}
	return s, party, nil
}

// Join checks that a party may proceed to media negotiation. Patients on an
// AI-enabled session must consent first.
func (m *Manager) Join(ctx context.Context, caller identity.Caller, id string) (*JoinTicket, error) {
	s, _, party, err := m.resolve(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if party != PartyDoctor && party != PartyPatient {
		return nil, ErrForbidden
	}
	if s.State.Terminal() {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidState, s.State)
	}
	if party == PartyPatient && s.AISummaryEnabled && !s.ConsentPatient {
		return nil, ErrConsentMissing
	}
	return &JoinTicket{SessionID: s.ID, RoomID: s.RoomID, Party: party, State: s.State}, nil
}

// Activate records the first successful media join.
func (m *Manager) Activate(ctx context.Context, caller identity.Caller, id string) (*Session, error) {
	return m.transition(ctx, caller, id, EventActivate, "", PartyDoctor, PartyPatient)
}

// End closes the session. Only the appointment's clinician or an admin may end.
func (m *Manager) End(ctx context.Context, caller identity.Caller, id string) (*Session, error) {
	return m.transition(ctx, caller, id, EventEnd, "", PartyDoctor, PartyAdmin)
}

// Cancel aborts the session on behalf of either party.
func (m *Manager) Cancel(ctx context.Context, caller identity.Caller, id, reason string) (*Session, error) {
	return m.transition(ctx, caller, id, EventCancel, reason, PartyDoctor, PartyPatient)
}

func (m *Manager) transition(ctx context.Context, caller identity.Caller, id string, ev Event, reason string, allowed ...Party) (*Session, error) {
	ctx, span := tracer.Start(ctx, "telehealth."+string(ev))
	defer span.End()
	span.SetAttributes(attribute.String("session.id", id))

	s, _, party, err := m.resolve(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !partyAllowed(party, allowed) {
		m.metrics.ObserveTransition(string(ev), "forbidden")
		return nil, ErrForbidden
	}

	// One re-read after a lost compare-and-swap: the new state either admits
	// the event or rejects it as terminal.
	for attempt := 0; attempt < 2; attempt++ {
		to, err := Transition(s.State, ev)
		if err != nil {
			m.metrics.ObserveTransition(string(ev), "invalid_state")
			return nil, err
		}
		if to == s.State {
			m.metrics.ObserveTransition(string(ev), "noop")
			return s, nil
		}

		updated, err := m.store.UpdateState(ctx, StateChange{
			SessionID: s.ID,
			From:      s.State,
			To:        to,
			By:        party,
			Reason:    reason,
			At:        m.now(),
		})
		if errors.Is(err, ErrStateConflict) {
			if s, err = m.store.Get(ctx, id); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			span.RecordError(err)
			m.metrics.ObserveTransition(string(ev), "error")
			return nil, err
		}

		m.metrics.ObserveTransition(string(ev), "ok")
		m.logger.Info("telehealth session transitioned", "session_id", updated.ID, "event", ev, "state", updated.State, "party", party)
		m.publish(ctx, updated, eventTypeFor(ev), party)
		if ev == EventCancel {
			m.auditCancel(ctx, caller, updated, party)
		}
		return updated, nil
	}
	m.metrics.ObserveTransition(string(ev), "conflict")
	return nil, ErrStateConflict
}

// resolve loads the session and derives the caller's party from the
// appointment. Callers who are not a party get ErrSessionNotFound so the
// existence of the session is not revealed.
func (m *Manager) resolve(ctx context.Context, caller identity.Caller, id string) (*Session, *appointments.Appointment, Party, error) {
	if caller.UserID == "" {
		return nil, nil, "", ErrUnauthenticated
	}
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, nil, "", err
	}
	if !caller.InScope(s.AppointmentID) {
		return nil, nil, "", ErrSessionNotFound
	}
	appt, err := m.appointments.Get(ctx, s.AppointmentID)
	if err != nil {
		if errors.Is(err, appointments.ErrAppointmentNotFound) {
			return nil, nil, "", ErrSessionNotFound
		}
		return nil, nil, "", err
	}
	party, ok := partyFor(caller, appt)
	if !ok {
		return nil, nil, "", ErrSessionNotFound
	}
	return s, appt, party, nil
}

func partyFor(caller identity.Caller, appt *appointments.Appointment) (Party, bool) {
	switch {
	case caller.UserID == appt.ClinicianID && caller.HasRole(identity.RoleClinician):
		return PartyDoctor, true
	case caller.UserID == appt.PatientID && caller.HasRole(identity.RolePatient):
		return PartyPatient, true
	case caller.HasRole(identity.RoleAdmin) && caller.AppointmentScope == "":
		return PartyAdmin, true
	}
	return "", false
}

func partyAllowed(party Party, allowed []Party) bool {
	for _, p := range allowed {
		if p == party {
			return true
		}
	}
	return false
}

func eventTypeFor(ev Event) events.EventType {
	switch ev {
	case EventActivate:
		return events.TypeSessionActivated
	case EventEnd:
		return events.TypeSessionEnded
	default:
		return events.TypeSessionCancelled
	}
}

func (m *Manager) publish(ctx context.Context, s *Session, typ events.EventType, party Party) {
	if m.publisher == nil {
		return
	}
	evt := events.SessionEvent{
		ID:            uuid.New().String(),
		Type:          typ,
		SessionID:     s.ID,
		AppointmentID: s.AppointmentID,
		State:         string(s.State),
		Party:         string(party),
		At:            m.now(),
	}
	if err := m.publisher.Publish(ctx, evt); err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		m.metrics.ObserveSideEffectFailure("event_publish")
		m.logger.Error("failed to publish session event", "error", err, "session_id", s.ID, "type", typ)
	}
}

func (m *Manager) auditCancel(ctx context.Context, caller identity.Caller, s *Session, party Party) {
	if m.auditor == nil {
		return
	}
	if err := m.auditor.LogSessionCancelled(ctx, s.ID, s.AppointmentID, caller.UserID, string(party), s.CancellationReason); err != nil {
		m.metrics.ObserveSideEffectFailure("audit")
		m.logger.Error("failed to audit session cancellation", "error", err, "session_id", s.ID)
	}
}
