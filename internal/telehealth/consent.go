package telehealth

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/medspa-telehealth/internal/events"
	"github.com/wolfman30/medspa-telehealth/internal/identity"
	"go.opentelemetry.io/otel/attribute"
)

// IsAuthorizedForAI reports whether AI features may read session content:
// the feature is enabled and both parties have opted in.
func IsAuthorizedForAI(s *Session) bool {
	return s != nil && s.AISummaryEnabled && s.ConsentDoctor && s.ConsentPatient
}

// MissingConsent lists the parties that still need to opt in.
func MissingConsent(s *Session) []Party {
	var missing []Party
	if !s.ConsentDoctor {
		missing = append(missing, PartyDoctor)
	}
	if !s.ConsentPatient {
		missing = append(missing, PartyPatient)
	}
	return missing
}

// RecordConsent records the caller's own AI consent. The party comes from the
// caller's relationship to the appointment, never from the request.
func (m *Manager) RecordConsent(ctx context.Context, caller identity.Caller, id string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "telehealth.consent")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", id))

	s, _, party, err := m.resolve(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if party != PartyDoctor && party != PartyPatient {
		return nil, ErrForbidden
	}
	if s.State == StateCancelled {
		return nil, fmt.Errorf("%w: session is cancelled", ErrInvalidState)
	}
	if s.HasConsent(party) {
		m.metrics.ObserveConsent(string(party), false)
		return s, nil
	}
	return m.applyConsent(ctx, caller, s, party)
}

func (m *Manager) applyConsent(ctx context.Context, caller identity.Caller, s *Session, party Party) (*Session, error) {
	updated, err := m.store.RecordConsent(ctx, s.ID, party, m.now())
	if errors.Is(err, ErrStateConflict) {
		// Cancelled between read and write.
		return nil, fmt.Errorf("%w: session is cancelled", ErrInvalidState)
	}
	if err != nil {
		return nil, err
	}

	m.metrics.ObserveConsent(string(party), true)
	m.logger.Info("telehealth consent recorded", "session_id", s.ID, "party", party)
	m.publish(ctx, updated, events.TypeConsentRecorded, party)
	if m.auditor != nil {
		if err := m.auditor.LogConsentRecorded(ctx, updated.ID, updated.AppointmentID, caller.UserID, string(party)); err != nil {
			m.metrics.ObserveSideEffectFailure("audit")
			m.logger.Error("failed to audit consent", "error", err, "session_id", updated.ID)
		}
	}
	return updated, nil
}
