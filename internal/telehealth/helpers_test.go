package telehealth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/medspa-telehealth/internal/appointments"
	"github.com/wolfman30/medspa-telehealth/internal/events"
	"github.com/wolfman30/medspa-telehealth/internal/identity"
)

var (
	clinician = identity.Caller{UserID: "clin-1", Roles: []identity.Role{identity.RoleClinician}}
	patient   = identity.Caller{UserID: "pat-1", Roles: []identity.Role{identity.RolePatient}}
	admin     = identity.Caller{UserID: "admin-1", Roles: []identity.Role{identity.RoleAdmin}}
	stranger  = identity.Caller{UserID: "clin-9", Roles: []identity.Role{identity.RoleClinician}}
	otherPat  = identity.Caller{UserID: "pat-9", Roles: []identity.Role{identity.RolePatient}}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.SessionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingAuditor struct {
	mu        sync.Mutex
	consents  []string
	cancelled []string
}

func (a *recordingAuditor) LogConsentRecorded(_ context.Context, sessionID, _, _, party string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consents = append(a.consents, sessionID+":"+party)
	return nil
}

func (a *recordingAuditor) LogSessionCancelled(_ context.Context, sessionID, _, _, party, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = append(a.cancelled, sessionID+":"+party+":"+reason)
	return nil
}

type fixture struct {
	store     *InMemoryStore
	dir       *appointments.InMemoryDirectory
	publisher *recordingPublisher
	auditor   *recordingAuditor
	manager   *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     NewInMemoryStore(),
		dir:       appointments.NewInMemoryDirectory(),
		publisher: &recordingPublisher{},
		auditor:   &recordingAuditor{},
	}
	f.dir.Put(appointments.Appointment{
		ID:          "appt-1",
		ClinicianID: clinician.UserID,
		PatientID:   patient.UserID,
		ScheduledAt: time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC),
		Status:      "scheduled",
	})
	f.manager = NewManager(f.store, f.dir, nil).
		WithPublisher(f.publisher).
		WithAuditor(f.auditor)
	return f
}

func (f *fixture) create(t *testing.T, req CreateRequest) *Session {
	t.Helper()
	if req.AppointmentID == "" {
		req.AppointmentID = "appt-1"
	}
	s, _, err := f.manager.Create(context.Background(), clinician, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}
