package telehealth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/medspa-telehealth/internal/appointments"
	"github.com/wolfman30/medspa-telehealth/internal/events"
	"github.com/wolfman30/medspa-telehealth/internal/identity"
)

func TestCreateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.manager.Create(ctx, clinician, CreateRequest{AppointmentID: "appt-1", AISummaryEnabled: true})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatePending, first.State)
	assert.NotEmpty(t, first.RoomID)

	again, created, err := f.manager.Create(ctx, clinician, CreateRequest{AppointmentID: "appt-1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.AISummaryEnabled, "second create must not overwrite configuration")
}

func TestConcurrentCreateYieldsOneSession(t *testing.T) {
	f := newFixture(t)
	const callers = 16

	var wg sync.WaitGroup
	ids := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := f.manager.Create(context.Background(), clinician, CreateRequest{AppointmentID: "appt-1"})
			errs[i] = err
			if s != nil {
				ids[i] = s.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Len(t, f.store.sessions, 1)

	later, created, err := f.manager.Create(context.Background(), clinician, CreateRequest{AppointmentID: "appt-1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ids[0], later.ID)
}

// racingStore simulates another request inserting between our existence check
// and our insert.
type racingStore struct {
	*InMemoryStore
	once   sync.Once
	winner *Session
}

func (r *racingStore) GetLiveByAppointment(ctx context.Context, appointmentID string) (*Session, error) {
	var raced bool
	r.once.Do(func() {
		raced = true
		_ = r.InMemoryStore.Insert(ctx, r.winner)
	})
	if raced {
		return nil, ErrSessionNotFound
	}
	return r.InMemoryStore.GetLiveByAppointment(ctx, appointmentID)
}

func TestCreateReconcilesLostInsertRace(t *testing.T) {
	f := newFixture(t)
	store := &racingStore{
		InMemoryStore: NewInMemoryStore(),
		winner:        &Session{ID: "winner", AppointmentID: "appt-1", State: StatePending, RoomID: "room-w"},
	}
	manager := NewManager(store, f.dir, nil)

	s, created, err := manager.Create(context.Background(), clinician, CreateRequest{AppointmentID: "appt-1", Consent: true})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner", s.ID)
	assert.True(t, s.ConsentDoctor, "consent-at-creation applies to the winning session")
}

func TestCreateAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.manager.Create(ctx, patient, CreateRequest{AppointmentID: "appt-1"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, _, err = f.manager.Create(ctx, stranger, CreateRequest{AppointmentID: "appt-1"})
	assert.ErrorIs(t, err, appointments.ErrAppointmentNotFound)

	_, _, err = f.manager.Create(ctx, clinician, CreateRequest{AppointmentID: "missing"})
	assert.ErrorIs(t, err, appointments.ErrAppointmentNotFound)

	s, created, err := f.manager.Create(ctx, admin, CreateRequest{AppointmentID: "appt-1", Consent: true})
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, s.ConsentDoctor, "an admin cannot consent for the clinician")

	_, _, err = f.manager.Create(ctx, identity.Caller{}, CreateRequest{AppointmentID: "appt-1"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestPatientCancelsPendingThenEndFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, CreateRequest{})

	cancelled, err := f.manager.Cancel(ctx, patient, s.ID, "technical issue")
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, cancelled.State)
	assert.Equal(t, PartyPatient, cancelled.CancelledBy)
	assert.Equal(t, "technical issue", cancelled.CancellationReason)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = f.manager.End(ctx, clinician, s.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Contains(t, f.publisher.types(), events.TypeSessionCancelled)
	assert.Equal(t, []string{s.ID + ":patient:technical issue"}, f.auditor.cancelled)
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	for _, terminal := range []string{"ended", "cancelled"} {
		t.Run(terminal, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			s := f.create(t, CreateRequest{})

			var err error
			if terminal == "ended" {
				_, err = f.manager.End(ctx, clinician, s.ID)
			} else {
				_, err = f.manager.Cancel(ctx, clinician, s.ID, "")
			}
			require.NoError(t, err)

			_, err = f.manager.End(ctx, clinician, s.ID)
			assert.ErrorIs(t, err, ErrInvalidState)
			_, err = f.manager.Cancel(ctx, patient, s.ID, "again")
			assert.ErrorIs(t, err, ErrInvalidState)
			_, err = f.manager.Activate(ctx, patient, s.ID)
			assert.ErrorIs(t, err, ErrInvalidState)
			_, err = f.manager.Join(ctx, clinician, s.ID)
			assert.ErrorIs(t, err, ErrInvalidState)
		})
	}
}

func TestConcurrentCancelKeepsFirstWriter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, CreateRequest{})

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, c := range []struct {
		caller identity.Caller
		reason string
	}{{clinician, "doctor unavailable"}, {patient, "technical issue"}} {
		wg.Add(1)
		go func(caller identity.Caller, reason string) {
			defer wg.Done()
			_, err := f.manager.Cancel(ctx, caller, s.ID, reason)
			results <- err
		}(c.caller, c.reason)
	}
	wg.Wait()
	close(results)

	var ok, invalid int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidState):
			invalid++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, invalid)

	final, err := f.store.Get(ctx, s.ID)
	require.NoError(t, err)
	if final.CancelledBy == PartyDoctor {
		assert.Equal(t, "doctor unavailable", final.CancellationReason)
	} else {
		assert.Equal(t, "technical issue", final.CancellationReason)
	}
	assert.Len(t, f.auditor.cancelled, 1)
}

func TestActivateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, CreateRequest{})

	active, err := f.manager.Activate(ctx, clinician, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, active.State)
	startedAt := *active.StartedAt

	again, err := f.manager.Activate(ctx, patient, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, again.State)
	assert.Equal(t, startedAt, *again.StartedAt)
}

func TestPermissionsByParty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, CreateRequest{})

	_, err := f.manager.End(ctx, patient, s.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.manager.Cancel(ctx, admin, s.ID, "")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.manager.Join(ctx, admin, s.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	ended, err := f.manager.End(ctx, admin, s.ID)
	require.NoError(t, err)
	assert.Equal(t, PartyAdmin, ended.EndedBy)
}

func TestNonPartyCannotDistinguishMissingFromForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, CreateRequest{})

	for _, caller := range []identity.Caller{stranger, otherPat} {
		_, _, existing := f.manager.Get(ctx, caller, s.ID)
		_, _, missing := f.manager.Get(ctx, caller, "no-such-session")
		assert.ErrorIs(t, existing, ErrSessionNotFound)
		assert.ErrorIs(t, missing, ErrSessionNotFound)
		assert.Equal(t, missing.Error(), existing.Error())

		_, err := f.manager.Cancel(ctx, caller, s.ID, "")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	}
}

func TestPatientLinkScopeLimitsAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, CreateRequest{})

	scoped := patient
	scoped.AppointmentScope = "appt-other"
	_, _, err := f.manager.Get(ctx, scoped, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	scoped.AppointmentScope = "appt-1"
	_, party, err := f.manager.Get(ctx, scoped, s.ID)
	require.NoError(t, err)
	assert.Equal(t, PartyPatient, party)
}

func TestGetByAppointmentResolvesLiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	scoped := patient
	scoped.AppointmentScope = "appt-1"

	_, _, err := f.manager.GetByAppointment(ctx, scoped, "appt-1")
	assert.ErrorIs(t, err, ErrSessionNotFound, "no session yet")

	s := f.create(t, CreateRequest{})
	got, party, err := f.manager.GetByAppointment(ctx, scoped, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, PartyPatient, party)

	_, party, err = f.manager.GetByAppointment(ctx, clinician, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, PartyDoctor, party)

	for _, caller := range []identity.Caller{stranger, otherPat} {
		_, _, err := f.manager.GetByAppointment(ctx, caller, "appt-1")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	}
	_, _, err = f.manager.GetByAppointment(ctx, scoped, "appt-other")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.manager.Cancel(ctx, scoped, s.ID, "cannot attend")
	require.NoError(t, err)
	_, _, err = f.manager.GetByAppointment(ctx, scoped, "appt-1")
	assert.ErrorIs(t, err, ErrSessionNotFound, "cancelled sessions are not live")
}

func TestJoinRequiresPatientConsentWhenAIEnabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, CreateRequest{AISummaryEnabled: true, Consent: true})

	_, err := f.manager.Join(ctx, patient, s.ID)
	assert.ErrorIs(t, err, ErrConsentMissing)

	ticket, err := f.manager.Join(ctx, clinician, s.ID)
	require.NoError(t, err)
	assert.Equal(t, PartyDoctor, ticket.Party)

	_, err = f.manager.RecordConsent(ctx, patient, s.ID)
	require.NoError(t, err)

	ticket, err = f.manager.Join(ctx, patient, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.RoomID, ticket.RoomID)
}

func TestJoinWithoutAIDoesNotNeedConsent(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, CreateRequest{AISummaryEnabled: false})

	_, err := f.manager.Join(context.Background(), patient, s.ID)
	assert.NoError(t, err)
}
