package telehealth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/medspa-telehealth/internal/events"
)

func TestIsAuthorizedForAIRequiresBothParties(t *testing.T) {
	cases := []struct {
		name    string
		enabled bool
		doctor  bool
		patient bool
		want    bool
	}{
		{"disabled", false, true, true, false},
		{"neither", true, false, false, false},
		{"doctor only", true, true, false, false},
		{"patient only", true, false, true, false},
		{"both", true, true, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Session{AISummaryEnabled: tc.enabled, ConsentDoctor: tc.doctor, ConsentPatient: tc.patient}
			assert.Equal(t, tc.want, IsAuthorizedForAI(s))
			// Re-checking must be stable.
			assert.Equal(t, tc.want, IsAuthorizedForAI(s))
		})
	}
	assert.False(t, IsAuthorizedForAI(nil))
}

func TestMissingConsent(t *testing.T) {
	assert.Equal(t, []Party{PartyDoctor, PartyPatient}, MissingConsent(&Session{}))
	assert.Equal(t, []Party{PartyPatient}, MissingConsent(&Session{ConsentDoctor: true}))
	assert.Empty(t, MissingConsent(&Session{ConsentDoctor: true, ConsentPatient: true}))
}

func TestRecordConsentIsIdempotentFirstWriteWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, CreateRequest{AISummaryEnabled: true})

	first := time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC)
	f.manager.now = func() time.Time { return first }
	got, err := f.manager.RecordConsent(ctx, patient, s.ID)
	require.NoError(t, err)
	assert.True(t, got.ConsentPatient)
	assert.False(t, got.ConsentDoctor, "patient consent must not set the doctor flag")

	f.manager.now = func() time.Time { return first.Add(time.Hour) }
	again, err := f.manager.RecordConsent(ctx, patient, s.ID)
	require.NoError(t, err)
	assert.Equal(t, first, *again.ConsentPatientAt)

	stored, err := f.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, first, *stored.ConsentPatientAt)

	assert.Len(t, f.auditor.consents, 1)
	assert.Contains(t, f.publisher.types(), events.TypeConsentRecorded)
}

func TestRecordConsentPartyComesFromIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, CreateRequest{AISummaryEnabled: true})

	got, err := f.manager.RecordConsent(ctx, clinician, s.ID)
	require.NoError(t, err)
	assert.True(t, got.ConsentDoctor)
	assert.False(t, got.ConsentPatient)

	_, err = f.manager.RecordConsent(ctx, admin, s.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.manager.RecordConsent(ctx, stranger, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRecordConsentRejectsCancelledSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, CreateRequest{AISummaryEnabled: true})
	_, err := f.manager.Cancel(ctx, clinician, s.ID, "")
	require.NoError(t, err)

	_, err = f.manager.RecordConsent(ctx, patient, s.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestConsentVisibleToNextAuthorizationCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, CreateRequest{AISummaryEnabled: true, Consent: true})

	before, _, err := f.manager.Get(ctx, clinician, s.ID)
	require.NoError(t, err)
	assert.False(t, IsAuthorizedForAI(before))

	_, err = f.manager.RecordConsent(ctx, patient, s.ID)
	require.NoError(t, err)

	after, _, err := f.manager.Get(ctx, clinician, s.ID)
	require.NoError(t, err)
	assert.True(t, IsAuthorizedForAI(after))
}
