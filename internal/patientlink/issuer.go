// Package patientlink mints one-click session links for patients.
package patientlink

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/wolfman30/medspa-telehealth/internal/apperr"
	"github.com/wolfman30/medspa-telehealth/internal/appointments"
	"github.com/wolfman30/medspa-telehealth/internal/identity"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

var (
	// ErrPatientAccessMissing tells the caller to provision patient access first.
	ErrPatientAccessMissing = fmt.Errorf("patientlink: patient has no portal credential: %w", apperr.ErrPatientAccess)
	// ErrCredentialNotFound is returned by credential stores.
	ErrCredentialNotFound = errors.New("patientlink: credential not found")
	// ErrSecretRequired is returned when no signing secret is configured.
	ErrSecretRequired = errors.New("patientlink: signing secret required")
)

const tokenIssuer = "medspa-telehealth"

// Link is a ready-to-open URL into the patient session view.
type Link struct {
	URL           string    `json:"url"`
	AppointmentID string    `json:"appointment_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Issuer signs patient-link tokens.
type Issuer struct {
	appointments appointments.Directory
	credentials  CredentialStore
	secret       []byte
	ttl          time.Duration
	baseURL      string
	logger       *logging.Logger
	now          func() time.Time
}

func NewIssuer(dir appointments.Directory, creds CredentialStore, secret string, ttl time.Duration, baseURL string, logger *logging.Logger) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretRequired
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Issuer{
		appointments: dir,
		credentials:  creds,
		secret:       []byte(secret),
		ttl:          ttl,
		baseURL:      strings.TrimRight(baseURL, "/"),
		logger:       logger,
		now:          time.Now,
	}, nil
}

// Issue returns a link for the appointment's patient. Only the appointment's
// clinician or an admin may issue; anyone else sees the appointment as missing.
func (i *Issuer) Issue(ctx context.Context, caller identity.Caller, appointmentID string) (*Link, error) {
	if caller.UserID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	if !caller.IsStaff() || caller.AppointmentScope != "" {
		return nil, fmt.Errorf("patientlink: staff role required: %w", apperr.ErrForbidden)
	}

	appt, err := i.appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !caller.HasRole(identity.RoleAdmin) && !(caller.HasRole(identity.RoleClinician) && appt.ClinicianID == caller.UserID) {
		return nil, appointments.ErrAppointmentNotFound
	}

	if _, err := i.credentials.Get(ctx, appt.PatientID); err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, ErrPatientAccessMissing
		}
		return nil, err
	}

	now := i.now().UTC()
	expires := now.Add(i.ttl)
	linkID := uuid.NewString()
	claims := identity.Claims{
		Roles:         []string{string(identity.RolePatient)},
		AppointmentID: appt.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        linkID,
			Issuer:    tokenIssuer,
			Subject:   appt.PatientID,
			Audience:  jwt.ClaimStrings{identity.PatientLinkAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("patientlink: sign token: %w", err)
	}

	link := fmt.Sprintf("%s/patient/appointments/%s/session?token=%s", i.baseURL, url.PathEscape(appt.ID), url.QueryEscape(token))
	i.logger.Info("patient link issued", "appointment_id", appt.ID, "link_id", linkID, "issued_by", caller.UserID, "expires_at", expires)
	return &Link{URL: link, AppointmentID: appt.ID, ExpiresAt: expires}, nil
}
