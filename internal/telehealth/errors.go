package telehealth

import (
	"errors"
	"fmt"

	"github.com/wolfman30/medspa-telehealth/internal/apperr"
)

var (
	// ErrUnauthenticated is returned when no caller identity is present.
	ErrUnauthenticated = fmt.Errorf("telehealth: %w", apperr.ErrUnauthenticated)
	// ErrForbidden is returned when a party lacks permission for an operation.
	ErrForbidden = fmt.Errorf("telehealth: %w", apperr.ErrForbidden)
	// ErrSessionNotFound is returned for missing sessions and for callers who
	// are not a party to the session.
	ErrSessionNotFound = fmt.Errorf("telehealth: session not found: %w", apperr.ErrNotFound)
	// ErrInvalidState is returned when an operation is illegal in the current state.
	ErrInvalidState = fmt.Errorf("telehealth: %w", apperr.ErrInvalidState)
	// ErrConsentMissing is returned when AI consent from a party is required.
	ErrConsentMissing = fmt.Errorf("telehealth: %w", apperr.ErrConsentMissing)
	// ErrStateConflict is returned when a compare-and-swap found a different state.
	ErrStateConflict = fmt.Errorf("telehealth: state changed concurrently: %w", apperr.ErrConflict)

	// ErrDuplicateSession is returned by stores when a live session already
	// exists for the appointment.
	ErrDuplicateSession = errors.New("telehealth: live session already exists for appointment")
)
