package appointments

import (
	"fmt"

	"github.com/wolfman30/medspa-telehealth/internal/apperr"
)

// ErrAppointmentNotFound is returned when an appointment does not exist
var ErrAppointmentNotFound = fmt.Errorf("appointment not found: %w", apperr.ErrNotFound)
