package summary

import (
	"errors"
	"fmt"

	"github.com/wolfman30/medspa-telehealth/internal/apperr"
)

var (
	// ErrGenerationTimeout is returned when the provider did not answer within the configured budget.
	ErrGenerationTimeout = fmt.Errorf("summary: generation timed out: %w", apperr.ErrProviderTimeout)
	// ErrEmptyCorpus is returned when the session has nothing to summarize.
	ErrEmptyCorpus = fmt.Errorf("summary: no transcript, notes, or chat to summarize: %w", apperr.ErrInvalidState)
	// ErrJobNotFound indicates no summary has been requested for the session.
	ErrJobNotFound = errors.New("summary: job not found")
)
