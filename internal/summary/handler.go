package summary

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/medspa-telehealth/internal/apperr"
	"github.com/wolfman30/medspa-telehealth/internal/identity"
	"github.com/wolfman30/medspa-telehealth/internal/telehealth"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

// Handler serves summary requests and status polls.
type Handler struct {
	generator *Generator
	logger    *logging.Logger
}

func NewHandler(generator *Generator, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{generator: generator, logger: logger}
}

// Generate handles POST /sessions/{id}/summary.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.CallerFromContext(r.Context())
	if !ok {
		apperr.WriteError(w, h.logger, telehealth.ErrUnauthenticated)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		apperr.WriteError(w, h.logger, apperr.BadRequest("invalid request body"))
		return
	}

	res, err := h.generator.Generate(r.Context(), caller, chi.URLParam(r, "id"), req)
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			return
		}
		apperr.WriteError(w, h.logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, res)
}

type statusResponse struct {
	SessionID   string     `json:"session_id"`
	Status      JobStatus  `json:"status,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
	Model       string     `json:"model,omitempty"`
	Flags       []Flag     `json:"flags,omitempty"`
	Warnings    []string   `json:"warnings,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
}

// Status handles GET /sessions/{id}/summary. The stored summary is returned
// even when no job record exists, for example after a job record expired.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.CallerFromContext(r.Context())
	if !ok {
		apperr.WriteError(w, h.logger, telehealth.ErrUnauthenticated)
		return
	}
	session, _, err := h.generator.Authorize(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}

	resp := statusResponse{
		SessionID:   session.ID,
		Summary:     session.AISummary,
		GeneratedAt: session.AISummaryGeneratedAt,
	}
	job, err := h.generator.Jobs().Get(r.Context(), session.ID)
	switch {
	case err == nil:
		resp.Status = job.Status
		resp.Model = job.Model
		resp.Flags = job.Flags
		resp.Warnings = job.Warnings
		resp.ErrorCode = job.ErrorCode
	case errors.Is(err, ErrJobNotFound):
		if session.AISummary == "" {
			apperr.WriteError(w, h.logger, errors.Join(ErrJobNotFound, apperr.ErrNotFound))
			return
		}
		resp.Status = JobStatusCompleted
	default:
		h.logger.Warn("summary job status unavailable", "error", err, "session_id", session.ID)
	}
	apperr.WriteJSON(w, http.StatusOK, resp)
}
