package patientlink

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/medspa-telehealth/internal/apperr"
	"github.com/wolfman30/medspa-telehealth/internal/identity"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

// Handler serves POST /appointments/{id}/patient-link.
type Handler struct {
	issuer *Issuer
	logger *logging.Logger
}

func NewHandler(issuer *Issuer, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{issuer: issuer, logger: logger}
}

func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.CallerFromContext(r.Context())
	if !ok {
		apperr.WriteError(w, h.logger, apperr.ErrUnauthenticated)
		return
	}
	link, err := h.issuer.Issue(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, link)
}
