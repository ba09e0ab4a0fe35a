package middleware

import (
	"net/http"
	"strings"

	"github.com/wolfman30/medspa-telehealth/internal/apperr"
	"github.com/wolfman30/medspa-telehealth/internal/identity"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

// CallerJWT authenticates a request from an HS256 bearer token, or from a
// ?token= query parameter so patient links work straight from the URL.
// Staff tokens are tried first, then patient-link tokens, which must carry
// the patient-link audience and always resolve to a patient scoped to one
// appointment. Requests without a valid token get 401.
func CallerJWT(staffSecret, linkSecret string, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				apperr.WriteError(w, logger, apperr.ErrUnauthenticated)
				return
			}
			caller, ok := authenticate(tokenString, staffSecret, linkSecret)
			if !ok {
				logger.Debug("rejected token", "path", r.URL.Path)
				apperr.WriteError(w, logger, apperr.ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithCaller(r.Context(), caller)))
		})
	}
}

func authenticate(tokenString, staffSecret, linkSecret string) (identity.Caller, bool) {
	if claims, err := identity.ParseHS256(tokenString, staffSecret, ""); err == nil {
		caller := claims.Caller()
		if caller.AppointmentScope == "" {
			return caller, true
		}
	}
	claims, err := identity.ParseHS256(tokenString, linkSecret, identity.PatientLinkAudience)
	if err != nil || strings.TrimSpace(claims.AppointmentID) == "" {
		return identity.Caller{}, false
	}
	return identity.Caller{
		UserID:           claims.Subject,
		Roles:            []identity.Role{identity.RolePatient},
		AppointmentScope: claims.AppointmentID,
	}, true
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
