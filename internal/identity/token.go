package identity

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// PatientLinkAudience marks tokens minted for one-click patient links.
const PatientLinkAudience = "patient-link"

// Claims is the signed payload of staff and patient-link tokens.
type Claims struct {
	Roles         []string `json:"roles"`
	AppointmentID string   `json:"appointment_id,omitempty"`
	jwt.RegisteredClaims
}

// Caller converts verified claims into a caller. Patient-link claims are
// scoped to their appointment.
func (c *Claims) Caller() Caller {
	caller := Caller{UserID: c.Subject, Roles: ParseRoles(c.Roles)}
	for _, aud := range c.Audience {
		if aud == PatientLinkAudience {
			caller.AppointmentScope = c.AppointmentID
		}
	}
	return caller
}

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("identity: invalid token")

// ParseHS256 verifies an HMAC-signed token. A non-empty audience is required
// to be present in the token.
func ParseHS256(tokenString, secret, audience string) (*Claims, error) {
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(tokenString) == "" {
		return nil, ErrInvalidToken
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
