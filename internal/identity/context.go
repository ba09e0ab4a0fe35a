// Package identity carries the authenticated caller through request contexts.
package identity

import (
	"context"
	"strings"
)

// Role is a coarse permission carried in the caller's signed token.
type Role string

const (
	RoleClinician Role = "clinician"
	RolePatient   Role = "patient"
	RoleAdmin     Role = "admin"
)

// Caller is the authenticated principal behind a request.
type Caller struct {
	UserID string
	Roles  []Role
	// AppointmentScope restricts a patient-link caller to one appointment.
	AppointmentScope string
}

type ctxKey string

const callerKey ctxKey = "telehealth.caller"

// WithCaller stores the caller in context.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext extracts the caller if one was authenticated.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey).(Caller)
	return caller, ok && strings.TrimSpace(caller.UserID) != ""
}

// HasRole reports whether the caller holds role.
func (c Caller) HasRole(role Role) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsStaff reports whether the caller is a clinician or an admin.
func (c Caller) IsStaff() bool {
	return c.HasRole(RoleClinician) || c.HasRole(RoleAdmin)
}

// InScope reports whether the caller may touch the given appointment.
func (c Caller) InScope(appointmentID string) bool {
	return c.AppointmentScope == "" || c.AppointmentScope == appointmentID
}

// ParseRoles converts raw claim values, dropping anything unknown.
func ParseRoles(raw []string) []Role {
	roles := make([]Role, 0, len(raw))
	for _, r := range raw {
		switch Role(strings.ToLower(strings.TrimSpace(r))) {
		case RoleClinician:
			roles = append(roles, RoleClinician)
		case RolePatient:
			roles = append(roles, RolePatient)
		case RoleAdmin:
			roles = append(roles, RoleAdmin)
		}
	}
	return roles
}
