package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Identity is the authenticated caller. Services receive it explicitly
// rather than reading ambient request state.
type Identity struct {
	UserID    string
	Roles     []string
	UserType  string
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	// Token is the bearer token the identity was read from, forwarded to
	// downstream services acting on the caller's behalf.
	Token string
}

// HasRole reports whether the identity carries role; admin implies every role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role || r == "admin" {
			return true
		}
	}
	return false
}

func (id Identity) IsDoctor() bool  { return id.DoctorID != uuid.Nil }
func (id Identity) IsPatient() bool { return id.PatientID != uuid.Nil }

func identityFromClaims(c *Claims) (Identity, error) {
	id := Identity{
		UserID:   c.Subject,
		Roles:    c.Roles,
		UserType: c.UserType,
	}
	if c.DoctorID != "" {
		did, err := uuid.Parse(c.DoctorID)
		if err != nil {
			return Identity{}, fmt.Errorf("invalid doctor_id claim")
		}
		id.DoctorID = did
	}
	if c.PatientID != "" {
		pid, err := uuid.Parse(c.PatientID)
		if err != nil {
			return Identity{}, fmt.Errorf("invalid patient_id claim")
		}
		id.PatientID = pid
	}
	if id.UserType == "" {
		switch {
		case id.IsDoctor():
			id.UserType = "doctor"
		case id.IsPatient():
			id.UserType = "patient"
		}
	}
	return id, nil
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller identity and whether one was set.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.UserID
}

func RolesFromContext(ctx context.Context) []string {
	id, _ := IdentityFromContext(ctx)
	return id.Roles
}
