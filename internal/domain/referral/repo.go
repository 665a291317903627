package referral

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("referral not found")
	ErrConflict         = errors.New("referral is no longer in a state that allows this action")
	ErrForbidden        = errors.New("referral is not addressed to this doctor")
	ErrResponseRequired = errors.New("a response message is required to decline a referral")
	ErrNotDoctor        = errors.New("caller is not linked to a doctor profile")
)

// Repository is the referral store. Transition methods apply only when the
// referral is in the expected source state and the doctor may act on it.
// They return ErrForbidden when the doctor is not a party to the action and
// ErrConflict when the referral has left the source state.
type Repository interface {
	ListReceived(ctx context.Context, doctorID uuid.UUID) ([]*Referral, error)
	ListSent(ctx context.Context, doctorID uuid.UUID) ([]*Referral, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Referral, error)
	Create(ctx context.Context, r *Referral) (*Referral, error)
	Accept(ctx context.Context, id, doctorID uuid.UUID, responseMessage *string) (*Referral, error)
	Decline(ctx context.Context, id, doctorID uuid.UUID, responseMessage string) (*Referral, error)
	Complete(ctx context.Context, id, doctorID uuid.UUID) (*Referral, error)
	Cancel(ctx context.Context, id, doctorID uuid.UUID) (*Referral, error)
	ExpirePending(ctx context.Context, createdBefore time.Time) ([]*Referral, error)
	// DoctorSpecialty is empty for doctors without a specialty or profile.
	DoctorSpecialty(ctx context.Context, doctorID uuid.UUID) (string, error)
}

// actor is the side of a referral allowed to run a transition.
type actor int

const (
	actorRecipient actor = iota // addressed doctor or pool member
	actorAssignee               // doctor the referral is assigned to
	actorSender                 // referring doctor
)

// mayAct reports whether doctorID, with the given specialty, is the party
// allowed to run a transition of kind who on cur, regardless of its status.
func mayAct(cur *Referral, doctorID uuid.UUID, who actor, specialty string) bool {
	switch who {
	case actorSender:
		return cur.FromDoctorID == doctorID
	case actorAssignee:
		return cur.ToDoctorID != nil && *cur.ToDoctorID == doctorID
	}
	return cur.AddressedTo(doctorID, specialty)
}
