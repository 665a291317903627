package referral

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Collections is what a doctor sees on the referrals page.
type Collections struct {
	Received []*Referral
	Sent     []*Referral
}

// View loads a doctor's referral collections and filters them.
type View struct {
	repo Repository
}

func NewView(repo Repository) *View {
	return &View{repo: repo}
}

func (v *View) Received(ctx context.Context, doctorID uuid.UUID, f Filter) ([]*Referral, error) {
	rs, err := v.repo.ListReceived(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list received referrals: %w", err)
	}
	return Apply(rs, f, DirectionReceived), nil
}

func (v *View) Sent(ctx context.Context, doctorID uuid.UUID, f Filter) ([]*Referral, error) {
	rs, err := v.repo.ListSent(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list sent referrals: %w", err)
	}
	return Apply(rs, f, DirectionSent), nil
}

// Load fetches both collections, each with its own filter. The queries share
// the request's tenant connection and so run one after the other.
func (v *View) Load(ctx context.Context, doctorID uuid.UUID, received, sent Filter) (*Collections, error) {
	r, err := v.Received(ctx, doctorID, received)
	if err != nil {
		return nil, err
	}
	s, err := v.Sent(ctx, doctorID, sent)
	if err != nil {
		return nil, err
	}
	return &Collections{Received: r, Sent: s}, nil
}
