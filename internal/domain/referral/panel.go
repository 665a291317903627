package referral

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/medscribe/medscribe/internal/platform/auth"
)

// ErrNoSelection is returned when a panel action runs with nothing selected.
var ErrNoSelection = errors.New("no referral selected")

// ErrBusy is returned when an action is already in flight on the panel.
var ErrBusy = errors.New("another referral action is in progress")

// Panel holds the interactive state of one referral screen: the selected
// referral, the response notes being typed, and whether an action is in
// flight. A successful transition clears selection and notes; a failed one
// leaves them for the user to retry.
type Panel struct {
	gw *Gateway

	mu         sync.Mutex
	selected   uuid.UUID
	notes      string
	processing bool
}

func NewPanel(gw *Gateway) *Panel {
	return &Panel{gw: gw}
}

func (p *Panel) Select(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.selected != id {
		p.notes = ""
	}
	p.selected = id
}

func (p *Panel) SetNotes(notes string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notes = notes
}

func (p *Panel) Selected() uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

func (p *Panel) Notes() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notes
}

func (p *Panel) Processing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processing
}

func (p *Panel) Accept(ctx context.Context, id auth.Identity) (*Referral, error) {
	return p.run(func(ref uuid.UUID, notes string) (*Referral, error) {
		return p.gw.Accept(ctx, id, ref, notes)
	})
}

func (p *Panel) Decline(ctx context.Context, id auth.Identity) (*Referral, error) {
	return p.run(func(ref uuid.UUID, notes string) (*Referral, error) {
		return p.gw.Decline(ctx, id, ref, notes)
	})
}

func (p *Panel) Complete(ctx context.Context, id auth.Identity) (*Referral, error) {
	return p.run(func(ref uuid.UUID, _ string) (*Referral, error) {
		return p.gw.Complete(ctx, id, ref)
	})
}

func (p *Panel) run(action func(ref uuid.UUID, notes string) (*Referral, error)) (*Referral, error) {
	p.mu.Lock()
	if p.processing {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	if p.selected == uuid.Nil {
		p.mu.Unlock()
		return nil, ErrNoSelection
	}
	ref, notes := p.selected, p.notes
	p.processing = true
	p.mu.Unlock()

	out, err := action(ref, notes)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.processing = false
	if err == nil && p.selected == ref {
		p.selected = uuid.Nil
		p.notes = ""
	}
	return out, err
}
