package prescription

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("prescription not found")
	ErrConflict  = errors.New("prescription is no longer active")
	ErrForbidden = errors.New("not allowed to change this prescription")
)

type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error)
	// UpdateStatus moves an active prescription to status and returns
	// ErrConflict when it is no longer active.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Prescription, error)
}
