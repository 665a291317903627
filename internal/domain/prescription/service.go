package prescription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/medscribe/medscribe/internal/platform/auth"
	"github.com/medscribe/medscribe/internal/platform/db"
	"github.com/medscribe/medscribe/internal/platform/events"
	"github.com/medscribe/medscribe/internal/platform/websocket"
)

const (
	EventCreated       = "prescription.created"
	EventStatusChanged = "prescription.status_changed"
)

// ErrInvalid wraps field validation failures other than medication fields.
var ErrInvalid = errors.New("invalid prescription")

type Service struct {
	repo   Repository
	events *events.Emitter
}

func NewService(repo Repository, emitter *events.Emitter) *Service {
	return &Service{repo: repo, events: emitter}
}

// Create stores an active prescription written by the calling doctor.
func (s *Service) Create(ctx context.Context, id auth.Identity, p *Prescription) error {
	if !id.IsDoctor() {
		return ErrForbidden
	}
	if p.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalid)
	}
	if err := p.Medications.Validate(); err != nil {
		return err
	}
	if p.Pharmacy != nil && strings.TrimSpace(*p.Pharmacy) == "" {
		p.Pharmacy = nil
	}
	p.DoctorID = id.DoctorID
	p.Status = StatusActive

	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}
	tenant := db.TenantFromContext(ctx)
	s.events.Emit(ctx, tenant, EventCreated, p.ID.String(), p, websocket.UserTopic(tenant, id.UserID))
	return nil
}

// canRead lets clinical staff read any patient's prescriptions and
// patients read only their own.
func canRead(id auth.Identity, patientID uuid.UUID) bool {
	if id.IsDoctor() || id.HasRole("pharmacist") {
		return true
	}
	return id.IsPatient() && id.PatientID == patientID
}

func (s *Service) Get(ctx context.Context, id auth.Identity, prescriptionID uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	if !canRead(id, p.PatientID) {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *Service) ListByPatient(ctx context.Context, id auth.Identity, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	if !canRead(id, patientID) {
		return nil, 0, ErrForbidden
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// UpdateStatus closes an active prescription. Pharmacists dispense; the
// prescribing doctor cancels.
func (s *Service) UpdateStatus(ctx context.Context, id auth.Identity, prescriptionID uuid.UUID, status Status) (*Prescription, error) {
	if status != StatusDispensed && status != StatusCancelled {
		return nil, fmt.Errorf("%w: status must be dispensed or cancelled", ErrInvalid)
	}
	cur, err := s.repo.GetByID(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	switch status {
	case StatusDispensed:
		if !id.HasRole("pharmacist") {
			return nil, ErrForbidden
		}
	case StatusCancelled:
		if cur.DoctorID != id.DoctorID && !id.HasRole("admin") {
			return nil, ErrForbidden
		}
	}

	p, err := s.repo.UpdateStatus(ctx, prescriptionID, status)
	if err != nil {
		return nil, err
	}
	tenant := db.TenantFromContext(ctx)
	s.events.Emit(ctx, tenant, EventStatusChanged, p.ID.String(), p, websocket.UserTopic(tenant, id.UserID))
	return p, nil
}
