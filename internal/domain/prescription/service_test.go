package prescription

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medscribe/medscribe/internal/platform/auth"
	"github.com/medscribe/medscribe/internal/platform/events"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, evts ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newTestService() (*Service, *mockRepo, *capturePublisher) {
	repo := newMockRepo()
	pub := &capturePublisher{}
	return NewService(repo, events.NewEmitter(pub, zerolog.Nop())), repo, pub
}

func doctor(id uuid.UUID) auth.Identity {
	return auth.Identity{UserID: "doc", Roles: []string{"doctor"}, DoctorID: id}
}

func pharmacist() auth.Identity {
	return auth.Identity{UserID: "pharm", Roles: []string{"pharmacist"}}
}

func patient(id uuid.UUID) auth.Identity {
	return auth.Identity{UserID: "pat", Roles: []string{"patient"}, PatientID: id}
}

func TestService_Create(t *testing.T) {
	svc, repo, pub := newTestService()
	docID := uuid.New()
	blank := "  "
	p := &Prescription{
		PatientID:   uuid.New(),
		DoctorID:    uuid.New(),
		Status:      StatusDispensed,
		Pharmacy:    &blank,
		Medications: MedicationList{amoxicillin()},
	}

	if err := svc.Create(context.Background(), doctor(docID), p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	stored, err := repo.GetByID(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.DoctorID != docID {
		t.Errorf("doctor = %s, want caller %s", stored.DoctorID, docID)
	}
	if stored.Status != StatusActive {
		t.Errorf("status = %s, want active", stored.Status)
	}
	if stored.Pharmacy != nil {
		t.Errorf("blank pharmacy should be cleared, got %q", *stored.Pharmacy)
	}
	if pub.count() != 1 {
		t.Errorf("events = %d, want 1", pub.count())
	}
}

func TestService_CreateRejects(t *testing.T) {
	svc, _, pub := newTestService()
	incomplete := amoxicillin()
	incomplete.Frequency = ""

	tests := []struct {
		name string
		id   auth.Identity
		p    *Prescription
		want error
	}{
		{"not a doctor", pharmacist(), &Prescription{PatientID: uuid.New(), Medications: MedicationList{amoxicillin()}}, ErrForbidden},
		{"no patient", doctor(uuid.New()), &Prescription{Medications: MedicationList{amoxicillin()}}, ErrInvalid},
		{"no medications", doctor(uuid.New()), &Prescription{PatientID: uuid.New()}, ErrIncompleteMedication},
		{"incomplete medication", doctor(uuid.New()), &Prescription{PatientID: uuid.New(), Medications: MedicationList{incomplete}}, ErrIncompleteMedication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Create(context.Background(), tt.id, tt.p); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
	if pub.count() != 0 {
		t.Errorf("no events expected, got %d", pub.count())
	}
}

func TestService_ReadAccess(t *testing.T) {
	svc, repo, _ := newTestService()
	owner := uuid.New()
	p := repo.put(&Prescription{PatientID: owner, DoctorID: uuid.New(), Medications: MedicationList{amoxicillin()}})
	ctx := context.Background()

	if _, err := svc.Get(ctx, patient(owner), p.ID); err != nil {
		t.Errorf("owner read: %v", err)
	}
	if _, err := svc.Get(ctx, pharmacist(), p.ID); err != nil {
		t.Errorf("pharmacist read: %v", err)
	}
	if _, err := svc.Get(ctx, patient(uuid.New()), p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign patient: got %v, want ErrNotFound", err)
	}
	if _, _, err := svc.ListByPatient(ctx, patient(uuid.New()), owner, 20, 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign list: got %v, want ErrForbidden", err)
	}
}

func TestService_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	prescriber := uuid.New()

	tests := []struct {
		name   string
		id     auth.Identity
		status Status
		want   error
	}{
		{"pharmacist dispenses", pharmacist(), StatusDispensed, nil},
		{"prescriber cancels", doctor(prescriber), StatusCancelled, nil},
		{"other doctor cannot cancel", doctor(uuid.New()), StatusCancelled, ErrForbidden},
		{"doctor cannot dispense", doctor(prescriber), StatusDispensed, ErrForbidden},
		{"cannot reactivate", pharmacist(), StatusActive, ErrInvalid},
		{"unknown status", pharmacist(), Status("lost"), ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _ := newTestService()
			p := repo.put(&Prescription{PatientID: uuid.New(), DoctorID: prescriber, Medications: MedicationList{amoxicillin()}})

			got, err := svc.UpdateStatus(ctx, tt.id, p.ID, tt.status)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if tt.want == nil && got.Status != tt.status {
				t.Errorf("status = %s, want %s", got.Status, tt.status)
			}
		})
	}
}

func TestService_UpdateStatusOnlyFromActive(t *testing.T) {
	svc, repo, _ := newTestService()
	p := repo.put(&Prescription{PatientID: uuid.New(), DoctorID: uuid.New(), Status: StatusDispensed})

	if _, err := svc.UpdateStatus(context.Background(), pharmacist(), p.ID, StatusDispensed); !errors.Is(err, ErrConflict) {
		t.Errorf("got %v, want ErrConflict", err)
	}
}
