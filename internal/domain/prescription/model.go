package prescription

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusDispensed Status = "dispensed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusDispensed || s == StatusCancelled
}

// Medication is one line of a prescription.
type Medication struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions,omitempty"`
}

// ErrIncompleteMedication is returned when a medication is missing a
// required field.
var ErrIncompleteMedication = errors.New("medication is incomplete")

// Validate reports the first missing required field.
func (m Medication) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"name", m.Name},
		{"dosage", m.Dosage},
		{"frequency", m.Frequency},
		{"duration", m.Duration},
	} {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrIncompleteMedication, f.name)
		}
	}
	return nil
}

// MedicationList is the editable list of medications on a prescription
// form. Add, Update and Remove return a new list and leave the receiver
// untouched.
type MedicationList []Medication

func (l MedicationList) clone(extra int) MedicationList {
	out := make(MedicationList, len(l), len(l)+extra)
	copy(out, l)
	return out
}

func (l MedicationList) Add(m Medication) MedicationList {
	return append(l.clone(1), m)
}

func (l MedicationList) Update(i int, m Medication) (MedicationList, error) {
	if i < 0 || i >= len(l) {
		return l, fmt.Errorf("medication index %d out of range", i)
	}
	out := l.clone(0)
	out[i] = m
	return out, nil
}

func (l MedicationList) Remove(i int) (MedicationList, error) {
	if i < 0 || i >= len(l) {
		return l, fmt.Errorf("medication index %d out of range", i)
	}
	out := make(MedicationList, 0, len(l)-1)
	out = append(out, l[:i]...)
	return append(out, l[i+1:]...), nil
}

// Validate requires at least one medication and every one complete.
func (l MedicationList) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("%w: at least one medication is required", ErrIncompleteMedication)
	}
	for i, m := range l {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("medication %d: %w", i+1, err)
		}
	}
	return nil
}

type Prescription struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	PatientID   uuid.UUID      `db:"patient_id" json:"patient_id"`
	DoctorID    uuid.UUID      `db:"doctor_id" json:"doctor_id"`
	Pharmacy    *string        `db:"pharmacy" json:"pharmacy,omitempty"`
	Status      Status         `db:"status" json:"status"`
	Medications MedicationList `db:"medications" json:"medications"`
	Notes       *string        `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}
