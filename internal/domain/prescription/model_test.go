package prescription

import (
	"errors"
	"testing"
)

func TestMedication_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Medication)
		wantErr bool
	}{
		{"complete", func(*Medication) {}, false},
		{"instructions optional", func(m *Medication) { m.Instructions = "" }, false},
		{"missing name", func(m *Medication) { m.Name = "" }, true},
		{"blank dosage", func(m *Medication) { m.Dosage = "  " }, true},
		{"missing frequency", func(m *Medication) { m.Frequency = "" }, true},
		{"missing duration", func(m *Medication) { m.Duration = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := amoxicillin()
			tt.mutate(&m)
			err := m.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrIncompleteMedication) {
				t.Errorf("expected ErrIncompleteMedication, got %v", err)
			}
		})
	}
}

func TestMedicationList_AddLeavesOriginal(t *testing.T) {
	orig := MedicationList{amoxicillin()}
	next := orig.Add(Medication{Name: "Ibuprofen", Dosage: "200mg", Frequency: "as needed", Duration: "5 days"})

	if len(orig) != 1 {
		t.Fatalf("original changed: len %d", len(orig))
	}
	if len(next) != 2 || next[1].Name != "Ibuprofen" {
		t.Fatalf("unexpected list: %+v", next)
	}
}

func TestMedicationList_UpdateLeavesOriginal(t *testing.T) {
	orig := MedicationList{amoxicillin()}
	changed := amoxicillin()
	changed.Dosage = "250mg"

	next, err := orig.Update(0, changed)
	if err != nil {
		t.Fatal(err)
	}
	if orig[0].Dosage != "500mg" {
		t.Errorf("original dosage changed to %q", orig[0].Dosage)
	}
	if next[0].Dosage != "250mg" {
		t.Errorf("updated dosage = %q", next[0].Dosage)
	}
	if _, err := orig.Update(3, changed); err == nil {
		t.Error("expected out of range error")
	}
}

func TestMedicationList_RemoveLeavesOriginal(t *testing.T) {
	second := amoxicillin()
	second.Name = "Metformin"
	orig := MedicationList{amoxicillin(), second}

	next, err := orig.Remove(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(orig) != 2 || orig[0].Name != "Amoxicillin" {
		t.Errorf("original changed: %+v", orig)
	}
	if len(next) != 1 || next[0].Name != "Metformin" {
		t.Errorf("unexpected list: %+v", next)
	}
	if _, err := orig.Remove(-1); err == nil {
		t.Error("expected out of range error")
	}
}

func TestMedicationList_Validate(t *testing.T) {
	if err := (MedicationList{}).Validate(); !errors.Is(err, ErrIncompleteMedication) {
		t.Errorf("empty list: got %v", err)
	}
	bad := amoxicillin()
	bad.Duration = ""
	if err := (MedicationList{amoxicillin(), bad}).Validate(); !errors.Is(err, ErrIncompleteMedication) {
		t.Errorf("incomplete entry: got %v", err)
	}
	if err := (MedicationList{amoxicillin()}).Validate(); err != nil {
		t.Errorf("valid list: %v", err)
	}
}
