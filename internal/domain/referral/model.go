package referral

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"

	// StatusAll disables status filtering.
	StatusAll Status = "all"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusAccepted: true, StatusDeclined: true,
	StatusCompleted: true, StatusCancelled: true, StatusExpired: true,
}

// Valid reports whether s is one of the six lifecycle statuses.
func (s Status) Valid() bool { return validStatuses[s] }

type Urgency string

const (
	UrgencyRoutine Urgency = "routine"
	UrgencyUrgent  Urgency = "urgent"
	UrgencyStat    Urgency = "stat"
)

func (u Urgency) Valid() bool {
	return u == UrgencyRoutine || u == UrgencyUrgent || u == UrgencyStat
}

// Referral is a hand-off of a patient from one doctor to another doctor, or
// to every doctor of a specialty when ToDoctorID is nil.
type Referral struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	FromDoctorID      uuid.UUID  `db:"from_doctor_id" json:"from_doctor_id"`
	ToDoctorID        *uuid.UUID `db:"to_doctor_id" json:"to_doctor_id,omitempty"`
	SOAPNoteID        *uuid.UUID `db:"soap_note_id" json:"soap_note_id,omitempty"`
	ReasonForReferral string     `db:"reason_for_referral" json:"reason_for_referral"`
	ClinicalQuestion  *string    `db:"clinical_question" json:"clinical_question,omitempty"`
	Urgency           Urgency    `db:"urgency" json:"urgency"`
	Status            Status     `db:"status" json:"status"`
	SpecialtyRequired *string    `db:"specialty_required" json:"specialty_required,omitempty"`
	ResponseMessage   *string    `db:"response_message" json:"response_message,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`

	PatientFirstName    string  `json:"patient_first_name"`
	PatientLastName     string  `json:"patient_last_name"`
	FromDoctorFirstName string  `json:"from_doctor_first_name"`
	FromDoctorLastName  string  `json:"from_doctor_last_name"`
	ToDoctorFirstName   *string `json:"to_doctor_first_name,omitempty"`
	ToDoctorLastName    *string `json:"to_doctor_last_name,omitempty"`

	// Login ids of the two doctors, used to address notices and events.
	FromDoctorUserID *string `json:"-"`
	ToDoctorUserID   *string `json:"-"`
}

// VisibleSOAPNoteID returns the linked SOAP note only once the referral has
// been accepted.
func (r *Referral) VisibleSOAPNoteID() *uuid.UUID {
	if r.Status == StatusAccepted || r.Status == StatusCompleted {
		return r.SOAPNoteID
	}
	return nil
}

// MarshalJSON hides the SOAP note link until it is visible.
func (r Referral) MarshalJSON() ([]byte, error) {
	type plain Referral
	out := plain(r)
	out.SOAPNoteID = r.VisibleSOAPNoteID()
	return json.Marshal(out)
}

func (r *Referral) PatientName() string {
	return strings.TrimSpace(r.PatientFirstName + " " + r.PatientLastName)
}

// IsOpen reports whether the referral targets a specialty pool rather than a doctor.
func (r *Referral) IsOpen() bool { return r.ToDoctorID == nil }

// AddressedTo reports whether r was sent to doctorID directly or, while
// open, through the pool of the doctor's specialty.
func (r *Referral) AddressedTo(doctorID uuid.UUID, specialty string) bool {
	if r.ToDoctorID != nil {
		return *r.ToDoctorID == doctorID
	}
	return r.SpecialtyRequired != nil && specialty != "" && strings.EqualFold(*r.SpecialtyRequired, specialty)
}

// VisibleTo reports whether doctorID may read r: as its sender, its
// recipient, or a member of the pool it is still pending in.
func (r *Referral) VisibleTo(doctorID uuid.UUID, specialty string) bool {
	if r.FromDoctorID == doctorID {
		return true
	}
	if r.IsOpen() && r.Status != StatusPending {
		return false
	}
	return r.AddressedTo(doctorID, specialty)
}

// Direction is the side of a referral a doctor is looking from.
type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionSent     Direction = "sent"
)

type Action string

const (
	ActionAccept   Action = "accept"
	ActionDecline  Action = "decline"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

// Actions lists the transitions offered to a doctor viewing r from dir.
func (r *Referral) Actions(dir Direction) []Action {
	switch {
	case dir == DirectionReceived && r.Status == StatusPending:
		return []Action{ActionAccept, ActionDecline}
	case dir == DirectionReceived && r.Status == StatusAccepted:
		return []Action{ActionComplete}
	case dir == DirectionSent && r.Status == StatusPending:
		return []Action{ActionCancel}
	}
	return nil
}

// Counterpart returns the name of the doctor on the other side of r.
func (r *Referral) Counterpart(dir Direction) (first, last string) {
	if dir == DirectionSent {
		return deref(r.ToDoctorFirstName), deref(r.ToDoctorLastName)
	}
	return r.FromDoctorFirstName, r.FromDoctorLastName
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
