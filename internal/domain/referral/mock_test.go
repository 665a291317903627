package referral

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// mockRepo enforces the same source-state rules as the Postgres repository.
type mockRepo struct {
	mu        sync.Mutex
	store     map[uuid.UUID]*Referral
	specialty map[uuid.UUID]string
	calls     []string
	err       error
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*Referral), specialty: make(map[uuid.UUID]string)}
}

func (m *mockRepo) record(call string) error {
	m.calls = append(m.calls, call)
	return m.err
}

func (m *mockRepo) put(r *Referral) *Referral {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.store[r.ID] = r
	return r
}

func (m *mockRepo) copyOf(r *Referral) *Referral {
	c := *r
	return &c
}

func (m *mockRepo) addressed(r *Referral, doctorID uuid.UUID) bool {
	return r.AddressedTo(doctorID, m.specialty[doctorID])
}

func (m *mockRepo) DoctorSpecialty(_ context.Context, doctorID uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.specialty[doctorID], nil
}

func (m *mockRepo) ListReceived(_ context.Context, doctorID uuid.UUID) ([]*Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ListReceived"); err != nil {
		return nil, err
	}
	var out []*Referral
	for _, r := range m.store {
		if m.addressed(r, doctorID) && (!r.IsOpen() || r.Status == StatusPending) {
			out = append(out, m.copyOf(r))
		}
	}
	return out, nil
}

func (m *mockRepo) ListSent(_ context.Context, doctorID uuid.UUID) ([]*Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ListSent"); err != nil {
		return nil, err
	}
	var out []*Referral
	for _, r := range m.store {
		if r.FromDoctorID == doctorID {
			out = append(out, m.copyOf(r))
		}
	}
	return out, nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.copyOf(r), nil
}

func (m *mockRepo) Create(_ context.Context, r *Referral) (*Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("Create"); err != nil {
		return nil, err
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	m.store[r.ID] = m.copyOf(r)
	return m.copyOf(r), nil
}

func (m *mockRepo) transition(call string, id, doctorID uuid.UUID, who actor, from Status, apply func(*Referral)) (*Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(call); err != nil {
		return nil, err
	}
	r, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !mayAct(r, doctorID, who, m.specialty[doctorID]) {
		return nil, ErrForbidden
	}
	if r.Status != from {
		return nil, ErrConflict
	}
	apply(r)
	r.UpdatedAt = time.Now()
	return m.copyOf(r), nil
}

func (m *mockRepo) Accept(_ context.Context, id, doctorID uuid.UUID, msg *string) (*Referral, error) {
	return m.transition("Accept", id, doctorID, actorRecipient, StatusPending,
		func(r *Referral) {
			r.Status = StatusAccepted
			r.ToDoctorID = &doctorID
			r.ResponseMessage = msg
		})
}

func (m *mockRepo) Decline(_ context.Context, id, doctorID uuid.UUID, msg string) (*Referral, error) {
	return m.transition("Decline", id, doctorID, actorRecipient, StatusPending,
		func(r *Referral) {
			r.Status = StatusDeclined
			r.ToDoctorID = &doctorID
			r.ResponseMessage = &msg
		})
}

func (m *mockRepo) Complete(_ context.Context, id, doctorID uuid.UUID) (*Referral, error) {
	return m.transition("Complete", id, doctorID, actorAssignee, StatusAccepted,
		func(r *Referral) { r.Status = StatusCompleted })
}

func (m *mockRepo) Cancel(_ context.Context, id, doctorID uuid.UUID) (*Referral, error) {
	return m.transition("Cancel", id, doctorID, actorSender, StatusPending,
		func(r *Referral) { r.Status = StatusCancelled })
}

func (m *mockRepo) ExpirePending(_ context.Context, before time.Time) ([]*Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ExpirePending"); err != nil {
		return nil, err
	}
	var out []*Referral
	for _, r := range m.store {
		if r.Status == StatusPending && r.CreatedAt.Before(before) {
			r.Status = StatusExpired
			out = append(out, m.copyOf(r))
		}
	}
	return out, nil
}

func (m *mockRepo) mutations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		switch c {
		case "Accept", "Decline", "Complete", "Cancel", "Create", "ExpirePending":
			out = append(out, c)
		}
	}
	return out
}

func strPtr(s string) *string { return &s }

func pendingReferral(from, to uuid.UUID) *Referral {
	return &Referral{
		PatientID:           uuid.New(),
		FromDoctorID:        from,
		ToDoctorID:          &to,
		ReasonForReferral:   "Chest pain on exertion",
		Urgency:             UrgencyUrgent,
		Status:              StatusPending,
		PatientFirstName:    "Ada",
		PatientLastName:     "Lovelace",
		FromDoctorFirstName: "Gregory",
		FromDoctorLastName:  "House",
		ToDoctorFirstName:   strPtr("Lisa"),
		ToDoctorLastName:    strPtr("Cuddy"),
		FromDoctorUserID:    strPtr("house"),
		ToDoctorUserID:      strPtr("cuddy"),
		CreatedAt:           time.Now().Add(-time.Hour),
	}
}
