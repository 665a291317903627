package referral

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

// Event types published for referral transitions.
const (
	EventCreated   = "referral.created"
	EventAccepted  = "referral.accepted"
	EventDeclined  = "referral.declined"
	EventCompleted = "referral.completed"
	EventCancelled = "referral.cancelled"
	EventExpired   = "referral.expired"
)

// Gateway issues referral transitions on behalf of a doctor. Each call
// reaches the store at most once and never retries.
type Gateway struct {
	repo   Repository
	events *events.Emitter
}

func NewGateway(repo Repository, emitter *events.Emitter) *Gateway {
	return &Gateway{repo: repo, events: emitter}
}

func (g *Gateway) Accept(ctx context.Context, id auth.Identity, referralID uuid.UUID, responseMessage string) (*Referral, error) {
	if !id.IsDoctor() {
		return nil, ErrNotDoctor
	}
	var msg *string
	if m := strings.TrimSpace(responseMessage); m != "" {
		msg = &m
	}
	ref, err := g.repo.Accept(ctx, referralID, id.DoctorID, msg)
	if err != nil {
		return nil, err
	}
	g.publish(ctx, EventAccepted, ref)
	return ref, nil
}

// Decline requires a non-blank response message; without one the store is
// not called.
func (g *Gateway) Decline(ctx context.Context, id auth.Identity, referralID uuid.UUID, responseMessage string) (*Referral, error) {
	msg := strings.TrimSpace(responseMessage)
	if msg == "" {
		return nil, ErrResponseRequired
	}
	if !id.IsDoctor() {
		return nil, ErrNotDoctor
	}
	ref, err := g.repo.Decline(ctx, referralID, id.DoctorID, msg)
	if err != nil {
		return nil, err
	}
	g.publish(ctx, EventDeclined, ref)
	return ref, nil
}

func (g *Gateway) Complete(ctx context.Context, id auth.Identity, referralID uuid.UUID) (*Referral, error) {
	if !id.IsDoctor() {
		return nil, ErrNotDoctor
	}
	ref, err := g.repo.Complete(ctx, referralID, id.DoctorID)
	if err != nil {
		return nil, err
	}
	g.publish(ctx, EventCompleted, ref)
	return ref, nil
}

// Cancel withdraws a pending referral; only the referring doctor may do so.
func (g *Gateway) Cancel(ctx context.Context, id auth.Identity, referralID uuid.UUID) (*Referral, error) {
	if !id.IsDoctor() {
		return nil, ErrNotDoctor
	}
	ref, err := g.repo.Cancel(ctx, referralID, id.DoctorID)
	if err != nil {
		return nil, err
	}
	g.publish(ctx, EventCancelled, ref)
	return ref, nil
}

// ErrInvalid wraps field validation failures on a new referral.
var ErrInvalid = errors.New("invalid referral")

// Create validates and stores a new pending referral from the caller.
func (g *Gateway) Create(ctx context.Context, id auth.Identity, ref *Referral) (*Referral, error) {
	if !id.IsDoctor() {
		return nil, ErrNotDoctor
	}
	if err := validateNew(ref); err != nil {
		return nil, err
	}
	if ref.ToDoctorID != nil && *ref.ToDoctorID == id.DoctorID {
		return nil, fmt.Errorf("%w: cannot refer a patient to yourself", ErrInvalid)
	}
	ref.FromDoctorID = id.DoctorID
	ref.Status = StatusPending

	created, err := g.repo.Create(ctx, ref)
	if err != nil {
		return nil, err
	}
	g.publish(ctx, EventCreated, created)
	return created, nil
}

func validateNew(ref *Referral) error {
	ref.ReasonForReferral = strings.TrimSpace(ref.ReasonForReferral)
	if ref.ReasonForReferral == "" {
		return fmt.Errorf("%w: reason_for_referral is required", ErrInvalid)
	}
	if ref.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalid)
	}
	if ref.Urgency == "" {
		ref.Urgency = UrgencyRoutine
	}
	if !ref.Urgency.Valid() {
		return fmt.Errorf("%w: unknown urgency %q", ErrInvalid, ref.Urgency)
	}
	if ref.SpecialtyRequired != nil {
		s := strings.TrimSpace(*ref.SpecialtyRequired)
		if s == "" {
			ref.SpecialtyRequired = nil
		} else {
			ref.SpecialtyRequired = &s
		}
	}
	if ref.ToDoctorID == nil && ref.SpecialtyRequired == nil {
		return fmt.Errorf("%w: to_doctor_id or specialty_required is required", ErrInvalid)
	}
	return nil
}

func (g *Gateway) publish(ctx context.Context, eventType string, ref *Referral) {
	tenant := db.TenantFromContext(ctx)
	g.events.Emit(ctx, tenant, eventType, ref.ID.String(), ref, Audience(tenant, ref)...)
}

// Audience lists the topics in tenant interested in ref: both doctors, and
// the specialty pool while the referral is still unclaimed.
func Audience(tenant string, ref *Referral) []string {
	var topics []string
	if ref.FromDoctorUserID != nil {
		topics = append(topics, websocket.UserTopic(tenant, *ref.FromDoctorUserID))
	}
	if ref.ToDoctorUserID != nil {
		topics = append(topics, websocket.UserTopic(tenant, *ref.ToDoctorUserID))
	}
	if ref.IsOpen() && ref.SpecialtyRequired != nil {
		topics = append(topics, websocket.SpecialtyTopic(tenant, *ref.SpecialtyRequired))
	}
	return topics
}
