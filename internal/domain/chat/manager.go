package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medscribe/medscribe/internal/platform/assistant"
	"github.com/medscribe/medscribe/internal/platform/auth"
	"github.com/medscribe/medscribe/internal/platform/db"
	"github.com/medscribe/medscribe/internal/platform/events"
	"github.com/medscribe/medscribe/internal/platform/websocket"
)

// Event types published for session lifecycle changes.
const (
	EventSessionCreated = "chat.session.created"
	EventSessionDeleted = "chat.session.deleted"
)

// Assistant answers a patient-scoped question.
type Assistant interface {
	Chat(ctx context.Context, req assistant.Request) (*assistant.Reply, error)
}

// Deps are the collaborators shared by every Manager.
type Deps struct {
	Sessions  SessionRepository
	Messages  MessageRepository
	Assistant Assistant
	Events    *events.Emitter
	Logger    zerolog.Logger
}

// Manager is the state of one chat interface for one user: which session is
// selected and whether a send is in flight.
type Manager struct {
	deps     Deps
	identity auth.Identity
	now      func() time.Time

	mu       sync.Mutex
	selected uuid.UUID
	loading  bool
	lastUsed time.Time
}

func NewManager(deps Deps, identity auth.Identity) *Manager {
	return &Manager{deps: deps, identity: identity, now: time.Now, lastUsed: time.Now()}
}

func (m *Manager) Selected() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// Loading reports whether a send is in flight.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

func (m *Manager) touch() {
	m.mu.Lock()
	m.lastUsed = m.now()
	m.mu.Unlock()
}

func (m *Manager) idleSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUsed
}

func (m *Manager) userType() UserType {
	if t := UserType(m.identity.UserType); t.Valid() {
		return t
	}
	return UserTypePatient
}

// List returns the user's sessions, most recently active first. A selection
// that is no longer listed is dropped, and when nothing is selected the first
// session becomes the selection.
func (m *Manager) List(ctx context.Context) ([]*Session, error) {
	m.touch()
	sessions, err := m.deps.Sessions.ListByUser(ctx, m.identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("list chat sessions: %w", err)
	}
	m.mu.Lock()
	if m.selected != uuid.Nil && !containsSession(sessions, m.selected) {
		m.selected = uuid.Nil
	}
	if m.selected == uuid.Nil && len(sessions) > 0 {
		m.selected = sessions[0].ID
	}
	m.mu.Unlock()
	return sessions, nil
}

func containsSession(sessions []*Session, id uuid.UUID) bool {
	for _, s := range sessions {
		if s.ID == id {
			return true
		}
	}
	return false
}

// clearSelection drops id if it is still the selection.
func (m *Manager) clearSelection(id uuid.UUID) {
	m.mu.Lock()
	if m.selected == id {
		m.selected = uuid.Nil
	}
	m.mu.Unlock()
}

// Create starts a session for patientID and selects it. A blank title gets
// a dated default.
func (m *Manager) Create(ctx context.Context, patientID uuid.UUID, title string) (*Session, error) {
	m.touch()
	patientID, err := m.resolvePatient(patientID)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle(m.now())
	}

	s := &Session{
		Title:     title,
		UserID:    m.identity.UserID,
		UserType:  m.userType(),
		PatientID: patientID,
	}
	if err := m.deps.Sessions.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create chat session: %w", err)
	}
	m.deps.Events.Emit(ctx, db.TenantFromContext(ctx), EventSessionCreated, s.ID.String(), s,
		websocket.UserTopic(db.TenantFromContext(ctx), m.identity.UserID))

	m.mu.Lock()
	m.selected = s.ID
	m.mu.Unlock()
	return s, nil
}

// resolvePatient pins patients to their own record; other users must name
// the patient the conversation is about.
func (m *Manager) resolvePatient(requested uuid.UUID) (uuid.UUID, error) {
	if m.identity.IsPatient() {
		if requested != uuid.Nil && requested != m.identity.PatientID {
			return uuid.Nil, ErrNoPatient
		}
		return m.identity.PatientID, nil
	}
	if requested == uuid.Nil {
		return uuid.Nil, ErrNoPatient
	}
	return requested, nil
}

func (m *Manager) owned(ctx context.Context, id uuid.UUID) (*Session, error) {
	s, err := m.deps.Sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.UserID != m.identity.UserID {
		return nil, ErrNotFound
	}
	return s, nil
}

// Select points the interface at a session the user owns.
func (m *Manager) Select(ctx context.Context, id uuid.UUID) (*Session, error) {
	m.touch()
	s, err := m.owned(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.selected = id
	m.mu.Unlock()
	return s, nil
}

// Messages selects the session and returns its log in creation order.
func (m *Manager) Messages(ctx context.Context, id uuid.UUID) ([]*Message, error) {
	if _, err := m.Select(ctx, id); err != nil {
		return nil, err
	}
	msgs, err := m.deps.Messages.ListBySession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	return msgs, nil
}

// Delete removes a session, clearing the selection if it pointed there.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	m.touch()
	s, err := m.owned(ctx, id)
	if err != nil {
		return err
	}
	if err := m.deps.Sessions.Delete(ctx, id); err != nil {
		return err
	}
	m.deps.Events.Emit(ctx, db.TenantFromContext(ctx), EventSessionDeleted, id.String(), s,
		websocket.UserTopic(db.TenantFromContext(ctx), m.identity.UserID))

	m.clearSelection(id)
	return nil
}

// SendResult is the outcome of a send. AssistantErr is set when the
// assistant failed or its reply could not be stored; Reply then holds the
// fallback message.
type SendResult struct {
	Session        *Session `json:"session"`
	SessionCreated bool     `json:"session_created"`
	User           *Message `json:"user_message"`
	Reply          *Message `json:"assistant_message"`
	AssistantErr   error    `json:"-"`
}

// Send appends the user's message to the selected session (creating one
// titled after the message when nothing is selected), asks the assistant,
// and appends its reply. An assistant failure is not an error: the
// fallback reply is appended instead and reported in AssistantErr. Only one
// send runs at a time per Manager.
func (m *Manager) Send(ctx context.Context, patientID uuid.UUID, text string) (*SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	m.mu.Lock()
	if m.loading {
		m.mu.Unlock()
		return nil, ErrSendInFlight
	}
	m.loading = true
	selected := m.selected
	m.lastUsed = m.now()
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.loading = false
		m.mu.Unlock()
	}()

	res := &SendResult{}
	var err error
	if selected == uuid.Nil {
		res.Session, err = m.Create(ctx, patientID, TitleFromMessage(text))
		res.SessionCreated = true
	} else {
		res.Session, err = m.owned(ctx, selected)
		if errors.Is(err, ErrNotFound) {
			m.clearSelection(selected)
		}
	}
	if err != nil {
		return nil, err
	}

	res.User = &Message{SessionID: res.Session.ID, Sender: SenderUser, Content: text}
	if err := m.deps.Messages.Append(ctx, res.User); err != nil {
		return res, fmt.Errorf("append user message: %w", err)
	}

	reply, err := m.deps.Assistant.Chat(ctx, assistant.Request{
		Message:   text,
		PatientID: res.Session.PatientID.String(),
	})
	if err == nil {
		msg := &Message{
			SessionID:              res.Session.ID,
			Sender:                 SenderAssistant,
			Content:                reply.Message,
			ContextUsed:            reply.ContextUsed,
			RelevantDocuments:      reply.RelevantDocuments,
			RelevantDocumentsCount: reply.RelevantDocumentsCount,
			ProcessingTime:         reply.ProcessingTime,
		}
		if err = m.deps.Messages.Append(ctx, msg); err == nil {
			res.Reply = msg
			return res, nil
		}
		err = fmt.Errorf("append assistant message: %w", err)
	}

	// Every user message gets an assistant reply, the fallback if need be.
	res.AssistantErr = err
	fallback := &Message{SessionID: res.Session.ID, Sender: SenderAssistant, Content: FallbackReply}
	if appendErr := m.deps.Messages.Append(ctx, fallback); appendErr != nil {
		m.deps.Logger.Error().Err(appendErr).
			Str("session_id", res.Session.ID.String()).
			AnErr("assistant_error", err).
			Msg("append fallback reply")
		return res, nil
	}
	res.Reply = fallback
	return res, nil
}

// FailureReason is the user-facing text for an assistant failure.
func FailureReason(err error) string {
	var ae *assistant.Error
	if errors.As(err, &ae) && ae.Reason != "" {
		return "The assistant could not answer: " + ae.Reason
	}
	return "The assistant could not answer. Please try again."
}
