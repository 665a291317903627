package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("chat session not found")
	ErrNoPatient    = errors.New("a patient is required to start a chat")
	ErrEmptyMessage = errors.New("message must not be empty")
	ErrSendInFlight = errors.New("a message is already being sent")
)

type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	// ListByUser returns the user's sessions, most recently active first.
	ListByUser(ctx context.Context, userID string) ([]*Session, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type MessageRepository interface {
	// Append stores m and bumps the session's message count and last
	// message time.
	Append(ctx context.Context, m *Message) error
	// ListBySession returns the log in creation order.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*Message, error)
}
