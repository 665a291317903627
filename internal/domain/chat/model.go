package chat

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/medscribe/medscribe/internal/platform/assistant"
)

type UserType string

const (
	UserTypePatient  UserType = "patient"
	UserTypeDoctor   UserType = "doctor"
	UserTypePharmacy UserType = "pharmacy"
)

func (u UserType) Valid() bool {
	return u == UserTypePatient || u == UserTypeDoctor || u == UserTypePharmacy
}

// Session is one conversation about a single patient.
type Session struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Title         string     `db:"title" json:"title"`
	MessageCount  int        `db:"message_count" json:"message_count"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	UserID        string     `db:"user_id" json:"user_id"`
	UserType      UserType   `db:"user_type" json:"user_type"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one entry of a session's append-only log. The retrieval
// fields are set on assistant messages only.
type Message struct {
	ID                     uuid.UUID                    `db:"id" json:"id"`
	SessionID              uuid.UUID                    `db:"session_id" json:"session_id"`
	Sender                 Sender                       `db:"sender" json:"sender"`
	Content                string                       `db:"content" json:"content"`
	ContextUsed            *bool                        `db:"context_used" json:"context_used,omitempty"`
	RelevantDocuments      []assistant.RelevantDocument `db:"relevant_documents" json:"relevant_documents,omitempty"`
	RelevantDocumentsCount *int                         `db:"relevant_documents_count" json:"relevant_documents_count,omitempty"`
	ProcessingTime         *float64                     `db:"processing_time" json:"processing_time,omitempty"`
	CreatedAt              time.Time                    `db:"created_at" json:"created_at"`
}

// FallbackReply is appended in place of an assistant answer when the
// assistant call fails.
const FallbackReply = "I'm sorry, I'm having trouble responding right now. Please try again in a moment. If the problem persists, please contact support."

const titleMaxRunes = 50

// TitleFromMessage derives a session title from the first user message:
// its first 50 characters, with "..." appended when cut.
func TitleFromMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if utf8.RuneCountInString(msg) <= titleMaxRunes {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:titleMaxRunes]) + "..."
}

// DefaultTitle names a session created without a title.
func DefaultTitle(now time.Time) string {
	return "New Chat - " + now.Format("Jan 2, 2006")
}

// SessionLabel is the secondary line shown under a session title in a list.
func SessionLabel(s *Session, now time.Time) string {
	if s.LastMessageAt == nil || s.MessageCount == 0 {
		return "No messages yet"
	}
	count := fmt.Sprintf("%d messages", s.MessageCount)
	if s.MessageCount == 1 {
		count = "1 message"
	}

	last := s.LastMessageAt.In(now.Location())
	y1, m1, d1 := last.Date()
	y2, m2, d2 := now.Date()
	switch {
	case y1 == y2 && m1 == m2 && d1 == d2:
		return count + " · Today " + last.Format("15:04")
	case y1 == y2:
		return count + " · " + last.Format("Jan 2")
	}
	return count + " · " + last.Format("Jan 2, 2006")
}
