// Package notification delivers the one-line notices that tell a user how a
// mutating operation went. Notices are pushed on the user's WebSocket topic
// and echoed in the HTTP response that triggered them.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medscribe/medscribe/internal/platform/db"
	"github.com/medscribe/medscribe/internal/platform/websocket"
)

type Level string

const (
	LevelSuccess    Level = "success"
	LevelError      Level = "error"
	LevelValidation Level = "validation"
)

// Notice is a single user-facing outcome message.
type Notice struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Operation string    `json:"operation"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	UserID    string    `json:"-"`
	TenantID  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier delivers notices to users.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Template is a notice text with {{key}} placeholders.
type Template struct {
	ID      string
	Level   Level
	Title   string
	Message string
}

// TemplateEngine renders notices from registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
	return e
}

var builtIn = []Template{
	{ID: "referral.accepted", Level: LevelSuccess, Title: "Referral accepted", Message: "You accepted the referral for {{patient_name}}."},
	{ID: "referral.declined", Level: LevelSuccess, Title: "Referral declined", Message: "You declined the referral for {{patient_name}}."},
	{ID: "referral.completed", Level: LevelSuccess, Title: "Referral completed", Message: "The referral for {{patient_name}} is marked as completed."},
	{ID: "referral.created", Level: LevelSuccess, Title: "Referral sent", Message: "Your referral for {{patient_name}} was sent."},
	{ID: "referral.cancelled", Level: LevelSuccess, Title: "Referral cancelled", Message: "The referral for {{patient_name}} was cancelled."},
	{ID: "referral.failed", Level: LevelError, Title: "Error", Message: "Failed to {{action}} referral. Please try again."},
	{ID: "chat.session.created", Level: LevelSuccess, Title: "Chat created", Message: "Started \"{{title}}\"."},
	{ID: "chat.session.deleted", Level: LevelSuccess, Title: "Chat deleted", Message: "The conversation was deleted."},
	{ID: "chat.message.sent", Level: LevelSuccess, Title: "Assistant replied", Message: "The assistant answered your message."},
	{ID: "chat.session.failed", Level: LevelError, Title: "Error", Message: "Failed to {{action}} chat session. Please try again."},
	{ID: "chat.message.failed", Level: LevelError, Title: "Assistant unavailable", Message: "{{reason}}"},
	{ID: "prescription.created", Level: LevelSuccess, Title: "Prescription created", Message: "Prescription with {{count}} medication(s) saved."},
	{ID: "prescription.status", Level: LevelSuccess, Title: "Prescription updated", Message: "Prescription marked as {{status}}."},
	{ID: "prescription.failed", Level: LevelError, Title: "Error", Message: "Failed to {{action}} prescription. Please try again."},
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render builds a notice from templateID. Placeholders without data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (Notice, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return Notice{}, fmt.Errorf("template %q not found", templateID)
	}

	title, msg := t.Title, t.Message
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		msg = strings.ReplaceAll(msg, placeholder, v)
	}
	return Notice{Level: t.Level, Operation: templateID, Title: title, Message: msg}, nil
}

// Validation builds a validation notice carrying err's text.
func Validation(operation string, err error) Notice {
	return Notice{Level: LevelValidation, Operation: operation, Title: "Validation error", Message: err.Error()}
}

// HubNotifier pushes notices onto the user's WebSocket topic.
type HubNotifier struct {
	pub    websocket.Publisher
	logger zerolog.Logger
}

func NewHubNotifier(pub websocket.Publisher, logger zerolog.Logger) *HubNotifier {
	return &HubNotifier{pub: pub, logger: logger.With().Str("component", "notifier").Logger()}
}

func (n *HubNotifier) Notify(ctx context.Context, notice Notice) error {
	if notice.UserID == "" || notice.TenantID == "" {
		return fmt.Errorf("notice %s has no recipient", notice.Operation)
	}
	stamp(&notice)

	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	n.logger.Debug().
		Str("user_id", notice.UserID).
		Str("operation", notice.Operation).
		Str("level", string(notice.Level)).
		Msg("notice")

	return n.pub.Publish(ctx, websocket.Message{
		Type:      "notice",
		Topic:     websocket.UserTopic(notice.TenantID, notice.UserID),
		Timestamp: notice.CreatedAt,
		Data:      data,
	})
}

func stamp(n *Notice) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
}

// Recorder is an in-memory Notifier for tests.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
	Err     error
}

func (r *Recorder) Notify(_ context.Context, n Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stamp(&n)
	r.notices = append(r.notices, n)
	return r.Err
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Envelope is the JSON body of every mutating endpoint: the result, or an
// error, plus the notice delivered for it.
type Envelope struct {
	Data   any     `json:"data,omitempty"`
	Error  string  `json:"error,omitempty"`
	Notice *Notice `json:"notice,omitempty"`
}

// Responder sends a notice and writes it into the HTTP response. Delivery
// failures are logged and never change the response.
type Responder struct {
	notifier  Notifier
	templates *TemplateEngine
	logger    zerolog.Logger
}

func NewResponder(notifier Notifier, templates *TemplateEngine, logger zerolog.Logger) *Responder {
	return &Responder{notifier: notifier, templates: templates, logger: logger}
}

// Render builds a notice from a template, falling back to a bare notice when
// the template is unknown.
func (r *Responder) Render(templateID string, data map[string]string) Notice {
	n, err := r.templates.Render(templateID, data)
	if err != nil {
		r.logger.Warn().Err(err).Msg("render notice")
		return Notice{Level: LevelError, Operation: templateID, Title: "Notice", Message: templateID}
	}
	return n
}

// Deliver stamps notice with the recipient and sends it.
func (r *Responder) Deliver(ctx context.Context, userID string, notice Notice) Notice {
	notice.UserID = userID
	notice.TenantID = db.TenantFromContext(ctx)
	stamp(&notice)
	if err := r.notifier.Notify(ctx, notice); err != nil {
		r.logger.Error().Err(err).
			Str("user_id", userID).
			Str("operation", notice.Operation).
			Msg("deliver notice")
	}
	return notice
}

// Success delivers notice and writes data with the given status.
func (r *Responder) Success(c echo.Context, userID string, status int, data any, notice Notice) error {
	notice = r.Deliver(c.Request().Context(), userID, notice)
	return c.JSON(status, Envelope{Data: data, Notice: &notice})
}

// Failure delivers notice and writes the error with the given status.
func (r *Responder) Failure(c echo.Context, userID string, status int, err error, notice Notice) error {
	notice = r.Deliver(c.Request().Context(), userID, notice)
	msg := http.StatusText(status)
	if status < http.StatusInternalServerError && err != nil {
		msg = err.Error()
	}
	return c.JSON(status, Envelope{Error: msg, Notice: &notice})
}
