package chat

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medscribe/medscribe/internal/platform/auth"
	"github.com/medscribe/medscribe/internal/platform/db"
	"github.com/medscribe/medscribe/internal/platform/notification"
)

type Handler struct {
	registry  *Registry
	responder *notification.Responder
	now       func() time.Time
}

func NewHandler(registry *Registry, responder *notification.Responder) *Handler {
	return &Handler{registry: registry, responder: responder, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/chat", auth.RequireRole("patient", "doctor", "pharmacist"))
	g.GET("/sessions", h.ListSessions)
	g.POST("/sessions", h.CreateSession)
	g.DELETE("/sessions/:id", h.DeleteSession)
	g.GET("/sessions/:id/messages", h.ListMessages)
	g.POST("/messages", h.SendMessage)
}

func (h *Handler) manager(c echo.Context) (*Manager, auth.Identity) {
	ctx := c.Request().Context()
	id, _ := auth.IdentityFromContext(ctx)
	return h.registry.For(db.TenantFromContext(ctx), id), id
}

type sessionItem struct {
	*Session
	Label string `json:"label"`
}

type sessionList struct {
	Data       []sessionItem `json:"data"`
	Total      int           `json:"total"`
	SelectedID *uuid.UUID    `json:"selected_session_id,omitempty"`
}

func (h *Handler) ListSessions(c echo.Context) error {
	m, _ := h.manager(c)
	sessions, err := m.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	now := h.now()
	items := make([]sessionItem, len(sessions))
	for i, s := range sessions {
		items[i] = sessionItem{Session: s, Label: SessionLabel(s, now)}
	}
	resp := sessionList{Data: items, Total: len(items)}
	if sel := m.Selected(); sel != uuid.Nil {
		resp.SelectedID = &sel
	}
	return c.JSON(http.StatusOK, resp)
}

type createSessionRequest struct {
	Title     string     `json:"title"`
	PatientID *uuid.UUID `json:"patient_id"`
}

func (h *Handler) CreateSession(c echo.Context) error {
	m, id := h.manager(c)
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return h.sessionFailure(c, id, "create", err)
	}
	var patientID uuid.UUID
	if req.PatientID != nil {
		patientID = *req.PatientID
	}
	s, err := m.Create(c.Request().Context(), patientID, req.Title)
	if err != nil {
		return h.sessionFailure(c, id, "create", err)
	}
	notice := h.responder.Render("chat.session.created", map[string]string{"title": s.Title})
	return h.responder.Success(c, id.UserID, http.StatusCreated, s, notice)
}

func (h *Handler) DeleteSession(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, id := h.manager(c)
	if err := m.Delete(c.Request().Context(), sessionID); err != nil {
		return h.sessionFailure(c, id, "delete", err)
	}
	notice := h.responder.Render("chat.session.deleted", nil)
	return h.responder.Success(c, id.UserID, http.StatusOK, map[string]string{"id": sessionID.String()}, notice)
}

func (h *Handler) ListMessages(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, _ := h.manager(c)
	msgs, err := m.Messages(c.Request().Context(), sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "chat session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{"data": msgs, "total": len(msgs)})
}

type sendRequest struct {
	SessionID *uuid.UUID `json:"session_id"`
	PatientID *uuid.UUID `json:"patient_id"`
	Message   string     `json:"message"`
}

func (h *Handler) SendMessage(c echo.Context) error {
	ctx := c.Request().Context()
	m, id := h.manager(c)

	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return h.sendFailure(c, id, err)
	}
	if req.SessionID != nil {
		if _, err := m.Select(ctx, *req.SessionID); err != nil {
			return h.sendFailure(c, id, err)
		}
	}
	var patientID uuid.UUID
	if req.PatientID != nil {
		patientID = *req.PatientID
	}

	res, err := m.Send(ctx, patientID, req.Message)
	if err != nil {
		return h.sendFailure(c, id, err)
	}
	if res.AssistantErr != nil {
		notice := h.responder.Render("chat.message.failed", map[string]string{"reason": FailureReason(res.AssistantErr)})
		return h.responder.Success(c, id.UserID, http.StatusOK, res, notice)
	}
	notice := h.responder.Render("chat.message.sent", nil)
	return h.responder.Success(c, id.UserID, http.StatusOK, res, notice)
}

func (h *Handler) sessionFailure(c echo.Context, id auth.Identity, action string, err error) error {
	status := statusFor(err)
	notice := h.responder.Render("chat.session.failed", map[string]string{"action": action})
	if status == http.StatusBadRequest {
		notice = notification.Validation("chat.session."+action, err)
	}
	return h.responder.Failure(c, id.UserID, status, err, notice)
}

func (h *Handler) sendFailure(c echo.Context, id auth.Identity, err error) error {
	status := statusFor(err)
	var notice notification.Notice
	switch status {
	case http.StatusBadRequest:
		notice = notification.Validation("chat.message", err)
	case http.StatusInternalServerError:
		notice = h.responder.Render("chat.message.failed", map[string]string{"reason": "Failed to send message. Please try again."})
	default:
		notice = h.responder.Render("chat.message.failed", map[string]string{"reason": err.Error()})
	}
	return h.responder.Failure(c, id.UserID, status, err, notice)
}

func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrNoPatient):
		return http.StatusBadRequest
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSendInFlight):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
