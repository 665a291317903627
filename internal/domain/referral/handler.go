package referral

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medscribe/medscribe/internal/platform/auth"
	"github.com/medscribe/medscribe/internal/platform/notification"
)

type Handler struct {
	gw        *Gateway
	view      *View
	responder *notification.Responder
	now       func() time.Time
}

func NewHandler(gw *Gateway, view *View, responder *notification.Responder) *Handler {
	return &Handler{gw: gw, view: view, responder: responder, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/referrals", auth.RequireDoctor())
	g.GET("/received", h.ListReceived)
	g.GET("/sent", h.ListSent)
	g.GET("/:id", h.Get)
	g.POST("", h.Create)
	g.POST("/:id/accept", h.Accept)
	g.POST("/:id/decline", h.Decline)
	g.POST("/:id/complete", h.Complete)
	g.POST("/:id/cancel", h.Cancel)
}

// Card is a referral as rendered in a list: the record plus its badges,
// relative timestamp and the actions the viewer may take.
type Card struct {
	Referral     *Referral `json:"referral"`
	StatusBadge  Badge     `json:"status_badge"`
	UrgencyBadge Badge     `json:"urgency_badge"`
	Created      string    `json:"created"`
	Actions      []Action  `json:"actions"`
}

func (h *Handler) card(r *Referral, dir Direction) Card {
	actions := r.Actions(dir)
	if actions == nil {
		actions = []Action{}
	}
	return Card{
		Referral:     r,
		StatusBadge:  StatusBadge(r.Status),
		UrgencyBadge: UrgencyBadge(r.Urgency),
		Created:      FormatRelative(r.CreatedAt, h.now()),
		Actions:      actions,
	}
}

type listResponse struct {
	Data  []Card `json:"data"`
	Total int    `json:"total"`
}

func filterFromQuery(c echo.Context) (Filter, error) {
	f := Filter{Search: c.QueryParam("search"), Status: Status(c.QueryParam("status"))}
	if f.Status != "" && f.Status != StatusAll && !f.Status.Valid() {
		return f, echo.NewHTTPError(http.StatusBadRequest, "invalid status filter")
	}
	return f, nil
}

func (h *Handler) ListReceived(c echo.Context) error {
	return h.list(c, DirectionReceived)
}

func (h *Handler) ListSent(c echo.Context) error {
	return h.list(c, DirectionSent)
}

func (h *Handler) list(c echo.Context, dir Direction) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	id, _ := auth.IdentityFromContext(ctx)

	var rs []*Referral
	if dir == DirectionSent {
		rs, err = h.view.Sent(ctx, id.DoctorID, f)
	} else {
		rs, err = h.view.Received(ctx, id.DoctorID, f)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	cards := make([]Card, len(rs))
	for i, r := range rs {
		cards[i] = h.card(r, dir)
	}
	return c.JSON(http.StatusOK, listResponse{Data: cards, Total: len(cards)})
}

func (h *Handler) Get(c echo.Context) error {
	refID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	id, _ := auth.IdentityFromContext(ctx)

	r, err := h.gw.repo.GetByID(ctx, refID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "referral not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if !id.IsDoctor() {
		return echo.NewHTTPError(http.StatusNotFound, "referral not found")
	}
	if r.FromDoctorID == id.DoctorID {
		return c.JSON(http.StatusOK, h.card(r, DirectionSent))
	}
	var specialty string
	if r.IsOpen() {
		if specialty, err = h.gw.repo.DoctorSpecialty(ctx, id.DoctorID); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	if r.VisibleTo(id.DoctorID, specialty) {
		return c.JSON(http.StatusOK, h.card(r, DirectionReceived))
	}
	return echo.NewHTTPError(http.StatusNotFound, "referral not found")
}

type createRequest struct {
	PatientID         uuid.UUID  `json:"patient_id"`
	ToDoctorID        *uuid.UUID `json:"to_doctor_id"`
	SOAPNoteID        *uuid.UUID `json:"soap_note_id"`
	ReasonForReferral string     `json:"reason_for_referral"`
	ClinicalQuestion  *string    `json:"clinical_question"`
	Urgency           Urgency    `json:"urgency"`
	SpecialtyRequired *string    `json:"specialty_required"`
}

func (h *Handler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	id, _ := auth.IdentityFromContext(ctx)

	var req createRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, id, "send", err)
	}
	ref, err := h.gw.Create(ctx, id, &Referral{
		PatientID:         req.PatientID,
		ToDoctorID:        req.ToDoctorID,
		SOAPNoteID:        req.SOAPNoteID,
		ReasonForReferral: req.ReasonForReferral,
		ClinicalQuestion:  req.ClinicalQuestion,
		Urgency:           req.Urgency,
		SpecialtyRequired: req.SpecialtyRequired,
	})
	if err != nil {
		return h.fail(c, id, "send", err)
	}
	return h.ok(c, id, http.StatusCreated, "referral.created", h.card(ref, DirectionSent))
}

type respondRequest struct {
	ResponseMessage string `json:"response_message"`
}

func (h *Handler) Accept(c echo.Context) error {
	return h.transition(c, "accept", "referral.accepted", func(p *Panel, id auth.Identity) (*Referral, error) {
		return p.Accept(c.Request().Context(), id)
	})
}

func (h *Handler) Decline(c echo.Context) error {
	return h.transition(c, "decline", "referral.declined", func(p *Panel, id auth.Identity) (*Referral, error) {
		return p.Decline(c.Request().Context(), id)
	})
}

func (h *Handler) Complete(c echo.Context) error {
	return h.transition(c, "complete", "referral.completed", func(p *Panel, id auth.Identity) (*Referral, error) {
		return p.Complete(c.Request().Context(), id)
	})
}

func (h *Handler) Cancel(c echo.Context) error {
	ctx := c.Request().Context()
	id, _ := auth.IdentityFromContext(ctx)
	refID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ref, err := h.gw.Cancel(ctx, id, refID)
	if err != nil {
		return h.fail(c, id, "cancel", err)
	}
	return h.ok(c, id, http.StatusOK, "referral.cancelled", h.card(ref, DirectionSent))
}

// transition runs one received-side action through a Panel scoped to the
// request.
func (h *Handler) transition(c echo.Context, action, templateID string, run func(*Panel, auth.Identity) (*Referral, error)) error {
	id, _ := auth.IdentityFromContext(c.Request().Context())
	refID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req respondRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return h.fail(c, id, action, err)
		}
	}

	p := NewPanel(h.gw)
	p.Select(refID)
	p.SetNotes(req.ResponseMessage)

	ref, err := run(p, id)
	if err != nil {
		return h.fail(c, id, action, err)
	}
	return h.ok(c, id, http.StatusOK, templateID, h.card(ref, DirectionReceived))
}

func (h *Handler) ok(c echo.Context, id auth.Identity, status int, templateID string, card Card) error {
	notice := h.responder.Render(templateID, map[string]string{"patient_name": card.Referral.PatientName()})
	return h.responder.Success(c, id.UserID, status, card, notice)
}

func (h *Handler) fail(c echo.Context, id auth.Identity, action string, err error) error {
	status := statusFor(err)
	var notice notification.Notice
	if status == http.StatusBadRequest {
		notice = notification.Validation("referral."+action, err)
	} else {
		notice = h.responder.Render("referral.failed", map[string]string{"action": action})
	}
	return h.responder.Failure(c, id.UserID, status, err, notice)
}

func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.Is(err, ErrResponseRequired), errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotDoctor):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
