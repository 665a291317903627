package prescription

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medscribe/medscribe/internal/platform/auth"
	"github.com/medscribe/medscribe/internal/platform/notification"
	"github.com/medscribe/medscribe/pkg/pagination"
)

type Handler struct {
	svc       *Service
	responder *notification.Responder
}

func NewHandler(svc *Service, responder *notification.Responder) *Handler {
	return &Handler{svc: svc, responder: responder}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/prescriptions")
	g.GET("", h.List, auth.RequireRole("doctor", "pharmacist", "patient"))
	g.GET("/:id", h.Get, auth.RequireRole("doctor", "pharmacist", "patient"))
	g.POST("", h.Create, auth.RequireDoctor())
	g.PUT("/:id/status", h.UpdateStatus, auth.RequireRole("doctor", "pharmacist"))
}

type createRequest struct {
	PatientID   uuid.UUID      `json:"patient_id"`
	Pharmacy    *string        `json:"pharmacy"`
	Medications MedicationList `json:"medications"`
	Notes       *string        `json:"notes"`
}

func (h *Handler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	id, _ := auth.IdentityFromContext(ctx)

	var req createRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, id, "create", err)
	}
	p := &Prescription{
		PatientID:   req.PatientID,
		Pharmacy:    req.Pharmacy,
		Medications: req.Medications,
		Notes:       req.Notes,
	}
	if err := h.svc.Create(ctx, id, p); err != nil {
		return h.fail(c, id, "create", err)
	}
	notice := h.responder.Render("prescription.created", map[string]string{"count": strconv.Itoa(len(p.Medications))})
	return h.responder.Success(c, id.UserID, http.StatusCreated, p, notice)
}

func (h *Handler) Get(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	id, _ := auth.IdentityFromContext(ctx)
	p, err := h.svc.Get(ctx, id, pid)
	if err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	id, _ := auth.IdentityFromContext(ctx)

	patientID := id.PatientID
	if q := c.QueryParam("patient_id"); q != "" {
		parsed, err := uuid.Parse(q)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		patientID = parsed
	}
	if patientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(ctx, id, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	if items == nil {
		items = []*Prescription{}
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset)
	resp.Links = pg.Links(c.Request().URL.Path, "patient_id="+patientID.String(), total)
	return c.JSON(http.StatusOK, resp)
}

type statusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	id, _ := auth.IdentityFromContext(ctx)

	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, id, "update", err)
	}
	p, err := h.svc.UpdateStatus(ctx, id, pid, req.Status)
	if err != nil {
		return h.fail(c, id, "update", err)
	}
	notice := h.responder.Render("prescription.status", map[string]string{"status": string(p.Status)})
	return h.responder.Success(c, id.UserID, http.StatusOK, p, notice)
}

func (h *Handler) fail(c echo.Context, id auth.Identity, action string, err error) error {
	status := statusFor(err)
	var notice notification.Notice
	if status == http.StatusBadRequest {
		notice = notification.Validation("prescription."+action, err)
	} else {
		notice = h.responder.Render("prescription.failed", map[string]string{"action": action})
	}
	return h.responder.Failure(c, id.UserID, status, err, notice)
}

func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.Is(err, ErrIncompleteMedication), errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
