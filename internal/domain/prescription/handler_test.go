package prescription

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medscribe/medscribe/internal/platform/auth"
	"github.com/medscribe/medscribe/internal/platform/notification"
	"github.com/medscribe/medscribe/pkg/pagination"
)

func newTestHandler() (*Handler, *mockRepo, *notification.Recorder, *echo.Echo) {
	svc, repo, _ := newTestService()
	rec := &notification.Recorder{}
	responder := notification.NewResponder(rec, notification.NewTemplateEngine(), zerolog.Nop())
	return NewHandler(svc, responder), repo, rec, echo.New()
}

func newRequest(e *echo.Echo, method, target, body string, id auth.Identity) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req = req.WithContext(auth.WithIdentity(req.Context(), id))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

type envelope struct {
	Data   json.RawMessage      `json:"data"`
	Error  string               `json:"error"`
	Notice *notification.Notice `json:"notice"`
}

func TestHandler_Create(t *testing.T) {
	h, _, notices, e := newTestHandler()
	body := `{"patient_id":"` + uuid.New().String() + `","medications":[{"name":"Amoxicillin","dosage":"500mg","frequency":"3x daily","duration":"7 days"}]}`
	c, rec := newRequest(e, http.MethodPost, "/prescriptions", body, doctor(uuid.New()))

	if err := h.Create(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Notice == nil || !strings.Contains(env.Notice.Message, "1 medication") {
		t.Errorf("unexpected notice: %+v", env.Notice)
	}
	if got := len(notices.Notices()); got != 1 {
		t.Errorf("notices delivered = %d, want 1", got)
	}
}

func TestHandler_CreateIncompleteMedication(t *testing.T) {
	h, _, notices, e := newTestHandler()
	body := `{"patient_id":"` + uuid.New().String() + `","medications":[{"name":"Amoxicillin"}]}`
	c, rec := newRequest(e, http.MethodPost, "/prescriptions", body, doctor(uuid.New()))

	if err := h.Create(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := notices.Notices(); len(got) != 1 || got[0].Level != notification.LevelValidation {
		t.Errorf("expected one validation notice, got %+v", got)
	}
}

func TestHandler_UpdateStatusConflict(t *testing.T) {
	h, repo, _, e := newTestHandler()
	p := repo.put(&Prescription{PatientID: uuid.New(), DoctorID: uuid.New(), Status: StatusCancelled})
	c, rec := newRequest(e, http.MethodPut, "/", `{"status":"dispensed"}`, pharmacist())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	if err := h.UpdateStatus(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestHandler_ListPaginates(t *testing.T) {
	h, repo, _, e := newTestHandler()
	owner := uuid.New()
	for i := 0; i < 3; i++ {
		repo.put(&Prescription{PatientID: owner, DoctorID: uuid.New(), Medications: MedicationList{amoxicillin()}})
	}
	c, rec := newRequest(e, http.MethodGet, "/api/v1/prescriptions?limit=2", "", patient(owner))

	if err := h.List(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Data  []Prescription    `json:"data"`
		Total int               `json:"total"`
		Links *pagination.Links `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 || len(resp.Data) != 2 {
		t.Errorf("total=%d len=%d", resp.Total, len(resp.Data))
	}
	if resp.Links == nil || resp.Links.Next == "" {
		t.Errorf("expected next link, got %+v", resp.Links)
	}
}

func TestHandler_GetForeignPatient(t *testing.T) {
	h, repo, _, e := newTestHandler()
	p := repo.put(&Prescription{PatientID: uuid.New(), DoctorID: uuid.New()})
	c, _ := newRequest(e, http.MethodGet, "/", "", patient(uuid.New()))
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	err := h.Get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("got %v, want 404", err)
	}
}
