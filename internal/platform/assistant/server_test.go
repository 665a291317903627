package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medscribe/medscribe/internal/platform/auth"
)

type stubRetriever struct {
	docs []RelevantDocument
	err  error
	got  uuid.UUID
}

func (s *stubRetriever) Search(_ context.Context, patientID uuid.UUID, _ string, _ int) ([]RelevantDocument, error) {
	s.got = patientID
	return s.docs, s.err
}

type stubCompleter struct {
	answer string
	err    error
	prompt string
}

func (s *stubCompleter) Complete(_ context.Context, _, user string) (string, error) {
	s.prompt = user
	return s.answer, s.err
}

func doChat(t *testing.T, srv *Server, body string, id *auth.Identity) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, ChatPath, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if id != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), *id))
	}
	rec := httptest.NewRecorder()
	if err := srv.HandleChat(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return rec, resp
}

func TestServer_AnswersWithLLM(t *testing.T) {
	pid := uuid.New()
	docs := []RelevantDocument{{ID: "d1", EventType: "visit_note", ContentPreview: "BP 120/80", CreatedAt: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), Similarity: 0.5}}
	llm := &stubCompleter{answer: "Your blood pressure was normal."}
	srv := NewServer(&stubRetriever{docs: docs}, llm, zerolog.Nop())

	rec, resp := doChat(t, srv, `{"message":"how was my blood pressure?","patient_id":"`+pid.String()+`"}`, nil)

	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("expected success, got %d %+v", rec.Code, resp)
	}
	if resp.Data.Message != "Your blood pressure was normal." {
		t.Errorf("unexpected message: %q", resp.Data.Message)
	}
	if *resp.Data.RelevantDocumentsCount != 1 || !*resp.Data.ContextUsed {
		t.Errorf("unexpected context fields: %+v", resp.Data)
	}
	if !strings.Contains(llm.prompt, "[1] visit_note (2024-01-05): BP 120/80") {
		t.Errorf("prompt missing record: %s", llm.prompt)
	}
}

func TestServer_RetrievalOnlyWithoutLLM(t *testing.T) {
	srv := NewServer(&stubRetriever{}, nil, zerolog.Nop())
	_, resp := doChat(t, srv, `{"message":"anything?","patient_id":"`+uuid.NewString()+`"}`, nil)

	if !resp.Success || *resp.Data.ContextUsed {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !strings.Contains(resp.Data.Message, "couldn't find anything") {
		t.Errorf("unexpected message: %q", resp.Data.Message)
	}
}

func TestServer_Validation(t *testing.T) {
	srv := NewServer(&stubRetriever{}, nil, zerolog.Nop())

	rec, resp := doChat(t, srv, `{"message":"  ","patient_id":"`+uuid.NewString()+`"}`, nil)
	if rec.Code != http.StatusBadRequest || resp.Success || resp.Error == "" {
		t.Errorf("expected 400 for blank message, got %d %+v", rec.Code, resp)
	}

	rec, _ = doChat(t, srv, `{"message":"hi","patient_id":"nope"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad patient id, got %d", rec.Code)
	}
}

func TestServer_PatientScoped(t *testing.T) {
	srv := NewServer(&stubRetriever{}, nil, zerolog.Nop())
	me := auth.Identity{UserID: "p", PatientID: uuid.New()}

	rec, _ := doChat(t, srv, `{"message":"hi","patient_id":"`+uuid.NewString()+`"}`, &me)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for another patient's records, got %d", rec.Code)
	}

	rec, _ = doChat(t, srv, `{"message":"hi","patient_id":"`+me.PatientID.String()+`"}`, &me)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for own records, got %d", rec.Code)
	}
}

func TestServer_LLMFailure(t *testing.T) {
	srv := NewServer(&stubRetriever{}, &stubCompleter{err: errors.New("rate limited")}, zerolog.Nop())
	rec, resp := doChat(t, srv, `{"message":"hi","patient_id":"`+uuid.NewString()+`"}`, nil)

	if rec.Code != http.StatusBadGateway || resp.Success {
		t.Errorf("expected 502 failure, got %d %+v", rec.Code, resp)
	}
}

// The client and server agree on the wire format.
func TestClientServerRoundTrip(t *testing.T) {
	e := echo.New()
	NewServer(&stubRetriever{docs: []RelevantDocument{{ID: "d", EventType: "lab_result", ContentPreview: "ok"}}}, nil, zerolog.Nop()).RegisterRoutes(e)
	ts := httptest.NewServer(e)
	defer ts.Close()

	reply, err := NewClient(ts.URL, time.Second).Chat(context.Background(), Request{Message: "labs?", PatientID: uuid.NewString()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *reply.RelevantDocumentsCount != 1 || reply.RelevantDocuments[0].EventType != "lab_result" {
		t.Errorf("unexpected reply: %+v", reply)
	}
}
