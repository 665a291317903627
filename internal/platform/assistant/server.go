package assistant

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medscribe/medscribe/internal/platform/auth"
)

const (
	maxDocuments = 5
	systemPrompt = "You are a careful clinical assistant answering questions about one patient. " +
		"Use only the patient records provided. If the records do not answer the question, say so. " +
		"Do not diagnose or prescribe; suggest contacting the care team for medical decisions."
)

// Server answers assistant requests from patient documents. Without a
// Completer it replies with a summary of what it retrieved.
type Server struct {
	retriever Retriever
	llm       Completer
	logger    zerolog.Logger
	now       func() time.Time
}

func NewServer(retriever Retriever, llm Completer, logger zerolog.Logger) *Server {
	return &Server{
		retriever: retriever,
		llm:       llm,
		logger:    logger.With().Str("component", "assistant").Logger(),
		now:       time.Now,
	}
}

func (s *Server) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	e.POST(ChatPath, s.HandleChat, mw...)
}

func (s *Server) HandleChat(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, Response{Error: "invalid request body"})
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return c.JSON(http.StatusBadRequest, Response{Error: "message is required"})
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return c.JSON(http.StatusBadRequest, Response{Error: "patient_id must be a valid UUID"})
	}
	if id, ok := auth.IdentityFromContext(c.Request().Context()); ok && id.IsPatient() && id.PatientID != patientID {
		return c.JSON(http.StatusForbidden, Response{Error: "patients may only ask about their own records"})
	}

	reply, err := s.Answer(c.Request().Context(), patientID, req.Message)
	if err != nil {
		s.logger.Error().Err(err).Str("patient_id", patientID.String()).Msg("answer failed")
		return c.JSON(http.StatusBadGateway, Response{Error: "the assistant could not generate an answer"})
	}
	return c.JSON(http.StatusOK, Response{Success: true, Data: reply})
}

// Answer retrieves context for the question and produces a reply.
func (s *Server) Answer(ctx context.Context, patientID uuid.UUID, question string) (*Reply, error) {
	start := s.now()

	docs, err := s.retriever.Search(ctx, patientID, question, maxDocuments)
	if err != nil {
		return nil, err
	}

	var message string
	if s.llm != nil {
		message, err = s.llm.Complete(ctx, systemPrompt, buildPrompt(question, docs))
		if err != nil {
			return nil, fmt.Errorf("complete: %w", err)
		}
	} else {
		message = summarize(docs)
	}

	used := len(docs) > 0
	count := len(docs)
	elapsed := s.now().Sub(start).Seconds()
	return &Reply{
		Message:                message,
		ContextUsed:            &used,
		RelevantDocuments:      docs,
		RelevantDocumentsCount: &count,
		ProcessingTime:         &elapsed,
	}, nil
}

func buildPrompt(question string, docs []RelevantDocument) string {
	var b strings.Builder
	if len(docs) == 0 {
		b.WriteString("No patient records matched this question.\n\n")
	} else {
		b.WriteString("Patient records:\n")
		for i, d := range docs {
			fmt.Fprintf(&b, "[%d] %s (%s): %s\n", i+1, d.EventType, d.CreatedAt.Format("2006-01-02"), d.ContentPreview)
		}
		b.WriteString("\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

func summarize(docs []RelevantDocument) string {
	if len(docs) == 0 {
		return "I couldn't find anything in your records related to that question. Please contact your care team for help."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "I found %d record(s) that may be relevant:\n", len(docs))
	for _, d := range docs {
		fmt.Fprintf(&b, "- %s on %s: %s\n", d.EventType, d.CreatedAt.Format("Jan 2, 2006"), d.ContentPreview)
	}
	return strings.TrimRight(b.String(), "\n")
}
