// Package assistant implements both sides of the patient assistant HTTP
// contract: POST /api/patient/assistant/chat with {message, patient_id},
// answered by {success, data, error}.
package assistant

import (
	"time"
)

const ChatPath = "/api/patient/assistant/chat"

type Request struct {
	Message   string `json:"message"`
	PatientID string `json:"patient_id"`
}

// RelevantDocument is a patient record the answer was grounded on.
type RelevantDocument struct {
	ID             string         `json:"id"`
	EventType      string         `json:"event_type"`
	ContentPreview string         `json:"content_preview"`
	Similarity     float64        `json:"similarity"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Reply is the data block of a successful response. Optional fields stay
// nil when the service did not report them.
type Reply struct {
	Message                string             `json:"message"`
	ContextUsed            *bool              `json:"context_used,omitempty"`
	RelevantDocuments      []RelevantDocument `json:"relevant_documents,omitempty"`
	RelevantDocumentsCount *int               `json:"relevant_documents_count,omitempty"`
	ProcessingTime         *float64           `json:"processing_time,omitempty"`
}

type Response struct {
	Success bool   `json:"success"`
	Data    *Reply `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}
