package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/medscribe/medscribe/internal/platform/auth"
)

// Error is a failed assistant call. Reason is safe to show to the user.
type Error struct {
	StatusCode int
	Reason     string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("assistant: %s (status %d)", e.Reason, e.StatusCode)
	}
	return "assistant: " + e.Reason
}

// Client calls an assistant service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient targets baseURL. A zero timeout waits for as long as ctx allows.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Chat sends one message. A non-2xx status or success=false is an *Error.
// The caller's bearer token, when present, is forwarded.
func (c *Client) Chat(ctx context.Context, req Request) (*Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal assistant request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ChatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build assistant request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if id, ok := auth.IdentityFromContext(ctx); ok && id.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+id.Token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &Error{Reason: "service unreachable: " + err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Reason: "read response: " + err.Error()}
	}

	var out Response
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := http.StatusText(resp.StatusCode)
		if decodeErr == nil && out.Error != "" {
			reason = out.Error
		}
		return nil, &Error{StatusCode: resp.StatusCode, Reason: reason}
	}
	if decodeErr != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Reason: "malformed response"}
	}
	if !out.Success {
		reason := out.Error
		if reason == "" {
			reason = "request was not successful"
		}
		return nil, &Error{StatusCode: resp.StatusCode, Reason: reason}
	}
	if out.Data == nil {
		return nil, &Error{StatusCode: resp.StatusCode, Reason: "response has no data"}
	}
	return out.Data, nil
}
