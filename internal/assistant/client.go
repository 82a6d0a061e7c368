// Package assistant is the REST client for the conversation backend. It maps
// transport failures to the backend-unavailable sentinel so callers can tell
// "backend down" apart from "backend said no".
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

	"pkt.systems/pslog"

	"pkt.systems/formvox/schema"
)

// HealthTimeout bounds the health probe. Session calls carry no deadline and
// rely on the transport default.
const HealthTimeout = 5 * time.Second

// Client talks to the assistant backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	log     pslog.Logger
}

// New constructs a client for the given base URL.
func New(baseURL string) *Client {
	return NewWithLogger(baseURL, nil)
}

// NewWithLogger constructs a client with logging.
func NewWithLogger(baseURL string, logger pslog.Logger) *Client {
	if logger != nil {
		logger = logger.With("backend", baseURL)
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{},
		log:     logger,
	}
}

type createSessionPayload struct {
	FormSchema schema.FormSchema `json:"form_schema"`
	FormURL    string            `json:"form_url"`
}

// CreateSessionResult is the backend's answer to a session create.
type CreateSessionResult struct {
	SessionID      schema.SessionID `json:"session_id"`
	Greeting       string           `json:"greeting"`
	NextQuestions  []string         `json:"next_questions"`
	RemainingCount int              `json:"remaining_count"`
}

// MessageResult is the backend's answer to a conversation turn.
type MessageResult struct {
	Response          string             `json:"response"`
	ExtractedValues   map[string]string  `json:"extracted_values"`
	ConfidenceScores  map[string]float64 `json:"confidence_scores"`
	NeedsConfirmation bool               `json:"needs_confirmation"`
	RemainingCount    int                `json:"remaining_count"`
	IsComplete        bool               `json:"is_complete"`
	NextQuestions     []string           `json:"next_questions"`
}

// DeleteResult is the backend's answer to a session delete.
type DeleteResult struct {
	FinalData map[string]string `json:"final_data"`
}

// HealthResult is the backend's health report.
type HealthResult struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// CreateSession starts a backend conversation for the given form.
func (c *Client) CreateSession(ctx context.Context, form schema.FormSchema, formURL string) (CreateSessionResult, error) {
	var result CreateSessionResult
	payload := createSessionPayload{FormSchema: form, FormURL: formURL}
	err := c.do(ctx, http.MethodPost, "/api/v1/sessions", payload, &result)
	if err != nil {
		return CreateSessionResult{}, err
	}
	if c.log != nil {
		c.log.Debug("backend session created", "session", result.SessionID, "remaining", result.RemainingCount)
	}
	return result, nil
}

// SendMessage relays one user utterance to the backend conversation.
func (c *Client) SendMessage(ctx context.Context, sessionID schema.SessionID, text string) (MessageResult, error) {
	var result MessageResult
	payload := struct {
		Message string `json:"message"`
	}{Message: text}
	path := "/api/v1/sessions/" + string(sessionID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, payload, &result); err != nil {
		return MessageResult{}, err
	}
	return result, nil
}

// DeleteSession ends the backend conversation and collects the final data.
func (c *Client) DeleteSession(ctx context.Context, sessionID schema.SessionID) (DeleteResult, error) {
	var result DeleteResult
	path := "/api/v1/sessions/" + string(sessionID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &result); err != nil {
		return DeleteResult{}, err
	}
	return result, nil
}

// Health probes the backend. Unlike the session calls it carries a hard
// deadline so connectivity checks return promptly.
func (c *Client) Health(ctx context.Context) (HealthResult, error) {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()
	var result HealthResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &result); err != nil {
		return HealthResult{}, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	url := c.baseURL + path
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if c.log != nil {
			c.log.Warn("backend request failed", "method", method, "path", path, "err", err)
		}
		return fmt.Errorf("%w: %v", schema.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if c.log != nil {
			c.log.Warn("backend request rejected", "method", method, "path", path, "status", resp.Status)
		}
		return fmt.Errorf("request %s %s failed: %s; body=%s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
