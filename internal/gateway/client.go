// Package gateway wraps the backend's HTTP surface: chat, sequence CRUD and
// session lifecycle. Every call either returns a normalized payload or fails
// with one of the taxonomy errors; a malformed-but-parseable response yields
// a best-effort default and a diagnostic log, never an error.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Config holds configuration for the backend client.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:5000",
		RequestTimeout: 15 * time.Second,
	}
}

// Client is a thin request/response wrapper around the backend.
type Client struct {
	http    *http.Client
	baseURL string
	logger  *slog.Logger
}

// New creates a backend client. Zero-value config fields fall back to
// DefaultConfig.
func New(cfg Config, logger *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		baseURL: cfg.BaseURL,
		logger:  logger,
	}
}

const maxResponseBytes = 4 << 20

// do performs one JSON request/response round trip. A nil out skips body
// decoding. Non-2xx statuses become *ServerError; transport failures map to
// ErrNetworkUnreachable or ErrTimeout; an undecodable body becomes
// ErrMalformedResponse.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}{}
		_ = json.Unmarshal(raw, &msg)
		if msg.Message == "" {
			msg.Message = msg.Error
		}
		return &ServerError{Status: resp.StatusCode, Message: msg.Message}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// ChatResponse is the backend's answer to a chat turn. SequenceUpdate, when
// present, is a server-shaped role+steps payload (single group or array)
// left raw for the reconciliation engine to normalize.
type ChatResponse struct {
	Response       string          `json:"response"`
	SequenceUpdate json.RawMessage `json:"sequenceUpdate,omitempty"`
}

// SendChat posts one user message for a session.
func (c *Client) SendChat(ctx context.Context, sessionID, message string) (ChatResponse, error) {
	body := map[string]string{"message": message, "sessionId": sessionID}
	var out ChatResponse
	if err := c.do(ctx, http.MethodPost, "/chat", body, &out); err != nil {
		return ChatResponse{}, err
	}
	return out, nil
}

// SuggestionResponse carries a suggested next step for a role. The
// suggestion payload shape is backend-defined and passed through raw.
type SuggestionResponse struct {
	Response   string          `json:"response"`
	Suggestion json.RawMessage `json:"suggestion,omitempty"`
}

// SuggestNextStep asks the backend to propose the next step for a role.
func (c *Client) SuggestNextStep(ctx context.Context, sessionID, role string) (SuggestionResponse, error) {
	path := "/chat/suggest/" + url.PathEscape(sessionID) + "/" + url.PathEscape(role)
	var out SuggestionResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return SuggestionResponse{}, err
	}
	return out, nil
}

// ListSequences fetches every sequence for a session. The result is the raw
// server-shaped list for the reconciliation engine.
func (c *Client) ListSequences(ctx context.Context, sessionID string) (json.RawMessage, error) {
	var out struct {
		Sequences json.RawMessage `json:"sequences"`
	}
	if err := c.do(ctx, http.MethodGet, "/sequence/all/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return out.Sequences, nil
}

// CreateSequence asks the backend to create an empty sequence for a role.
func (c *Client) CreateSequence(ctx context.Context, sessionID, role string) error {
	body := map[string]string{"sessionId": sessionID, "role": role}
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.do(ctx, http.MethodPost, "/sequence/new", body, &out); err != nil {
		return err
	}
	if !out.Success {
		c.logger.Debug("create sequence reported no success", "role", role)
	}
	return nil
}

// StepRequest is the wire shape for step create/update bodies. Pointer
// fields are omitted when absent so partial updates stay partial.
type StepRequest struct {
	StepType *string `json:"step_type,omitempty"`
	Subject  *string `json:"subject,omitempty"`
	Body     *string `json:"body,omitempty"`
	Delay    *int    `json:"delay,omitempty"`
	Order    *int    `json:"order,omitempty"`
}

// AddStep appends a step to the sequence for role.
func (c *Client) AddStep(ctx context.Context, sessionID, role string, step StepRequest) error {
	body := map[string]any{"role": role, "step_data": step}
	var out struct {
		Success bool `json:"success"`
	}
	path := "/sequence/" + url.PathEscape(sessionID) + "/step"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return err
	}
	if !out.Success {
		c.logger.Debug("add step reported no success", "role", role)
	}
	return nil
}

// UpdateStep applies a partial step edit.
func (c *Client) UpdateStep(ctx context.Context, sessionID, stepID string, updates StepRequest) error {
	body := map[string]any{"updates": updates}
	path := "/sequence/" + url.PathEscape(sessionID) + "/step/" + url.PathEscape(stepID)
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.do(ctx, http.MethodPut, path, body, &out); err != nil {
		return err
	}
	if !out.Success {
		c.logger.Debug("update step reported no success", "step_id", stepID)
	}
	return nil
}

// DeleteStep removes a step.
func (c *Client) DeleteStep(ctx context.Context, sessionID, stepID string) error {
	path := "/sequence/" + url.PathEscape(sessionID) + "/step/" + url.PathEscape(stepID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// DeleteSequence removes the whole sequence for a role.
func (c *Client) DeleteSequence(ctx context.Context, sessionID, role string) error {
	path := "/sequence/" + url.PathEscape(sessionID) + "/role/" + url.PathEscape(role)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// InitContext seeds the assistant's context for a session.
func (c *Client) InitContext(ctx context.Context, sessionID, contextText string) error {
	body := map[string]string{"context": contextText}
	return c.do(ctx, http.MethodPost, "/context/"+url.PathEscape(sessionID), body, nil)
}

// SessionData is the payload of a session create/restore call. Sequences is
// the raw server-shaped list, present on restore.
type SessionData struct {
	SessionID string          `json:"sessionId"`
	Sequences json.RawMessage `json:"sequences,omitempty"`
}

// CreateSession establishes a new backend session, or restores an existing
// one when sessionID is non-empty.
func (c *Client) CreateSession(ctx context.Context, sessionID, userIdentifier string) (SessionData, error) {
	body := map[string]string{}
	if sessionID != "" {
		body["sessionId"] = sessionID
	}
	if userIdentifier != "" {
		body["userIdentifier"] = userIdentifier
	}
	var out struct {
		Data SessionData `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/user/session", body, &out); err != nil {
		return SessionData{}, err
	}
	if out.Data.SessionID == "" {
		c.logger.Debug("session response missing session id, keeping local id")
		out.Data.SessionID = sessionID
	}
	return out.Data, nil
}

// RegisterEmail associates an email with the session for later recovery.
func (c *Client) RegisterEmail(ctx context.Context, sessionID, email string) error {
	body := map[string]string{"sessionId": sessionID, "email": email}
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/user/register", body, &out); err != nil {
		return err
	}
	if !out.Success {
		return &ServerError{Status: http.StatusOK, Message: out.Message}
	}
	return nil
}

// RecoverResult is the outcome of a recovery attempt.
type RecoverResult struct {
	Found     bool            `json:"found"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RecoverSession looks up a session by registered email, optionally pinned
// to a specific session id.
func (c *Client) RecoverSession(ctx context.Context, email, sessionID string) (RecoverResult, error) {
	body := map[string]string{"email": email}
	if sessionID != "" {
		body["sessionId"] = sessionID
	}
	var out RecoverResult
	if err := c.do(ctx, http.MethodPost, "/user/recover", body, &out); err != nil {
		return RecoverResult{}, err
	}
	return out, nil
}

// SessionInfo summarizes one recoverable session for an email.
type SessionInfo struct {
	SessionID string `json:"sessionId"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// ListUserSessions returns the sessions registered to an email. The GET form
// is tried first; backends that only accept the POST variant are handled by
// falling back on a 404 or 405.
func (c *Client) ListUserSessions(ctx context.Context, email string) ([]SessionInfo, error) {
	var out struct {
		Success bool `json:"success"`
		Data    struct {
			Sessions []SessionInfo `json:"sessions"`
		} `json:"data"`
	}

	err := c.do(ctx, http.MethodGet, "/user/sessions/"+url.PathEscape(email), nil, &out)
	if err != nil {
		var srvErr *ServerError
		if !errors.As(err, &srvErr) || (srvErr.Status != http.StatusNotFound && srvErr.Status != http.StatusMethodNotAllowed) {
			return nil, err
		}
		body := map[string]string{"email": email}
		if err := c.do(ctx, http.MethodPost, "/user/sessions/email", body, &out); err != nil {
			return nil, err
		}
	}

	if !out.Success {
		c.logger.Debug("list sessions reported no success", "email", email)
		return nil, nil
	}
	return out.Data.Sessions, nil
}

// DeleteSession wipes the backend state for a session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/user/session/"+url.PathEscape(sessionID), nil, nil)
}

// ExportSession returns the serializable snapshot of a session.
func (c *Client) ExportSession(ctx context.Context, sessionID string) (json.RawMessage, error) {
	var out struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	path := "/user/session/" + url.PathEscape(sessionID) + "/export"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		c.logger.Debug("export reported no success", "session_id", sessionID)
	}
	return out.Data, nil
}

// ImportSession uploads a snapshot into the session and returns the
// resulting server-shaped sequence list, if the backend echoes one.
func (c *Client) ImportSession(ctx context.Context, sessionID string, importData json.RawMessage) (json.RawMessage, error) {
	body := map[string]any{"sessionId": sessionID, "importData": importData}
	var out struct {
		Success bool `json:"success"`
		Data    struct {
			Sequences json.RawMessage `json:"sequences,omitempty"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/user/session/import", body, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		c.logger.Debug("import reported no success", "session_id", sessionID)
	}
	return out.Data.Sequences, nil
}
