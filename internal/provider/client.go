// Package provider implements the HTTP client for the external session
// provider that owns the actual linked-session transports (QR pairing, device
// sessions, message delivery).
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leadwire/leadwire/internal/channel"
	"github.com/leadwire/leadwire/internal/config"
)

// SessionStatus is the provider-reported lifecycle state of a session.
type SessionStatus string

const (
	StatusStarting     SessionStatus = "starting"
	StatusAwaitingScan SessionStatus = "awaiting_scan"
	StatusAuthorized   SessionStatus = "authorized"
	StatusStopped      SessionStatus = "stopped"
	StatusFailed       SessionStatus = "failed"
	StatusExpired      SessionStatus = "expired"
	StatusNotFound     SessionStatus = "not_found"
)

// Terminal reports whether the status definitively ends a session. Transport
// errors are never terminal; only an explicit provider verdict is.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusStopped, StatusFailed, StatusExpired, StatusNotFound:
		return true
	}
	return false
}

// Session is the provider's view of one linked session.
type Session struct {
	Ref    string        `json:"session_id"`
	Status SessionStatus `json:"status"`
	Detail string        `json:"detail,omitempty"`
}

// SendResult is the provider's acknowledgement of an outbound message.
type SendResult struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// Client talks to the session provider's REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a Client from the provider section of the config.
func NewClient(cfg config.ProviderConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateSession asks the provider to start a fresh session and returns its
// opaque reference. The session begins in a pre-pairing state.
func (c *Client) CreateSession(ctx context.Context) (Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, "/sessions", nil, &session); err != nil {
		return Session{}, err
	}
	if session.Ref == "" {
		return Session{}, fmt.Errorf("%w: empty session reference", channel.ErrProviderRejected)
	}
	return session, nil
}

// PairingCode fetches the current pairing payload for a session. The payload
// is short-lived; the provider rotates it until the session is authorized.
func (c *Client) PairingCode(ctx context.Context, sessionRef string) (string, error) {
	var payload struct {
		Code string `json:"code"`
	}
	path := "/sessions/" + url.PathEscape(sessionRef) + "/pairing"
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return "", err
	}
	return payload.Code, nil
}

// Status fetches the provider-side status of a session. A 404 maps to
// StatusNotFound rather than an error so callers can treat it as a verdict.
func (c *Client) Status(ctx context.Context, sessionRef string) (Session, error) {
	var session Session
	path := "/sessions/" + url.PathEscape(sessionRef) + "/status"
	err := c.do(ctx, http.MethodGet, path, nil, &session)
	if err != nil {
		if isNotFound(err) {
			return Session{Ref: sessionRef, Status: StatusNotFound}, nil
		}
		return Session{}, err
	}
	if session.Ref == "" {
		session.Ref = sessionRef
	}
	return session, nil
}

// DeleteSession tears down a provider session. Deleting a session the
// provider no longer knows is not an error.
func (c *Client) DeleteSession(ctx context.Context, sessionRef string) error {
	path := "/sessions/" + url.PathEscape(sessionRef)
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// SendText delivers a text message through an authorized session.
func (c *Client) SendText(ctx context.Context, sessionRef, conversationRef, text string) (SendResult, error) {
	body := map[string]string{
		"chat_id": conversationRef,
		"text":    text,
	}
	var result SendResult
	path := "/sessions/" + url.PathEscape(sessionRef) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, body, &result); err != nil {
		return SendResult{}, err
	}
	if result.Status == "" {
		result.Status = channel.OutboundStatusSent
	}
	return result, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", channel.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", channel.ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %w", channel.ErrProviderUnavailable, &statusError{code: resp.StatusCode, body: truncate(raw)})
	default:
		return fmt.Errorf("%w: %w", channel.ErrProviderRejected, &statusError{code: resp.StatusCode, body: truncate(raw)})
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode provider response: %w", err)
		}
	}
	return nil
}

func truncate(raw []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
