// Package responder implements the HTTP client for the external auto-reply
// service that drafts responses to customer messages.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leadwire/leadwire/internal/config"
)

// ReplyRequest carries everything the responder needs to draft a reply.
type ReplyRequest struct {
	TenantID       string `json:"tenant_id"`
	Channel        string `json:"channel"`
	ConversationID string `json:"conversation_id"`
	Prompt         string `json:"prompt,omitempty"`
	CustomerName   string `json:"customer_name,omitempty"`
	Message        string `json:"message"`
}

// Draft is what the responder produced: the reply text plus, when the
// service reports one, a confidence score for the draft.
type Draft struct {
	Text       string   `json:"reply"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Client talks to the responder's REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a Client from the responder section of the config.
func NewClient(cfg config.ResponderConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Reply asks the responder for a draft. An empty reply means the responder
// chose not to answer; callers skip the send in that case.
func (c *Client) Reply(ctx context.Context, req ReplyRequest) (Draft, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Draft{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reply", bytes.NewReader(payload))
	if err != nil {
		return Draft{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Draft{}, fmt.Errorf("responder request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Draft{}, fmt.Errorf("read responder response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Draft{}, fmt.Errorf("responder returned %d", resp.StatusCode)
	}

	var draft Draft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return Draft{}, fmt.Errorf("decode responder response: %w", err)
	}
	draft.Text = strings.TrimSpace(draft.Text)
	return draft, nil
}
