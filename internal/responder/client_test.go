package responder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leadwire/leadwire/internal/config"
)

func newTestClient(url string) *Client {
	return NewClient(config.ResponderConfig{BaseURL: url, Token: "secret", TimeoutSeconds: 5})
}

func TestReplyDecodesDraftWithConfidence(t *testing.T) {
	t.Parallel()

	var seen ReplyRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q, want bearer token", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&seen); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"reply": "  sure, we are open until 6pm  ", "confidence": 0.87}`))
	}))
	defer server.Close()

	draft, err := newTestClient(server.URL).Reply(context.Background(), ReplyRequest{
		TenantID: "tenant-1",
		Message:  "are you open today?",
	})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if draft.Text != "sure, we are open until 6pm" {
		t.Fatalf("text = %q, want trimmed reply", draft.Text)
	}
	if draft.Confidence == nil || *draft.Confidence != 0.87 {
		t.Fatalf("confidence = %v, want 0.87", draft.Confidence)
	}
	if seen.Message != "are you open today?" {
		t.Fatalf("request message = %q", seen.Message)
	}
}

func TestReplyWithoutConfidenceLeavesItNil(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"reply": "hello"}`))
	}))
	defer server.Close()

	draft, err := newTestClient(server.URL).Reply(context.Background(), ReplyRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if draft.Text != "hello" {
		t.Fatalf("text = %q, want hello", draft.Text)
	}
	if draft.Confidence != nil {
		t.Fatalf("confidence = %v, want nil when omitted", *draft.Confidence)
	}
}

func TestReplyNonSuccessStatusFails(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).Reply(context.Background(), ReplyRequest{Message: "hi"}); err == nil {
		t.Fatalf("expected error on 502")
	}
}
