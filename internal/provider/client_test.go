package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leadwire/leadwire/internal/channel"
	"github.com/leadwire/leadwire/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.ProviderConfig{BaseURL: srv.URL, Token: "secret", TimeoutSeconds: 2})
}

func TestCreateSession(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_id":"sess-1","status":"starting"}`))
	})

	session, err := client.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Ref != "sess-1" || session.Status != StatusStarting {
		t.Fatalf("got %+v", session)
	}
}

func TestStatusMapsNotFound(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	session, err := client.Status(context.Background(), "gone")
	if err != nil {
		t.Fatalf("404 should be a verdict, not an error: %v", err)
	}
	if session.Status != StatusNotFound {
		t.Fatalf("status = %s, want not_found", session.Status)
	}
	if !session.Status.Terminal() {
		t.Fatalf("not_found must be terminal")
	}
}

func TestServerErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Status(context.Background(), "sess-1")
	if !errors.Is(err, channel.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestClientErrorIsRejected(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.CreateSession(context.Background())
	if !errors.Is(err, channel.ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
}

func TestTransportErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	client := NewClient(config.ProviderConfig{BaseURL: "http://127.0.0.1:1", TimeoutSeconds: 1})
	_, err := client.CreateSession(context.Background())
	if !errors.Is(err, channel.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestSendTextDefaultsToSent(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/sess-1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_id":"ext-7"}`))
	})

	result, err := client.SendText(context.Background(), "sess-1", "chat-1", "hello")
	if err != nil {
		t.Fatalf("send text: %v", err)
	}
	if result.MessageID != "ext-7" || result.Status != channel.OutboundStatusSent {
		t.Fatalf("got %+v", result)
	}
}

func TestTerminalStatuses(t *testing.T) {
	t.Parallel()

	terminal := []SessionStatus{StatusStopped, StatusFailed, StatusExpired, StatusNotFound}
	for _, status := range terminal {
		if !status.Terminal() {
			t.Errorf("%s should be terminal", status)
		}
	}
	live := []SessionStatus{StatusStarting, StatusAwaitingScan, StatusAuthorized}
	for _, status := range live {
		if status.Terminal() {
			t.Errorf("%s should not be terminal", status)
		}
	}
}
