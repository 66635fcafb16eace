package linked

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/leadwire/leadwire/internal/channel"
	"github.com/leadwire/leadwire/internal/provider"
)

type fakeSessionAPI struct {
	status   provider.Session
	sendFunc func(sessionRef, conversationRef, text string) (provider.SendResult, error)
}

func (f *fakeSessionAPI) Status(ctx context.Context, sessionRef string) (provider.Session, error) {
	return f.status, nil
}

func (f *fakeSessionAPI) SendText(ctx context.Context, sessionRef, conversationRef, text string) (provider.SendResult, error) {
	return f.sendFunc(sessionRef, conversationRef, text)
}

func pairedConfig() channel.ChannelConfig {
	return channel.ChannelConfig{
		TenantID:    "tenant-1",
		ChannelType: channel.ChannelType("whatsapp"),
		Session:     map[string]any{"session_ref": "sess-1"},
	}
}

func TestNormalizeInbound(t *testing.T) {
	t.Parallel()

	adapter := NewWhatsApp(&fakeSessionAPI{})
	raw := []byte(`{
		"message_id": "wamid-1",
		"chat_id": "4915551234",
		"text": "hello",
		"push_name": "Alice",
		"attachments": ["https://cdn.example/img.jpg"],
		"timestamp": 1700000000
	}`)

	event, err := adapter.NormalizeInbound(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if event.ID != "wamid-1" || event.ConversationRef != "4915551234" {
		t.Fatalf("got %+v", event)
	}
	if event.SenderName != "Alice" {
		t.Fatalf("sender = %q, want Alice", event.SenderName)
	}
	if event.Direction != channel.DirectionInbound {
		t.Fatalf("direction = %s", event.Direction)
	}
	if len(event.AttachmentURLs) != 1 {
		t.Fatalf("attachments = %v", event.AttachmentURLs)
	}
	if event.ReceivedAt.Unix() != 1700000000 {
		t.Fatalf("received at = %v", event.ReceivedAt)
	}
	if !json.Valid(event.Raw) {
		t.Fatalf("raw payload must be preserved")
	}
}

func TestNormalizeInboundSenderFallback(t *testing.T) {
	t.Parallel()

	adapter := NewWhatsApp(&fakeSessionAPI{})
	event, err := adapter.NormalizeInbound([]byte(`{"chat_id":"123","text":"hi"}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if event.SenderName != channel.UnknownSender {
		t.Fatalf("sender = %q, want %q", event.SenderName, channel.UnknownSender)
	}
	if event.ID == "" {
		t.Fatalf("expected generated event id")
	}
}

func TestNormalizeInboundMissingChatID(t *testing.T) {
	t.Parallel()

	adapter := NewWhatsApp(&fakeSessionAPI{})
	if _, err := adapter.NormalizeInbound([]byte(`{"text":"hi"}`)); err == nil {
		t.Fatalf("expected error for missing chat id")
	}
}

func TestSendTextRequiresSession(t *testing.T) {
	t.Parallel()

	adapter := NewWhatsApp(&fakeSessionAPI{})
	_, err := adapter.SendText(context.Background(), channel.ChannelConfig{}, "chat-1", "hi")
	if !errors.Is(err, channel.ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
}

func TestSendTextUsesSessionRef(t *testing.T) {
	t.Parallel()

	api := &fakeSessionAPI{
		sendFunc: func(sessionRef, conversationRef, text string) (provider.SendResult, error) {
			if sessionRef != "sess-1" || conversationRef != "chat-1" {
				t.Errorf("send(%q, %q)", sessionRef, conversationRef)
			}
			return provider.SendResult{MessageID: "ext-1", Status: channel.OutboundStatusSent}, nil
		},
	}
	adapter := NewWhatsApp(api)

	result, err := adapter.SendText(context.Background(), pairedConfig(), "chat-1", "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.ExternalID != "ext-1" {
		t.Fatalf("external id = %q", result.ExternalID)
	}
}

func TestCheckHealthStates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status provider.SessionStatus
		want   channel.HealthState
	}{
		{provider.StatusAuthorized, channel.HealthConnected},
		{provider.StatusStarting, channel.HealthAwaitingPairing},
		{provider.StatusAwaitingScan, channel.HealthAwaitingPairing},
		{provider.StatusStopped, channel.HealthDisconnected},
		{provider.StatusFailed, channel.HealthDisconnected},
		{provider.StatusExpired, channel.HealthDisconnected},
		{provider.StatusNotFound, channel.HealthDisconnected},
		{provider.SessionStatus("novel"), channel.HealthUnknown},
	}
	for _, tc := range cases {
		adapter := NewWhatsApp(&fakeSessionAPI{status: provider.Session{Ref: "sess-1", Status: tc.status}})
		health, err := adapter.CheckHealth(context.Background(), pairedConfig())
		if err != nil {
			t.Fatalf("%s: %v", tc.status, err)
		}
		if health.State != tc.want {
			t.Errorf("%s -> %s, want %s", tc.status, health.State, tc.want)
		}
	}
}

func TestCheckHealthWithoutSession(t *testing.T) {
	t.Parallel()

	adapter := NewWhatsApp(&fakeSessionAPI{})
	health, err := adapter.CheckHealth(context.Background(), channel.ChannelConfig{})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.State != channel.HealthDisconnected {
		t.Fatalf("state = %s, want disconnected", health.State)
	}
}
