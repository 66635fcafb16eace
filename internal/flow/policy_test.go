package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leadwire/leadwire/internal/channel"
	"github.com/leadwire/leadwire/internal/inbox"
	"github.com/leadwire/leadwire/internal/responder"
)

type fakeInbox struct {
	appendErr  error
	escalated  int
	outbound   []inbox.Message
	dispatched int
}

func (f *fakeInbox) AppendInbound(ctx context.Context, event channel.InboundEvent) (inbox.Conversation, inbox.Message, error) {
	if f.appendErr != nil {
		return inbox.Conversation{}, inbox.Message{}, f.appendErr
	}
	return inbox.Conversation{ID: "conv-1", TenantID: event.TenantID, Channel: event.Channel}, inbox.Message{ID: "msg-in"}, nil
}

func (f *fakeInbox) AppendOutbound(ctx context.Context, tenantID, conversationID string, role inbox.SenderRole, senderName, text string, confidence *float64) (inbox.Message, error) {
	message := inbox.Message{ID: "msg-out", ConversationID: conversationID, TenantID: tenantID, SenderRole: role, Text: text, Confidence: confidence}
	f.outbound = append(f.outbound, message)
	return message, nil
}

func (f *fakeInbox) AppendEscalationMarker(ctx context.Context, tenantID, conversationID string) (inbox.Conversation, error) {
	f.escalated++
	return inbox.Conversation{ID: conversationID, Escalated: true}, nil
}

type fakeSettings struct {
	settings channel.ChannelSettings
	err      error
}

func (f *fakeSettings) Settings(ctx context.Context, tenantID string, channelType channel.ChannelType) (channel.ChannelSettings, error) {
	return f.settings, f.err
}

type fakeReplier struct {
	reply      string
	confidence *float64
	err        error
	seen       *responder.ReplyRequest
}

func (f *fakeReplier) Reply(ctx context.Context, req responder.ReplyRequest) (responder.Draft, error) {
	f.seen = &req
	return responder.Draft{Text: f.reply, Confidence: f.confidence}, f.err
}

type fakeDispatcher struct {
	count int
	err   error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, tenantID string, message inbox.Message) (inbox.Message, error) {
	f.count++
	return message, f.err
}

func event(text string) channel.InboundEvent {
	return channel.InboundEvent{
		ID:              "evt-1",
		Channel:         channel.ChannelType("telegram"),
		ConversationRef: "chat-1",
		TenantID:        "tenant-1",
		Text:            text,
		SenderName:      "Alice",
		ReceivedAt:      time.Now().UTC(),
	}
}

func TestHandleInboundStoresWithoutAutomation(t *testing.T) {
	t.Parallel()

	box := &fakeInbox{}
	dispatcher := &fakeDispatcher{}
	policy := NewPolicy(nil, box, &fakeSettings{err: channel.ErrChannelConfigNotFound}, &fakeReplier{}, dispatcher)

	if err := policy.HandleInbound(context.Background(), "tenant-1", event("hello")); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	if dispatcher.count != 0 || box.escalated != 0 {
		t.Fatalf("no automation expected without settings")
	}
}

func TestHandleInboundStorageFailurePropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	policy := NewPolicy(nil, &fakeInbox{appendErr: boom}, &fakeSettings{}, &fakeReplier{}, &fakeDispatcher{})

	if err := policy.HandleInbound(context.Background(), "tenant-1", event("hello")); !errors.Is(err, boom) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestHandleInboundEscalatesAndSkipsAutoReply(t *testing.T) {
	t.Parallel()

	box := &fakeInbox{}
	dispatcher := &fakeDispatcher{}
	settings := &fakeSettings{settings: channel.ChannelSettings{
		AutoReplyEnabled:   true,
		EscalationEnabled:  true,
		EscalationKeywords: []string{"refund"},
	}}
	policy := NewPolicy(nil, box, settings, &fakeReplier{reply: "draft"}, dispatcher)

	if err := policy.HandleInbound(context.Background(), "tenant-1", event("I demand a REFUND")); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	if box.escalated != 1 {
		t.Fatalf("escalated = %d, want 1", box.escalated)
	}
	if dispatcher.count != 0 {
		t.Fatalf("escalated message must not be auto-replied")
	}
}

func TestHandleInboundToggleOffSkipsAllAutomation(t *testing.T) {
	t.Parallel()

	box := &fakeInbox{}
	dispatcher := &fakeDispatcher{}
	settings := &fakeSettings{settings: channel.ChannelSettings{
		AutoReplyEnabled:   false,
		EscalationEnabled:  true,
		EscalationKeywords: []string{"refund"},
	}}
	policy := NewPolicy(nil, box, settings, &fakeReplier{reply: "draft"}, dispatcher)

	if err := policy.HandleInbound(context.Background(), "tenant-1", event("I demand a REFUND")); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	if box.escalated != 0 {
		t.Fatalf("escalated = %d, want 0 with the toggle off", box.escalated)
	}
	if len(box.outbound) != 0 || dispatcher.count != 0 {
		t.Fatalf("toggle off must leave the message untouched")
	}
}

func TestHandleInboundAutoReplies(t *testing.T) {
	t.Parallel()

	box := &fakeInbox{}
	dispatcher := &fakeDispatcher{}
	confidence := 0.87
	replier := &fakeReplier{reply: "thanks, we will get back to you", confidence: &confidence}
	settings := &fakeSettings{settings: channel.ChannelSettings{
		AutoReplyEnabled: true,
		AutoReplyPrompt:  "be nice",
	}}
	policy := NewPolicy(nil, box, settings, replier, dispatcher)

	if err := policy.HandleInbound(context.Background(), "tenant-1", event("what are your prices?")); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	if len(box.outbound) != 1 {
		t.Fatalf("outbound = %d, want 1", len(box.outbound))
	}
	if box.outbound[0].SenderRole != inbox.RoleAgent {
		t.Fatalf("role = %s, want ai_agent", box.outbound[0].SenderRole)
	}
	if box.outbound[0].Confidence == nil || *box.outbound[0].Confidence != confidence {
		t.Fatalf("confidence = %v, want %v", box.outbound[0].Confidence, confidence)
	}
	if dispatcher.count != 1 {
		t.Fatalf("dispatch count = %d, want 1", dispatcher.count)
	}
	if replier.seen == nil || replier.seen.Prompt != "be nice" {
		t.Fatalf("expected prompt passed to responder")
	}
}

func TestHandleInboundEmptyDraftStaysSilent(t *testing.T) {
	t.Parallel()

	box := &fakeInbox{}
	dispatcher := &fakeDispatcher{}
	settings := &fakeSettings{settings: channel.ChannelSettings{AutoReplyEnabled: true}}
	policy := NewPolicy(nil, box, settings, &fakeReplier{reply: ""}, dispatcher)

	if err := policy.HandleInbound(context.Background(), "tenant-1", event("ok")); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	if len(box.outbound) != 0 || dispatcher.count != 0 {
		t.Fatalf("empty draft must not send anything")
	}
}

func TestHandleInboundResponderFailureSwallowed(t *testing.T) {
	t.Parallel()

	box := &fakeInbox{}
	settings := &fakeSettings{settings: channel.ChannelSettings{AutoReplyEnabled: true}}
	policy := NewPolicy(nil, box, settings, &fakeReplier{err: errors.New("responder down")}, &fakeDispatcher{})

	if err := policy.HandleInbound(context.Background(), "tenant-1", event("hello")); err != nil {
		t.Fatalf("responder outage must not fail inbound handling: %v", err)
	}
}
