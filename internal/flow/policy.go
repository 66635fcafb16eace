// Package flow wires inbound events through the conversation aggregate and
// the tenant's automation settings: store the message, then, when automation
// is enabled, escalate on keyword match or draft and send an auto-reply.
package flow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/leadwire/leadwire/internal/channel"
	"github.com/leadwire/leadwire/internal/inbox"
	"github.com/leadwire/leadwire/internal/responder"
)

// Inbox is the slice of the inbox service the policy needs.
type Inbox interface {
	AppendInbound(ctx context.Context, event channel.InboundEvent) (inbox.Conversation, inbox.Message, error)
	AppendOutbound(ctx context.Context, tenantID, conversationID string, role inbox.SenderRole, senderName, text string, confidence *float64) (inbox.Message, error)
	AppendEscalationMarker(ctx context.Context, tenantID, conversationID string) (inbox.Conversation, error)
}

// SettingsSource returns the tenant's automation settings for a channel.
type SettingsSource interface {
	Settings(ctx context.Context, tenantID string, channelType channel.ChannelType) (channel.ChannelSettings, error)
}

// Replier drafts an auto-reply. An empty draft means stay silent.
type Replier interface {
	Reply(ctx context.Context, req responder.ReplyRequest) (responder.Draft, error)
}

// Dispatcher sends a stored outbound message through its channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, tenantID string, message inbox.Message) (inbox.Message, error)
}

// Policy is the inbound processing pipeline behind the tenant router.
type Policy struct {
	logger     *slog.Logger
	inbox      Inbox
	settings   SettingsSource
	replier    Replier
	dispatcher Dispatcher
}

// NewPolicy creates a Policy. Replier and dispatcher may be nil; automation
// is then limited to storing and escalating.
func NewPolicy(log *slog.Logger, box Inbox, settings SettingsSource, replier Replier, dispatcher Dispatcher) *Policy {
	if log == nil {
		log = slog.Default()
	}
	return &Policy{
		logger:     log.With(slog.String("component", "flow")),
		inbox:      box,
		settings:   settings,
		replier:    replier,
		dispatcher: dispatcher,
	}
}

// HandleInbound stores the event and applies the tenant's automation. Storage
// failures propagate; automation failures are logged and swallowed so a
// responder outage never loses customer messages.
func (p *Policy) HandleInbound(ctx context.Context, tenantID string, event channel.InboundEvent) error {
	conversation, _, err := p.inbox.AppendInbound(ctx, event)
	if err != nil {
		return err
	}

	settings, err := p.settings.Settings(ctx, tenantID, event.Channel)
	if err != nil {
		if !errors.Is(err, channel.ErrChannelConfigNotFound) {
			p.logger.Warn("load settings failed",
				slog.String("tenant_id", tenantID),
				slog.String("channel", event.Channel.String()),
				slog.Any("error", err),
			)
		}
		return nil
	}

	// The toggle gates all automation, keyword escalation included.
	if !settings.AutoReplyEnabled {
		return nil
	}

	if settings.EscalationEnabled && settings.MatchesEscalation(event.Text) {
		if _, err := p.inbox.AppendEscalationMarker(ctx, tenantID, conversation.ID); err != nil {
			p.logger.Error("escalate conversation failed",
				slog.String("tenant_id", tenantID),
				slog.String("conversation_id", conversation.ID),
				slog.Any("error", err),
			)
		}
		// An escalated message waits for a human; no auto-reply on top.
		return nil
	}

	if p.replier == nil || p.dispatcher == nil {
		return nil
	}
	p.autoReply(ctx, tenantID, conversation, settings, event)
	return nil
}

func (p *Policy) autoReply(ctx context.Context, tenantID string, conversation inbox.Conversation, settings channel.ChannelSettings, event channel.InboundEvent) {
	draft, err := p.replier.Reply(ctx, responder.ReplyRequest{
		TenantID:       tenantID,
		Channel:        event.Channel.String(),
		ConversationID: conversation.ID,
		Prompt:         settings.AutoReplyPrompt,
		CustomerName:   event.SenderName,
		Message:        event.Text,
	})
	if err != nil {
		p.logger.Error("draft auto-reply failed",
			slog.String("tenant_id", tenantID),
			slog.String("conversation_id", conversation.ID),
			slog.Any("error", err),
		)
		return
	}
	if draft.Text == "" {
		return
	}

	message, err := p.inbox.AppendOutbound(ctx, tenantID, conversation.ID, inbox.RoleAgent, "", draft.Text, draft.Confidence)
	if err != nil {
		p.logger.Error("store auto-reply failed",
			slog.String("tenant_id", tenantID),
			slog.String("conversation_id", conversation.ID),
			slog.Any("error", err),
		)
		return
	}
	if _, err := p.dispatcher.Dispatch(ctx, tenantID, message); err != nil {
		p.logger.Error("send auto-reply failed",
			slog.String("tenant_id", tenantID),
			slog.String("conversation_id", conversation.ID),
			slog.String("message_id", message.ID),
			slog.Any("error", err),
		)
	}
}
