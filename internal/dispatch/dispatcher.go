// Package dispatch sends stored outbound messages through their channel
// adapter and records the delivery outcome on the message.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leadwire/leadwire/internal/channel"
	"github.com/leadwire/leadwire/internal/inbox"
)

// Inbox is the slice of the inbox service the dispatcher needs.
type Inbox interface {
	Get(ctx context.Context, tenantID, conversationID string) (inbox.Conversation, error)
	RecordSendResult(ctx context.Context, tenantID, messageID, externalID string, status inbox.DeliveryStatus) (inbox.Message, error)
	RecordSendFailure(ctx context.Context, tenantID, messageID, reason string) (inbox.Message, error)
}

// ConfigSource returns the tenant's channel config for sending.
type ConfigSource interface {
	GetConfig(ctx context.Context, tenantID string, channelType channel.ChannelType) (channel.ChannelConfig, error)
}

// Dispatcher pushes pending messages out through channel adapters.
type Dispatcher struct {
	logger   *slog.Logger
	registry *channel.Registry
	configs  ConfigSource
	inbox    Inbox
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(log *slog.Logger, registry *channel.Registry, configs ConfigSource, box Inbox) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		logger:   log.With(slog.String("component", "dispatch")),
		registry: registry,
		configs:  configs,
		inbox:    box,
	}
}

// Dispatch sends the message and returns it with its delivery bookkeeping
// updated. A provider failure is recorded on the message as failed and is not
// an error; the message sits in history with its failure reason. Errors mean
// the attempt could not be made at all (unknown conversation, missing
// adapter or config).
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID string, message inbox.Message) (inbox.Message, error) {
	conversation, err := d.inbox.Get(ctx, tenantID, message.ConversationID)
	if err != nil {
		return inbox.Message{}, err
	}

	adapter, ok := d.registry.Get(conversation.Channel)
	if !ok {
		return inbox.Message{}, fmt.Errorf("no adapter for channel: %s", conversation.Channel)
	}
	cfg, err := d.configs.GetConfig(ctx, tenantID, conversation.Channel)
	if err != nil {
		return inbox.Message{}, err
	}

	result, err := adapter.SendText(ctx, cfg, conversation.ConversationRef, message.Text)
	if err != nil {
		d.logger.Warn("send failed",
			slog.String("tenant_id", tenantID),
			slog.String("channel", conversation.Channel.String()),
			slog.String("message_id", message.ID),
			slog.Any("error", err),
		)
		return d.inbox.RecordSendFailure(ctx, tenantID, message.ID, err.Error())
	}

	return d.inbox.RecordSendResult(ctx, tenantID, message.ID, result.ExternalID, deliveryFromOutbound(result.Status))
}

// deliveryFromOutbound maps an adapter's reported status onto the delivery
// ladder, defaulting to sent for anything unrecognized.
func deliveryFromOutbound(status string) inbox.DeliveryStatus {
	switch status {
	case channel.OutboundStatusDelivered:
		return inbox.DeliveryDelivered
	case channel.OutboundStatusRead:
		return inbox.DeliveryRead
	default:
		return inbox.DeliverySent
	}
}
