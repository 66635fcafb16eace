// Package linked implements the adapter for channels that attach through a
// provider-managed linked session paired via QR scan (currently WhatsApp).
package linked

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadwire/leadwire/internal/channel"
	"github.com/leadwire/leadwire/internal/provider"
)

// SessionAPI is the slice of the provider client the adapter needs.
type SessionAPI interface {
	Status(ctx context.Context, sessionRef string) (provider.Session, error)
	SendText(ctx context.Context, sessionRef, conversationRef, text string) (provider.SendResult, error)
}

// Adapter sends and normalizes traffic for a linked-session channel.
type Adapter struct {
	channelType channel.ChannelType
	api         SessionAPI
}

// NewWhatsApp creates the WhatsApp adapter on top of the session provider.
func NewWhatsApp(api SessionAPI) *Adapter {
	return &Adapter{channelType: channel.ChannelType("whatsapp"), api: api}
}

func (a *Adapter) Type() channel.ChannelType {
	return a.channelType
}

// SendText delivers text through the tenant's linked session.
func (a *Adapter) SendText(ctx context.Context, cfg channel.ChannelConfig, conversationRef, text string) (channel.OutboundResult, error) {
	sessionRef := cfg.SessionRef()
	if sessionRef == "" {
		return channel.OutboundResult{}, fmt.Errorf("%w: channel has no linked session", channel.ErrProviderRejected)
	}
	result, err := a.api.SendText(ctx, sessionRef, conversationRef, text)
	if err != nil {
		return channel.OutboundResult{}, err
	}
	return channel.OutboundResult{
		ExternalID: result.MessageID,
		Status:     result.Status,
	}, nil
}

// inboundPayload is the webhook shape the session provider posts for each
// received message.
type inboundPayload struct {
	MessageID   string   `json:"message_id"`
	ChatID      string   `json:"chat_id"`
	Text        string   `json:"text"`
	SenderName  string   `json:"sender_name"`
	PushName    string   `json:"push_name"`
	Attachments []string `json:"attachments"`
	Timestamp   int64    `json:"timestamp"`
}

// NormalizeInbound converts a provider webhook payload into the canonical
// inbound event.
func (a *Adapter) NormalizeInbound(raw []byte) (channel.InboundEvent, error) {
	var payload inboundPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return channel.InboundEvent{}, fmt.Errorf("decode %s payload: %w", a.channelType, err)
	}
	if strings.TrimSpace(payload.ChatID) == "" {
		return channel.InboundEvent{}, fmt.Errorf("%s payload missing chat id", a.channelType)
	}

	receivedAt := time.Now().UTC()
	if payload.Timestamp > 0 {
		receivedAt = time.Unix(payload.Timestamp, 0).UTC()
	}
	id := payload.MessageID
	if id == "" {
		id = uuid.NewString()
	}
	sender := strings.TrimSpace(payload.SenderName)
	if sender == "" {
		sender = strings.TrimSpace(payload.PushName)
	}
	if sender == "" {
		sender = channel.UnknownSender
	}

	return channel.InboundEvent{
		ID:              id,
		Channel:         a.channelType,
		ConversationRef: payload.ChatID,
		Text:            payload.Text,
		AttachmentURLs:  payload.Attachments,
		SenderName:      sender,
		Direction:       channel.DirectionInbound,
		ReceivedAt:      receivedAt,
		Raw:             json.RawMessage(raw),
	}, nil
}

// CheckHealth asks the provider for the live session status.
func (a *Adapter) CheckHealth(ctx context.Context, cfg channel.ChannelConfig) (channel.ChannelHealth, error) {
	now := time.Now().UTC()
	sessionRef := cfg.SessionRef()
	if sessionRef == "" {
		return channel.ChannelHealth{
			State:     channel.HealthDisconnected,
			Detail:    "no linked session",
			CheckedAt: now,
		}, nil
	}
	session, err := a.api.Status(ctx, sessionRef)
	if err != nil {
		return channel.ChannelHealth{}, err
	}
	return channel.ChannelHealth{
		State:     StateFromStatus(session.Status),
		Detail:    session.Detail,
		CheckedAt: now,
	}, nil
}

// StateFromStatus maps a provider session status onto the channel health
// state. Unrecognized statuses map to unknown rather than disconnected so a
// provider-side vocabulary change never tears sessions down.
func StateFromStatus(status provider.SessionStatus) channel.HealthState {
	switch status {
	case provider.StatusAuthorized:
		return channel.HealthConnected
	case provider.StatusStarting, provider.StatusAwaitingScan:
		return channel.HealthAwaitingPairing
	case provider.StatusStopped, provider.StatusFailed, provider.StatusExpired, provider.StatusNotFound:
		return channel.HealthDisconnected
	default:
		return channel.HealthUnknown
	}
}
