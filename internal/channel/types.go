// Package channel provides a unified abstraction for the messenger channels a
// tenant can connect. It defines the canonical inbound event, channel
// configuration, the adapter interfaces, a registry, and the tenant router.
package channel

import (
	"encoding/json"
	"strings"
	"time"
)

// ChannelType identifies a messaging platform (e.g. "whatsapp", "telegram").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Direction marks which way a message travelled.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// InboundEvent is the canonical shape every adapter produces from a raw
// channel payload. TenantID is empty until the router resolves it.
type InboundEvent struct {
	ID              string          `json:"id"`
	Channel         ChannelType     `json:"channel"`
	ConversationRef string          `json:"conversation_ref"`
	TenantID        string          `json:"tenant_id,omitempty"`
	Text            string          `json:"text"`
	AttachmentURLs  []string        `json:"attachment_urls,omitempty"`
	SenderName      string          `json:"sender_name"`
	Direction       Direction       `json:"direction"`
	ReceivedAt      time.Time       `json:"received_at"`
	Raw             json.RawMessage `json:"-"`
}

// HealthState is the provider-observed state of a channel connection.
type HealthState string

const (
	HealthConnected       HealthState = "connected"
	HealthAwaitingPairing HealthState = "awaiting_pairing"
	HealthDisconnected    HealthState = "disconnected"
	HealthUnknown         HealthState = "unknown"
)

// ChannelHealth is the result of a live health check against the provider.
type ChannelHealth struct {
	State     HealthState `json:"state"`
	Detail    string      `json:"detail,omitempty"`
	CheckedAt time.Time   `json:"checked_at"`
}

// OutboundResult is returned by an adapter after a send attempt succeeds.
// Status carries the furthest delivery state the provider confirmed; most
// adapters report "sent", some confirm delivery immediately.
type OutboundResult struct {
	ExternalID string `json:"external_id,omitempty"`
	Status     string `json:"status"`
}

const (
	OutboundStatusSent      = "sent"
	OutboundStatusDelivered = "delivered"
	OutboundStatusRead      = "read"
)

// ChannelSettings holds the per-channel automation knobs a tenant can edit.
type ChannelSettings struct {
	AutoReplyEnabled   bool     `json:"auto_reply_enabled"`
	AutoReplyPrompt    string   `json:"auto_reply_prompt"`
	EscalationEnabled  bool     `json:"escalation_enabled"`
	EscalationKeywords []string `json:"escalation_keywords"`
}

// MatchesEscalation reports whether text contains any escalation keyword,
// case-insensitively.
func (s ChannelSettings) MatchesEscalation(text string) bool {
	lowered := strings.ToLower(text)
	for _, keyword := range s.EscalationKeywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

// ChannelConfig is one tenant's configuration for one channel type. There is
// at most one per (tenant, channel type) pair.
//
// Connected is a cached flag written only by that channel's poll loop; any
// user-facing "connected" claim must come from a fresh health check.
type ChannelConfig struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	ChannelType ChannelType     `json:"channel_type"`
	Session     map[string]any  `json:"session"`
	Connected   bool            `json:"connected"`
	Settings    ChannelSettings `json:"settings"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SessionRef returns the opaque provider session reference stored in the
// config, or empty string when the channel was never paired.
func (c ChannelConfig) SessionRef() string {
	if c.Session == nil {
		return ""
	}
	ref, _ := c.Session["session_ref"].(string)
	return strings.TrimSpace(ref)
}

// BotInfo is display-only metadata for bot-token channels.
type BotInfo struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name,omitempty"`
	ID        int64  `json:"id,omitempty"`
}

// UpdateSettingsRequest is the input for saving channel automation settings.
type UpdateSettingsRequest struct {
	AutoReplyEnabled   bool     `json:"auto_reply_enabled"`
	AutoReplyPrompt    string   `json:"auto_reply_prompt" validate:"max=4000"`
	EscalationEnabled  bool     `json:"escalation_enabled"`
	EscalationKeywords []string `json:"escalation_keywords" validate:"max=64,dive,max=128"`
}
