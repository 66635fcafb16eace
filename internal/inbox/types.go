// Package inbox holds the conversation aggregate: per-tenant conversations,
// their message history, unread accounting, escalation, and delivery status
// tracking for outbound messages.
package inbox

import (
	"errors"
	"time"

	"github.com/leadwire/leadwire/internal/channel"
)

// ConversationStatus is the operator-facing state of a conversation.
type ConversationStatus string

const (
	StatusOpen     ConversationStatus = "open"
	StatusClosed   ConversationStatus = "closed"
	StatusArchived ConversationStatus = "archived"
)

// SenderRole identifies who authored a message.
type SenderRole string

const (
	RoleCustomer SenderRole = "customer"
	RoleAgent    SenderRole = "ai_agent"
	RoleOperator SenderRole = "operator"
	RoleSystem   SenderRole = "system"
)

// DeliveryStatus tracks an outbound message through the provider. Inbound
// messages are stored as delivered; they were received, after all.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

var deliveryRank = map[DeliveryStatus]int{
	DeliveryPending:   0,
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryRead:      3,
	DeliveryFailed:    3,
}

// CanTransition reports whether moving from s to next is a legal forward
// step. Read and failed are terminal; status never moves backwards.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	from, ok := deliveryRank[s]
	if !ok {
		return false
	}
	to, ok := deliveryRank[next]
	if !ok {
		return false
	}
	if s == DeliveryRead || s == DeliveryFailed {
		return false
	}
	return to > from
}

// Conversation is one thread with one external contact on one channel.
type Conversation struct {
	ID                 string              `json:"id"`
	TenantID           string              `json:"tenant_id"`
	Channel            channel.ChannelType `json:"channel"`
	ConversationRef    string              `json:"conversation_ref"`
	DisplayName        string              `json:"display_name"`
	Status             ConversationStatus  `json:"status"`
	UnreadCount        int                 `json:"unread_count"`
	Escalated          bool                `json:"escalated"`
	LeadID             string              `json:"lead_id,omitempty"`
	LastMessagePreview string              `json:"last_message_preview"`
	LastMessageAt      time.Time           `json:"last_message_at"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// Message is one entry in a conversation's history. Escalation markers are
// system-role messages with empty text and Escalated set.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	TenantID       string            `json:"tenant_id"`
	Direction      channel.Direction `json:"direction"`
	SenderRole     SenderRole        `json:"sender_role"`
	SenderName     string            `json:"sender_name"`
	Text           string            `json:"text"`
	AttachmentURLs []string          `json:"attachment_urls,omitempty"`
	ExternalID     string            `json:"external_id,omitempty"`
	DeliveryStatus DeliveryStatus    `json:"delivery_status"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	Confidence     *float64          `json:"confidence,omitempty"`
	Escalated      bool              `json:"escalated"`
	CreatedAt      time.Time         `json:"created_at"`
}

// IsEscalationMarker reports whether the message is an escalation marker.
func (m Message) IsEscalationMarker() bool {
	return m.SenderRole == RoleSystem && m.Escalated && m.Text == ""
}

var (
	// ErrConversationNotFound indicates no conversation matches the lookup
	// within the tenant.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound indicates no message matches the lookup within the
	// tenant.
	ErrMessageNotFound = errors.New("message not found")

	// ErrAlreadyLinked indicates the conversation is already linked to a
	// different lead.
	ErrAlreadyLinked = errors.New("conversation already linked to a lead")
)

// ListFilter narrows a conversation listing.
type ListFilter struct {
	Status  ConversationStatus  `json:"status,omitempty"`
	Channel channel.ChannelType `json:"channel,omitempty"`
	Search  string              `json:"search,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
	Offset  int                 `json:"offset,omitempty"`
}
