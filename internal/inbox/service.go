package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/leadwire/leadwire/internal/channel"
)

const previewLength = 120

// Store persists conversations and messages.
type Store interface {
	GetConversation(ctx context.Context, tenantID, conversationID string) (Conversation, error)
	GetConversationByRef(ctx context.Context, tenantID string, channelType channel.ChannelType, conversationRef string) (Conversation, error)
	CreateConversation(ctx context.Context, conversation Conversation) error
	UpdateConversation(ctx context.Context, conversation Conversation) error
	ListConversations(ctx context.Context, tenantID string, filter ListFilter) ([]Conversation, error)
	InsertMessage(ctx context.Context, message Message) error
	UpdateMessage(ctx context.Context, message Message) error
	GetMessage(ctx context.Context, tenantID, messageID string) (Message, error)
	ListMessages(ctx context.Context, tenantID, conversationID string, limit int, before time.Time) ([]Message, error)
	LatestMessage(ctx context.Context, tenantID, conversationID string) (Message, error)
}

// Service owns all conversation mutations. Writes to one conversation are
// serialized through a per-conversation lock so unread counts and append
// timestamps never race.
type Service struct {
	logger *slog.Logger
	store  Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a Service over the given store.
func NewService(log *slog.Logger, store Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger: log.With(slog.String("component", "inbox")),
		store:  store,
		locks:  map[string]*sync.Mutex{},
	}
}

func (s *Service) lockConversation(key string) func() {
	s.mu.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	s.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// appendTime returns a timestamp strictly after the conversation's last
// message so history ordering survives clock ties and small regressions.
func appendTime(conversation Conversation) time.Time {
	now := time.Now().UTC()
	if !now.After(conversation.LastMessageAt) {
		now = conversation.LastMessageAt.Add(time.Microsecond)
	}
	return now
}

// AppendInbound records an inbound event in its conversation, creating the
// conversation on first contact. It bumps the unread count and reopens
// archived or closed conversations.
func (s *Service) AppendInbound(ctx context.Context, event channel.InboundEvent) (Conversation, Message, error) {
	tenantID := strings.TrimSpace(event.TenantID)
	if tenantID == "" {
		return Conversation{}, Message{}, fmt.Errorf("inbound event has no tenant")
	}
	if strings.TrimSpace(event.ConversationRef) == "" {
		return Conversation{}, Message{}, fmt.Errorf("inbound event has no conversation ref")
	}

	// The ref lock serializes first-contact creation for the same external
	// thread; every mutation below happens under the conversation-ID lock all
	// other writers use. Ref lock is always taken first, so the nesting
	// cannot deadlock.
	refUnlock := s.lockConversation(tenantID + "/" + event.Channel.String() + "/" + event.ConversationRef)
	defer refUnlock()

	conversation, created, err := s.findOrCreateConversation(ctx, tenantID, event)
	if err != nil {
		return Conversation{}, Message{}, err
	}

	unlock := s.lockConversation(tenantID + "/" + conversation.ID)
	defer unlock()
	if !created {
		// Re-read under the ID lock; the copy from the lookup may predate a
		// concurrent outbound append.
		conversation, err = s.store.GetConversation(ctx, tenantID, conversation.ID)
		if err != nil {
			return Conversation{}, Message{}, err
		}
	}

	now := appendTime(conversation)
	message := Message{
		ID:             uuid.NewString(),
		ConversationID: conversation.ID,
		TenantID:       tenantID,
		Direction:      channel.DirectionInbound,
		SenderRole:     RoleCustomer,
		SenderName:     event.SenderName,
		Text:           event.Text,
		AttachmentURLs: event.AttachmentURLs,
		ExternalID:     event.ID,
		DeliveryStatus: DeliveryDelivered,
		CreatedAt:      now,
	}
	if err := s.store.InsertMessage(ctx, message); err != nil {
		return Conversation{}, Message{}, fmt.Errorf("insert inbound message: %w", err)
	}

	conversation.UnreadCount++
	conversation.Status = StatusOpen
	conversation.LastMessageAt = now
	conversation.LastMessagePreview = preview(event.Text)
	if event.SenderName != "" && event.SenderName != channel.UnknownSender {
		conversation.DisplayName = event.SenderName
	}
	conversation.UpdatedAt = now
	if err := s.store.UpdateConversation(ctx, conversation); err != nil {
		return Conversation{}, Message{}, fmt.Errorf("update conversation: %w", err)
	}
	if created {
		s.logger.Info("conversation created",
			slog.String("tenant_id", tenantID),
			slog.String("channel", event.Channel.String()),
			slog.String("conversation_id", conversation.ID),
		)
	}
	return conversation, message, nil
}

func (s *Service) findOrCreateConversation(ctx context.Context, tenantID string, event channel.InboundEvent) (Conversation, bool, error) {
	conversation, err := s.store.GetConversationByRef(ctx, tenantID, event.Channel, event.ConversationRef)
	if err == nil {
		return conversation, false, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return Conversation{}, false, err
	}

	now := time.Now().UTC()
	conversation = Conversation{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		Channel:         event.Channel,
		ConversationRef: event.ConversationRef,
		DisplayName:     event.SenderName,
		Status:          StatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateConversation(ctx, conversation); err != nil {
		return Conversation{}, false, fmt.Errorf("create conversation: %w", err)
	}
	return conversation, true, nil
}

// AppendOutbound records an outbound message in pending state. It does not
// touch the unread count; unread counts only ever track the customer side.
// Confidence is the responder's optional score for an ai_agent draft; pass
// nil for human-authored messages.
func (s *Service) AppendOutbound(ctx context.Context, tenantID, conversationID string, role SenderRole, senderName, text string, confidence *float64) (Message, error) {
	unlock := s.lockConversation(tenantID + "/" + conversationID)
	defer unlock()

	conversation, err := s.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return Message{}, err
	}

	now := appendTime(conversation)
	message := Message{
		ID:             uuid.NewString(),
		ConversationID: conversation.ID,
		TenantID:       tenantID,
		Direction:      channel.DirectionOutbound,
		SenderRole:     role,
		SenderName:     senderName,
		Text:           text,
		DeliveryStatus: DeliveryPending,
		Confidence:     confidence,
		CreatedAt:      now,
	}
	if err := s.store.InsertMessage(ctx, message); err != nil {
		return Message{}, fmt.Errorf("insert outbound message: %w", err)
	}

	conversation.LastMessageAt = now
	conversation.LastMessagePreview = preview(text)
	conversation.UpdatedAt = now
	if err := s.store.UpdateConversation(ctx, conversation); err != nil {
		return Message{}, fmt.Errorf("update conversation: %w", err)
	}
	return message, nil
}

// AppendEscalationMarker records a system marker that flags the conversation
// for human attention. Appending twice in a row is a no-op: a marker on top
// of a marker carries no information.
func (s *Service) AppendEscalationMarker(ctx context.Context, tenantID, conversationID string) (Conversation, error) {
	unlock := s.lockConversation(tenantID + "/" + conversationID)
	defer unlock()

	conversation, err := s.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return Conversation{}, err
	}

	latest, err := s.store.LatestMessage(ctx, tenantID, conversationID)
	if err != nil && !errors.Is(err, ErrMessageNotFound) {
		return Conversation{}, err
	}
	if err == nil && latest.IsEscalationMarker() {
		return conversation, nil
	}

	now := appendTime(conversation)
	marker := Message{
		ID:             uuid.NewString(),
		ConversationID: conversation.ID,
		TenantID:       tenantID,
		Direction:      channel.DirectionOutbound,
		SenderRole:     RoleSystem,
		DeliveryStatus: DeliveryDelivered,
		Escalated:      true,
		CreatedAt:      now,
	}
	if err := s.store.InsertMessage(ctx, marker); err != nil {
		return Conversation{}, fmt.Errorf("insert escalation marker: %w", err)
	}

	conversation.Escalated = true
	conversation.LastMessageAt = now
	conversation.UpdatedAt = now
	if err := s.store.UpdateConversation(ctx, conversation); err != nil {
		return Conversation{}, fmt.Errorf("update conversation: %w", err)
	}
	s.logger.Info("conversation escalated",
		slog.String("tenant_id", tenantID),
		slog.String("conversation_id", conversationID),
	)
	return conversation, nil
}

// MarkViewed resets the unread count and clears the escalation flag.
func (s *Service) MarkViewed(ctx context.Context, tenantID, conversationID string) (Conversation, error) {
	unlock := s.lockConversation(tenantID + "/" + conversationID)
	defer unlock()

	conversation, err := s.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if conversation.UnreadCount == 0 && !conversation.Escalated {
		return conversation, nil
	}
	conversation.UnreadCount = 0
	conversation.Escalated = false
	conversation.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateConversation(ctx, conversation); err != nil {
		return Conversation{}, err
	}
	return conversation, nil
}

// SetStatus moves a conversation between open, closed, and archived.
func (s *Service) SetStatus(ctx context.Context, tenantID, conversationID string, status ConversationStatus) (Conversation, error) {
	switch status {
	case StatusOpen, StatusClosed, StatusArchived:
	default:
		return Conversation{}, fmt.Errorf("unknown conversation status: %s", status)
	}
	unlock := s.lockConversation(tenantID + "/" + conversationID)
	defer unlock()

	conversation, err := s.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if conversation.Status == status {
		return conversation, nil
	}
	conversation.Status = status
	conversation.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateConversation(ctx, conversation); err != nil {
		return Conversation{}, err
	}
	return conversation, nil
}

// LinkLead attaches a CRM lead to the conversation. Linking the same lead
// again is a no-op; linking a different lead returns ErrAlreadyLinked.
func (s *Service) LinkLead(ctx context.Context, tenantID, conversationID, leadID string) (Conversation, error) {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return Conversation{}, fmt.Errorf("lead id is required")
	}
	unlock := s.lockConversation(tenantID + "/" + conversationID)
	defer unlock()

	conversation, err := s.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if conversation.LeadID == leadID {
		return conversation, nil
	}
	if conversation.LeadID != "" {
		return Conversation{}, fmt.Errorf("%w: %s", ErrAlreadyLinked, conversation.LeadID)
	}
	conversation.LeadID = leadID
	conversation.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateConversation(ctx, conversation); err != nil {
		return Conversation{}, err
	}
	return conversation, nil
}

// AdvanceDeliveryStatus moves an outbound message's delivery status forward.
// Regressions and repeats are ignored, never errors: providers replay status
// callbacks out of order.
func (s *Service) AdvanceDeliveryStatus(ctx context.Context, tenantID, messageID string, next DeliveryStatus) (Message, error) {
	if _, ok := deliveryRank[next]; !ok {
		return Message{}, fmt.Errorf("unknown delivery status: %s", next)
	}
	message, err := s.store.GetMessage(ctx, tenantID, messageID)
	if err != nil {
		return Message{}, err
	}
	if !message.DeliveryStatus.CanTransition(next) {
		return message, nil
	}
	message.DeliveryStatus = next
	if next != DeliveryFailed {
		message.FailureReason = ""
	}
	if err := s.store.UpdateMessage(ctx, message); err != nil {
		return Message{}, err
	}
	return message, nil
}

// RecordSendResult stores the provider acknowledgement for a sent message.
func (s *Service) RecordSendResult(ctx context.Context, tenantID, messageID, externalID string, status DeliveryStatus) (Message, error) {
	message, err := s.store.GetMessage(ctx, tenantID, messageID)
	if err != nil {
		return Message{}, err
	}
	if externalID != "" {
		message.ExternalID = externalID
	}
	if message.DeliveryStatus.CanTransition(status) {
		message.DeliveryStatus = status
	}
	if err := s.store.UpdateMessage(ctx, message); err != nil {
		return Message{}, err
	}
	return message, nil
}

// RecordSendFailure marks a message as failed with the given reason.
func (s *Service) RecordSendFailure(ctx context.Context, tenantID, messageID, reason string) (Message, error) {
	message, err := s.store.GetMessage(ctx, tenantID, messageID)
	if err != nil {
		return Message{}, err
	}
	if message.DeliveryStatus.CanTransition(DeliveryFailed) {
		message.DeliveryStatus = DeliveryFailed
		message.FailureReason = reason
	}
	if err := s.store.UpdateMessage(ctx, message); err != nil {
		return Message{}, err
	}
	return message, nil
}

// Get returns one conversation scoped to the tenant.
func (s *Service) Get(ctx context.Context, tenantID, conversationID string) (Conversation, error) {
	return s.store.GetConversation(ctx, tenantID, conversationID)
}

// List returns the tenant's conversations, most recent activity first.
func (s *Service) List(ctx context.Context, tenantID string, filter ListFilter) ([]Conversation, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.store.ListConversations(ctx, tenantID, filter)
}

// History returns messages for a conversation, oldest first. A zero before
// time means "from the latest".
func (s *Service) History(ctx context.Context, tenantID, conversationID string, limit int, before time.Time) ([]Message, error) {
	if _, err := s.store.GetConversation(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListMessages(ctx, tenantID, conversationID, limit, before)
}

// preview cuts on a rune boundary so multi-byte text never ends up with a
// mangled trailing character.
func preview(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	return string([]rune(text)[:previewLength])
}
