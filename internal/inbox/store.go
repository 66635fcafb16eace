package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadwire/leadwire/internal/channel"
)

// PGStore is the Postgres-backed Store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PGStore backed by the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const inboxSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id UUID PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	channel_type TEXT NOT NULL,
	conversation_ref TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'open',
	unread_count INT NOT NULL DEFAULT 0,
	escalated BOOLEAN NOT NULL DEFAULT FALSE,
	lead_id TEXT NOT NULL DEFAULT '',
	last_message_preview TEXT NOT NULL DEFAULT '',
	last_message_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, channel_type, conversation_ref)
);
CREATE INDEX IF NOT EXISTS idx_conversations_tenant_activity
	ON conversations (tenant_id, last_message_at DESC);
CREATE TABLE IF NOT EXISTS messages (
	id UUID PRIMARY KEY,
	conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	tenant_id TEXT NOT NULL,
	direction TEXT NOT NULL,
	sender_role TEXT NOT NULL,
	sender_name TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	attachment_urls TEXT[] NOT NULL DEFAULT '{}',
	external_id TEXT NOT NULL DEFAULT '',
	delivery_status TEXT NOT NULL DEFAULT 'pending',
	failure_reason TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION,
	escalated BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_time
	ON messages (conversation_id, created_at);
`

// EnsureSchema creates the inbox tables when they do not exist.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("inbox store pool not configured")
	}
	_, err := s.pool.Exec(ctx, inboxSchema)
	return err
}

const conversationColumns = `id, tenant_id, channel_type, conversation_ref, display_name, status,
	unread_count, escalated, lead_id, last_message_preview, last_message_at, created_at, updated_at`

// GetConversation implements Store.
func (s *PGStore) GetConversation(ctx context.Context, tenantID, conversationID string) (Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations WHERE tenant_id = $1 AND id = $2`,
		tenantID, conversationID,
	)
	return scanConversation(row)
}

// GetConversationByRef implements Store.
func (s *PGStore) GetConversationByRef(ctx context.Context, tenantID string, channelType channel.ChannelType, conversationRef string) (Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations WHERE tenant_id = $1 AND channel_type = $2 AND conversation_ref = $3`,
		tenantID, channelType.String(), conversationRef,
	)
	return scanConversation(row)
}

// CreateConversation implements Store.
func (s *PGStore) CreateConversation(ctx context.Context, c Conversation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, tenant_id, channel_type, conversation_ref, display_name, status,
			unread_count, escalated, lead_id, last_message_preview, last_message_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.TenantID, c.Channel.String(), c.ConversationRef, c.DisplayName, string(c.Status),
		c.UnreadCount, c.Escalated, c.LeadID, c.LastMessagePreview, nullableTime(c.LastMessageAt), c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// UpdateConversation implements Store.
func (s *PGStore) UpdateConversation(ctx context.Context, c Conversation) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET display_name = $3, status = $4, unread_count = $5, escalated = $6,
			lead_id = $7, last_message_preview = $8, last_message_at = $9, updated_at = $10
		WHERE tenant_id = $1 AND id = $2`,
		c.TenantID, c.ID, c.DisplayName, string(c.Status), c.UnreadCount, c.Escalated,
		c.LeadID, c.LastMessagePreview, nullableTime(c.LastMessageAt), c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// ListConversations implements Store. Results are ordered by most recent
// activity; search matches display name, conversation ref, and preview.
// Without an explicit status filter, archived conversations are hidden.
func (s *PGStore) ListConversations(ctx context.Context, tenantID string, filter ListFilter) ([]Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE tenant_id = $1`
	args := []any{tenantID}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	} else {
		args = append(args, string(StatusArchived))
		query += fmt.Sprintf(" AND status <> $%d", len(args))
	}
	if filter.Channel != "" {
		args = append(args, filter.Channel.String())
		query += fmt.Sprintf(" AND channel_type = $%d", len(args))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+search+"%")
		idx := len(args)
		query += fmt.Sprintf(
			" AND (display_name ILIKE $%d OR conversation_ref ILIKE $%d OR last_message_preview ILIKE $%d)",
			idx, idx, idx,
		)
	}
	query += " ORDER BY last_message_at DESC NULLS LAST, created_at DESC"
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

const messageColumns = `id, conversation_id, tenant_id, direction, sender_role, sender_name, body,
	attachment_urls, external_id, delivery_status, failure_reason, confidence, escalated, created_at`

// InsertMessage implements Store.
func (s *PGStore) InsertMessage(ctx context.Context, m Message) error {
	attachments := m.AttachmentURLs
	if attachments == nil {
		attachments = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, tenant_id, direction, sender_role, sender_name, body,
			attachment_urls, external_id, delivery_status, failure_reason, confidence, escalated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		m.ID, m.ConversationID, m.TenantID, string(m.Direction), string(m.SenderRole), m.SenderName, m.Text,
		attachments, m.ExternalID, string(m.DeliveryStatus), m.FailureReason, m.Confidence, m.Escalated, m.CreatedAt,
	)
	return err
}

// UpdateMessage implements Store. Only delivery bookkeeping is mutable;
// message bodies are immutable once appended.
func (s *PGStore) UpdateMessage(ctx context.Context, m Message) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET external_id = $3, delivery_status = $4, failure_reason = $5
		WHERE tenant_id = $1 AND id = $2`,
		m.TenantID, m.ID, m.ExternalID, string(m.DeliveryStatus), m.FailureReason,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// GetMessage implements Store.
func (s *PGStore) GetMessage(ctx context.Context, tenantID, messageID string) (Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages WHERE tenant_id = $1 AND id = $2`,
		tenantID, messageID,
	)
	return scanMessage(row)
}

// ListMessages implements Store. Messages come back oldest first within the
// requested window.
func (s *PGStore) ListMessages(ctx context.Context, tenantID, conversationID string, limit int, before time.Time) ([]Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE tenant_id = $1 AND conversation_id = $2`
	args := []any{tenantID, conversationID}
	if !before.IsZero() {
		args = append(args, before)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse the newest-first page into chronological order.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// LatestMessage implements Store.
func (s *PGStore) LatestMessage(ctx context.Context, tenantID, conversationID string) (Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages WHERE tenant_id = $1 AND conversation_id = $2
		ORDER BY created_at DESC LIMIT 1`,
		tenantID, conversationID,
	)
	return scanMessage(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var (
		c             Conversation
		channelType   string
		status        string
		lastMessageAt *time.Time
	)
	err := row.Scan(&c.ID, &c.TenantID, &channelType, &c.ConversationRef, &c.DisplayName, &status,
		&c.UnreadCount, &c.Escalated, &c.LeadID, &c.LastMessagePreview, &lastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrConversationNotFound
		}
		return Conversation{}, err
	}
	c.Channel = channel.ChannelType(channelType)
	c.Status = ConversationStatus(status)
	if lastMessageAt != nil {
		c.LastMessageAt = *lastMessageAt
	}
	return c, nil
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		m          Message
		direction  string
		senderRole string
		delivery   string
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.TenantID, &direction, &senderRole, &m.SenderName, &m.Text,
		&m.AttachmentURLs, &m.ExternalID, &delivery, &m.FailureReason, &m.Confidence, &m.Escalated, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotFound
		}
		return Message{}, err
	}
	m.Direction = channel.Direction(direction)
	m.SenderRole = SenderRole(senderRole)
	m.DeliveryStatus = DeliveryStatus(delivery)
	return m, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
