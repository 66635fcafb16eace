package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides persistence for channel configurations and the learned
// conversation-to-tenant mapping table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS channel_configs (
	id UUID PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	channel_type TEXT NOT NULL,
	session JSONB NOT NULL DEFAULT '{}',
	connected BOOLEAN NOT NULL DEFAULT FALSE,
	settings JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, channel_type)
);
CREATE TABLE IF NOT EXISTS conversation_mappings (
	channel_type TEXT NOT NULL,
	conversation_ref TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (channel_type, conversation_ref)
);
`

// EnsureSchema creates the store tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("channel store pool not configured")
	}
	_, err := s.pool.Exec(ctx, storeSchema)
	return err
}

// UpsertConfig creates the config for (tenant, channel type) on first use or
// replaces its session blob. Settings are preserved on update.
func (s *Store) UpsertConfig(ctx context.Context, tenantID string, channelType ChannelType, session map[string]any) (ChannelConfig, error) {
	if s.pool == nil {
		return ChannelConfig{}, fmt.Errorf("channel store pool not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ChannelConfig{}, fmt.Errorf("tenant id is required")
	}
	if channelType == "" {
		return ChannelConfig{}, fmt.Errorf("channel type is required")
	}
	if session == nil {
		session = map[string]any{}
	}
	sessionPayload, err := json.Marshal(session)
	if err != nil {
		return ChannelConfig{}, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO channel_configs (id, tenant_id, channel_type, session, connected, settings)
		VALUES ($1, $2, $3, $4, FALSE, '{}')
		ON CONFLICT (tenant_id, channel_type)
		DO UPDATE SET session = EXCLUDED.session, updated_at = now()
		RETURNING id, tenant_id, channel_type, session, connected, settings, created_at, updated_at`,
		uuid.NewString(), tenantID, channelType.String(), sessionPayload,
	)
	return scanChannelConfig(row)
}

// GetConfig returns the config for (tenant, channel type).
func (s *Store) GetConfig(ctx context.Context, tenantID string, channelType ChannelType) (ChannelConfig, error) {
	if s.pool == nil {
		return ChannelConfig{}, fmt.Errorf("channel store pool not configured")
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, channel_type, session, connected, settings, created_at, updated_at
		FROM channel_configs
		WHERE tenant_id = $1 AND channel_type = $2`,
		strings.TrimSpace(tenantID), channelType.String(),
	)
	cfg, err := scanChannelConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChannelConfig{}, ErrChannelConfigNotFound
		}
		return ChannelConfig{}, err
	}
	return cfg, nil
}

// SetConnected updates the cached connection flag. Only one poll loop per
// channel writes this; readers treat it as last-known, not authoritative.
func (s *Store) SetConnected(ctx context.Context, tenantID string, channelType ChannelType, connected bool) error {
	if s.pool == nil {
		return fmt.Errorf("channel store pool not configured")
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE channel_configs SET connected = $3, updated_at = now()
		WHERE tenant_id = $1 AND channel_type = $2`,
		strings.TrimSpace(tenantID), channelType.String(), connected,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrChannelConfigNotFound
	}
	return nil
}

// SaveSessionRef merges the provider session reference into the session blob.
func (s *Store) SaveSessionRef(ctx context.Context, tenantID string, channelType ChannelType, sessionRef string) error {
	cfg, err := s.GetConfig(ctx, tenantID, channelType)
	if err != nil {
		return err
	}
	if cfg.Session == nil {
		cfg.Session = map[string]any{}
	}
	cfg.Session["session_ref"] = strings.TrimSpace(sessionRef)
	_, err = s.UpsertConfig(ctx, tenantID, channelType, cfg.Session)
	return err
}

// UpdateSettings replaces the automation settings for (tenant, channel type).
func (s *Store) UpdateSettings(ctx context.Context, tenantID string, channelType ChannelType, settings ChannelSettings) (ChannelConfig, error) {
	if s.pool == nil {
		return ChannelConfig{}, fmt.Errorf("channel store pool not configured")
	}
	payload, err := json.Marshal(settings)
	if err != nil {
		return ChannelConfig{}, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE channel_configs SET settings = $3, updated_at = now()
		WHERE tenant_id = $1 AND channel_type = $2
		RETURNING id, tenant_id, channel_type, session, connected, settings, created_at, updated_at`,
		strings.TrimSpace(tenantID), channelType.String(), payload,
	)
	cfg, err := scanChannelConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChannelConfig{}, ErrChannelConfigNotFound
		}
		return ChannelConfig{}, err
	}
	return cfg, nil
}

// Settings returns the automation settings for (tenant, channel type).
func (s *Store) Settings(ctx context.Context, tenantID string, channelType ChannelType) (ChannelSettings, error) {
	cfg, err := s.GetConfig(ctx, tenantID, channelType)
	if err != nil {
		return ChannelSettings{}, err
	}
	return cfg.Settings, nil
}

// ResolveTenant implements MappingStore.
func (s *Store) ResolveTenant(ctx context.Context, channelType ChannelType, conversationRef string) (string, error) {
	if s.pool == nil {
		return "", fmt.Errorf("channel store pool not configured")
	}
	var tenantID string
	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id FROM conversation_mappings
		WHERE channel_type = $1 AND conversation_ref = $2`,
		channelType.String(), strings.TrimSpace(conversationRef),
	).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrMappingNotFound
		}
		return "", err
	}
	return tenantID, nil
}

// LearnMapping implements MappingStore. Re-learning an existing conversation
// keeps the original owner.
func (s *Store) LearnMapping(ctx context.Context, channelType ChannelType, conversationRef, tenantID string) error {
	if s.pool == nil {
		return fmt.Errorf("channel store pool not configured")
	}
	conversationRef = strings.TrimSpace(conversationRef)
	tenantID = strings.TrimSpace(tenantID)
	if conversationRef == "" || tenantID == "" {
		return fmt.Errorf("conversation ref and tenant id are required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_mappings (channel_type, conversation_ref, tenant_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel_type, conversation_ref) DO NOTHING`,
		channelType.String(), conversationRef, tenantID,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannelConfig(row rowScanner) (ChannelConfig, error) {
	var (
		cfg             ChannelConfig
		channelType     string
		sessionPayload  []byte
		settingsPayload []byte
		createdAt       time.Time
		updatedAt       time.Time
	)
	err := row.Scan(&cfg.ID, &cfg.TenantID, &channelType, &sessionPayload, &cfg.Connected, &settingsPayload, &createdAt, &updatedAt)
	if err != nil {
		return ChannelConfig{}, err
	}
	cfg.ChannelType = ChannelType(channelType)
	cfg.CreatedAt = createdAt
	cfg.UpdatedAt = updatedAt
	if len(sessionPayload) > 0 {
		if err := json.Unmarshal(sessionPayload, &cfg.Session); err != nil {
			return ChannelConfig{}, fmt.Errorf("decode session: %w", err)
		}
	}
	if cfg.Session == nil {
		cfg.Session = map[string]any{}
	}
	if len(settingsPayload) > 0 {
		if err := json.Unmarshal(settingsPayload, &cfg.Settings); err != nil {
			return ChannelConfig{}, fmt.Errorf("decode settings: %w", err)
		}
	}
	return cfg, nil
}
