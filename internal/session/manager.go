// Package session orchestrates linked-session lifecycle for channels that
// pair through the external session provider: creation, QR pairing, health
// polling, and reconnection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leadwire/leadwire/internal/channel"
	"github.com/leadwire/leadwire/internal/provider"
)

// State is the manager's view of one channel's session lifecycle.
type State string

const (
	StateIdle            State = "idle"
	StateCreating        State = "creating"
	StateAwaitingPairing State = "awaiting_pairing"
	StateConnected       State = "connected"
	StateDisconnected    State = "disconnected"
)

// Status is a snapshot of one channel's session.
type Status struct {
	TenantID    string    `json:"tenant_id"`
	ChannelType string    `json:"channel_type"`
	State       State     `json:"state"`
	SessionRef  string    `json:"session_ref,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProviderAPI is the slice of the provider client the manager needs.
type ProviderAPI interface {
	CreateSession(ctx context.Context) (provider.Session, error)
	PairingCode(ctx context.Context, sessionRef string) (string, error)
	Status(ctx context.Context, sessionRef string) (provider.Session, error)
	DeleteSession(ctx context.Context, sessionRef string) error
}

// ConfigStore persists the pieces of channel config the manager owns.
type ConfigStore interface {
	GetConfig(ctx context.Context, tenantID string, channelType channel.ChannelType) (channel.ChannelConfig, error)
	UpsertConfig(ctx context.Context, tenantID string, channelType channel.ChannelType, session map[string]any) (channel.ChannelConfig, error)
	SetConnected(ctx context.Context, tenantID string, channelType channel.ChannelType, connected bool) error
}

type tracked struct {
	state      State
	sessionRef string
	detail     string
	updatedAt  time.Time
	cancel     context.CancelFunc
}

// Manager owns at most one session and one poll goroutine per
// (tenant, channel type) pair. All transitions happen under the manager's
// lock; pollers never write state directly.
type Manager struct {
	logger       *slog.Logger
	api          ProviderAPI
	store        ConfigStore
	pollInterval time.Duration

	mu       sync.Mutex
	sessions map[string]*tracked
	wg       sync.WaitGroup
}

// NewManager creates a Manager polling at the given interval.
func NewManager(log *slog.Logger, api ProviderAPI, store ConfigStore, pollInterval time.Duration) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 4 * time.Second
	}
	return &Manager{
		logger:       log.With(slog.String("component", "session")),
		api:          api,
		store:        store,
		pollInterval: pollInterval,
		sessions:     map[string]*tracked{},
	}
}

func sessionKey(tenantID string, channelType channel.ChannelType) string {
	return strings.TrimSpace(tenantID) + "/" + channelType.String()
}

// CreateSession provisions a fresh provider session for the channel and
// starts health polling. Any existing session for the pair is torn down
// first, so calling it twice is safe and yields one live session.
func (m *Manager) CreateSession(ctx context.Context, tenantID string, channelType channel.ChannelType) (Status, error) {
	if m.api == nil {
		return Status{}, fmt.Errorf("session provider not configured")
	}
	key := sessionKey(tenantID, channelType)

	m.stopLocked(key)
	m.setState(key, StateCreating, "", "")

	created, err := m.api.CreateSession(ctx)
	if err != nil {
		m.setState(key, StateIdle, "", err.Error())
		return Status{}, err
	}

	if _, err := m.store.UpsertConfig(ctx, tenantID, channelType, map[string]any{"session_ref": created.Ref}); err != nil {
		m.setState(key, StateIdle, "", err.Error())
		return Status{}, fmt.Errorf("persist session ref: %w", err)
	}

	m.setState(key, StateAwaitingPairing, created.Ref, created.Detail)
	m.startPolling(tenantID, channelType, created.Ref)
	return m.Status(tenantID, channelType), nil
}

// PairingArtifact returns the current pairing payload for the channel. When
// the provider reports the session already authorized, it short-circuits:
// the state moves to connected and the returned code is empty.
func (m *Manager) PairingArtifact(ctx context.Context, tenantID string, channelType channel.ChannelType) (string, Status, error) {
	key := sessionKey(tenantID, channelType)
	ref := m.sessionRef(key)
	if ref == "" {
		return "", m.Status(tenantID, channelType), fmt.Errorf("%w: no session to pair", channel.ErrChannelConfigNotFound)
	}

	live, err := m.api.Status(ctx, ref)
	if err != nil {
		return "", m.Status(tenantID, channelType), err
	}
	if live.Status == provider.StatusAuthorized {
		m.markConnected(ctx, tenantID, channelType, ref, live.Detail)
		return "", m.Status(tenantID, channelType), nil
	}
	if live.Status.Terminal() {
		m.markDisconnected(ctx, tenantID, channelType, ref, string(live.Status))
		return "", m.Status(tenantID, channelType), fmt.Errorf("%w: session %s", channel.ErrProviderRejected, live.Status)
	}

	code, err := m.api.PairingCode(ctx, ref)
	if err != nil {
		return "", m.Status(tenantID, channelType), err
	}
	return code, m.Status(tenantID, channelType), nil
}

// Reconnect tears the current session down at the provider and provisions a
// new one. The old pairing becomes invalid immediately.
func (m *Manager) Reconnect(ctx context.Context, tenantID string, channelType channel.ChannelType) (Status, error) {
	key := sessionKey(tenantID, channelType)
	if ref := m.sessionRef(key); ref != "" {
		if err := m.api.DeleteSession(ctx, ref); err != nil && !errors.Is(err, channel.ErrProviderRejected) {
			return m.Status(tenantID, channelType), err
		}
	}
	return m.CreateSession(ctx, tenantID, channelType)
}

// Disconnect stops polling and tears the provider session down.
func (m *Manager) Disconnect(ctx context.Context, tenantID string, channelType channel.ChannelType) error {
	key := sessionKey(tenantID, channelType)
	ref := m.sessionRef(key)
	m.stopLocked(key)
	if ref != "" {
		if err := m.api.DeleteSession(ctx, ref); err != nil {
			return err
		}
	}
	m.markDisconnected(ctx, tenantID, channelType, ref, "disconnected by operator")
	return nil
}

// Status returns the last known lifecycle state without touching the
// provider. Pairs the manager never saw report idle, or disconnected when a
// session ref is persisted from an earlier run.
func (m *Manager) Status(tenantID string, channelType channel.ChannelType) Status {
	key := sessionKey(tenantID, channelType)
	m.mu.Lock()
	entry, ok := m.sessions[key]
	m.mu.Unlock()

	status := Status{
		TenantID:    strings.TrimSpace(tenantID),
		ChannelType: channelType.String(),
		State:       StateIdle,
	}
	if ok {
		status.State = entry.state
		status.SessionRef = entry.sessionRef
		status.Detail = entry.detail
		status.UpdatedAt = entry.updatedAt
	}
	return status
}

// Resume restarts polling for a channel whose session ref survived a process
// restart. It does not create anything at the provider.
func (m *Manager) Resume(ctx context.Context, tenantID string, channelType channel.ChannelType) error {
	cfg, err := m.store.GetConfig(ctx, tenantID, channelType)
	if err != nil {
		return err
	}
	ref := cfg.SessionRef()
	if ref == "" {
		return fmt.Errorf("%w: no session to resume", channel.ErrChannelConfigNotFound)
	}
	key := sessionKey(tenantID, channelType)
	m.stopLocked(key)
	initial := StateAwaitingPairing
	if cfg.Connected {
		initial = StateConnected
	}
	m.setState(key, initial, ref, "resumed")
	m.startPolling(tenantID, channelType, ref)
	return nil
}

// Shutdown stops all pollers and waits for them to exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, entry := range m.sessions {
		if entry.cancel != nil {
			entry.cancel()
			entry.cancel = nil
		}
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) startPolling(tenantID string, channelType channel.ChannelType, sessionRef string) {
	key := sessionKey(tenantID, channelType)
	pollCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	entry, ok := m.sessions[key]
	if !ok {
		entry = &tracked{state: StateAwaitingPairing, updatedAt: time.Now().UTC()}
		m.sessions[key] = entry
	}
	entry.sessionRef = sessionRef
	entry.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.poll(pollCtx, tenantID, channelType, sessionRef)
}

// poll watches the provider session until it authorizes, reaches a terminal
// verdict, or is cancelled. Transport errors keep the last known state; only
// an explicit provider status moves the machine.
func (m *Manager) poll(ctx context.Context, tenantID string, channelType channel.ChannelType, sessionRef string) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		live, err := m.api.Status(ctx, sessionRef)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("session poll failed",
				slog.String("tenant_id", tenantID),
				slog.String("channel", channelType.String()),
				slog.Any("error", err),
			)
			continue
		}

		switch {
		case live.Status == provider.StatusAuthorized:
			m.markConnected(ctx, tenantID, channelType, sessionRef, live.Detail)
			return
		case live.Status.Terminal():
			m.markDisconnected(ctx, tenantID, channelType, sessionRef, string(live.Status))
			return
		default:
			m.setState(sessionKey(tenantID, channelType), StateAwaitingPairing, sessionRef, live.Detail)
		}
	}
}

// markConnected records the connected state, persists the flag on a real
// transition, and stops the channel's poller: pairing is over, further health
// answers come from live checks.
func (m *Manager) markConnected(ctx context.Context, tenantID string, channelType channel.ChannelType, sessionRef, detail string) {
	key := sessionKey(tenantID, channelType)
	m.mu.Lock()
	entry, ok := m.sessions[key]
	changed := !ok || entry.state != StateConnected
	m.mu.Unlock()

	m.setState(key, StateConnected, sessionRef, detail)
	if !changed {
		m.stopLocked(key)
		return
	}
	if err := m.store.SetConnected(ctx, tenantID, channelType, true); err != nil {
		m.logger.Warn("persist connected flag failed",
			slog.String("tenant_id", tenantID),
			slog.String("channel", channelType.String()),
			slog.Any("error", err),
		)
	}
	m.logger.Info("channel connected",
		slog.String("tenant_id", tenantID),
		slog.String("channel", channelType.String()),
	)
	m.stopLocked(key)
}

// markDisconnected records the disconnected state and clears the persisted
// flag before stopping the poller: when called from the poll loop, cancelling
// first would cancel the very context the store write runs on.
func (m *Manager) markDisconnected(ctx context.Context, tenantID string, channelType channel.ChannelType, sessionRef, detail string) {
	key := sessionKey(tenantID, channelType)
	m.setState(key, StateDisconnected, sessionRef, detail)
	if err := m.store.SetConnected(ctx, tenantID, channelType, false); err != nil && !errors.Is(err, channel.ErrChannelConfigNotFound) {
		m.logger.Warn("persist connected flag failed",
			slog.String("tenant_id", tenantID),
			slog.String("channel", channelType.String()),
			slog.Any("error", err),
		)
	}
	m.logger.Info("channel disconnected",
		slog.String("tenant_id", tenantID),
		slog.String("channel", channelType.String()),
		slog.String("reason", detail),
	)
	m.stopLocked(key)
}

func (m *Manager) setState(key string, state State, sessionRef, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[key]
	if !ok {
		entry = &tracked{}
		m.sessions[key] = entry
	}
	entry.state = state
	if sessionRef != "" {
		entry.sessionRef = sessionRef
	}
	entry.detail = detail
	entry.updatedAt = time.Now().UTC()
}

func (m *Manager) sessionRef(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[key]; ok {
		return entry.sessionRef
	}
	return ""
}

func (m *Manager) stopLocked(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[key]; ok && entry.cancel != nil {
		entry.cancel()
		entry.cancel = nil
	}
}
