package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// InboundHandler receives an inbound event after tenant resolution.
type InboundHandler func(ctx context.Context, tenantID string, event InboundEvent) error

// MappingStore persists the learned conversation-to-tenant mapping. Keys are
// channel-native conversation ids, unique only within their channel.
type MappingStore interface {
	ResolveTenant(ctx context.Context, channelType ChannelType, conversationRef string) (string, error)
	LearnMapping(ctx context.Context, channelType ChannelType, conversationRef, tenantID string) error
}

// ErrMappingNotFound is returned by MappingStore implementations when no
// learned mapping exists for a conversation.
var ErrMappingNotFound = errors.New("conversation mapping not found")

// TenantRouter resolves which tenant owns an inbound event and hands it to
// the processing sink. Resolution order: registered per-tenant handlers
// (broadcast), then the learned mapping table, then the default tenant.
type TenantRouter struct {
	logger        *slog.Logger
	mappings      MappingStore
	defaultTenant string
	strict        bool

	mu       sync.RWMutex
	handlers map[ChannelType]map[string]InboundHandler
	sink     InboundHandler
}

// NewTenantRouter creates a router with the given mapping store and fallback
// behavior. With strict=true, unmapped events are dropped with
// ErrRoutingUnresolved instead of falling back to defaultTenant.
func NewTenantRouter(log *slog.Logger, mappings MappingStore, defaultTenant string, strict bool) *TenantRouter {
	if log == nil {
		log = slog.Default()
	}
	return &TenantRouter{
		logger:        log.With(slog.String("component", "router")),
		mappings:      mappings,
		defaultTenant: strings.TrimSpace(defaultTenant),
		strict:        strict,
		handlers:      map[ChannelType]map[string]InboundHandler{},
	}
}

// SetSink installs the handler invoked after tenant resolution for events
// that are not claimed by registered per-tenant handlers.
func (r *TenantRouter) SetSink(sink InboundHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// RegisterHandler registers a per-tenant handler for a channel type. When any
// handlers are registered for a channel, inbound events on that channel are
// broadcast to all of them instead of being routed to a single tenant.
func (r *TenantRouter) RegisterHandler(channelType ChannelType, tenantID string, handler InboundHandler) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byTenant, ok := r.handlers[channelType]
	if !ok {
		byTenant = map[string]InboundHandler{}
		r.handlers[channelType] = byTenant
	}
	byTenant[tenantID] = handler
	return nil
}

// UnregisterHandler removes a tenant's handler for a channel type.
func (r *TenantRouter) UnregisterHandler(channelType ChannelType, tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if byTenant, ok := r.handlers[channelType]; ok {
		delete(byTenant, tenantID)
		if len(byTenant) == 0 {
			delete(r.handlers, channelType)
		}
	}
}

// Dispatch resolves the owning tenant and delivers the event.
//
// Registered handlers receive an at-least-once broadcast: every handler is
// invoked and each failure is logged independently so one tenant's failure
// does not block delivery to others. Without handlers, the learned mapping
// then the default tenant decide, and the event goes to the sink.
func (r *TenantRouter) Dispatch(ctx context.Context, event InboundEvent) error {
	r.mu.RLock()
	byTenant := r.handlers[event.Channel]
	sink := r.sink
	r.mu.RUnlock()

	if len(byTenant) > 0 {
		for tenantID, handler := range byTenant {
			scoped := event
			scoped.TenantID = tenantID
			if err := handler(ctx, tenantID, scoped); err != nil {
				r.logger.Error("inbound handler failed",
					slog.String("channel", event.Channel.String()),
					slog.String("tenant_id", tenantID),
					slog.String("event_id", event.ID),
					slog.Any("error", err),
				)
			}
		}
		return nil
	}

	tenantID, err := r.resolveTenant(ctx, event)
	if err != nil {
		r.logger.Warn("inbound event dropped",
			slog.String("channel", event.Channel.String()),
			slog.String("conversation_ref", event.ConversationRef),
			slog.String("event_id", event.ID),
			slog.Any("error", err),
		)
		return err
	}
	if sink == nil {
		return fmt.Errorf("router sink not configured")
	}
	event.TenantID = tenantID
	return sink(ctx, tenantID, event)
}

func (r *TenantRouter) resolveTenant(ctx context.Context, event InboundEvent) (string, error) {
	if r.mappings != nil {
		tenantID, err := r.mappings.ResolveTenant(ctx, event.Channel, event.ConversationRef)
		if err == nil && strings.TrimSpace(tenantID) != "" {
			return tenantID, nil
		}
		if err != nil && !errors.Is(err, ErrMappingNotFound) {
			return "", fmt.Errorf("resolve mapping: %w", err)
		}
	}
	if r.strict || r.defaultTenant == "" {
		return "", ErrRoutingUnresolved
	}
	// Learn the fallback assignment so later traffic on this conversation is
	// routed without consulting the default again.
	if r.mappings != nil {
		if err := r.mappings.LearnMapping(ctx, event.Channel, event.ConversationRef, r.defaultTenant); err != nil {
			r.logger.Warn("learn mapping failed",
				slog.String("channel", event.Channel.String()),
				slog.String("conversation_ref", event.ConversationRef),
				slog.Any("error", err),
			)
		}
	}
	return r.defaultTenant, nil
}
