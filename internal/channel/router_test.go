package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeMappingStore struct {
	mu       sync.Mutex
	mappings map[string]string
	resolveE error
	learnE   error
}

func newFakeMappingStore() *fakeMappingStore {
	return &fakeMappingStore{mappings: map[string]string{}}
}

func (f *fakeMappingStore) ResolveTenant(ctx context.Context, channelType ChannelType, conversationRef string) (string, error) {
	if f.resolveE != nil {
		return "", f.resolveE
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tenantID, ok := f.mappings[channelType.String()+"/"+conversationRef]
	if !ok {
		return "", ErrMappingNotFound
	}
	return tenantID, nil
}

func (f *fakeMappingStore) LearnMapping(ctx context.Context, channelType ChannelType, conversationRef, tenantID string) error {
	if f.learnE != nil {
		return f.learnE
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := channelType.String() + "/" + conversationRef
	if _, exists := f.mappings[key]; !exists {
		f.mappings[key] = tenantID
	}
	return nil
}

func TestRouterDispatchBroadcastsToAllHandlers(t *testing.T) {
	t.Parallel()

	router := NewTenantRouter(nil, newFakeMappingStore(), "", false)
	seen := map[string]bool{}
	var mu sync.Mutex
	record := func(tenantID string) InboundHandler {
		return func(ctx context.Context, id string, event InboundEvent) error {
			mu.Lock()
			seen[id] = true
			mu.Unlock()
			if event.TenantID != id {
				t.Errorf("event tenant %q, want %q", event.TenantID, id)
			}
			return nil
		}
	}
	if err := router.RegisterHandler(ChannelType("telegram"), "tenant-a", record("tenant-a")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := router.RegisterHandler(ChannelType("telegram"), "tenant-b", record("tenant-b")); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := router.Dispatch(context.Background(), InboundEvent{
		ID:              "evt-1",
		Channel:         ChannelType("telegram"),
		ConversationRef: "chat-1",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !seen["tenant-a"] || !seen["tenant-b"] {
		t.Fatalf("expected both tenants to receive the event, got %v", seen)
	}
}

func TestRouterDispatchHandlerFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	router := NewTenantRouter(nil, newFakeMappingStore(), "", false)
	delivered := false
	_ = router.RegisterHandler(ChannelType("telegram"), "tenant-a", func(ctx context.Context, tenantID string, event InboundEvent) error {
		return errors.New("boom")
	})
	_ = router.RegisterHandler(ChannelType("telegram"), "tenant-b", func(ctx context.Context, tenantID string, event InboundEvent) error {
		delivered = true
		return nil
	})

	if err := router.Dispatch(context.Background(), InboundEvent{ID: "evt-1", Channel: ChannelType("telegram")}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !delivered {
		t.Fatalf("expected second handler to still receive the event")
	}
}

func TestRouterDispatchUsesLearnedMapping(t *testing.T) {
	t.Parallel()

	mappings := newFakeMappingStore()
	mappings.mappings["whatsapp/chat-9"] = "tenant-z"
	router := NewTenantRouter(nil, mappings, "tenant-default", false)

	var got string
	router.SetSink(func(ctx context.Context, tenantID string, event InboundEvent) error {
		got = tenantID
		return nil
	})

	err := router.Dispatch(context.Background(), InboundEvent{
		ID:              "evt-1",
		Channel:         ChannelType("whatsapp"),
		ConversationRef: "chat-9",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got != "tenant-z" {
		t.Fatalf("routed to %q, want tenant-z", got)
	}
}

func TestRouterDispatchFallsBackToDefaultTenantAndLearns(t *testing.T) {
	t.Parallel()

	mappings := newFakeMappingStore()
	router := NewTenantRouter(nil, mappings, "tenant-default", false)

	var got string
	router.SetSink(func(ctx context.Context, tenantID string, event InboundEvent) error {
		got = tenantID
		return nil
	})

	event := InboundEvent{ID: "evt-1", Channel: ChannelType("whatsapp"), ConversationRef: "chat-new"}
	if err := router.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got != "tenant-default" {
		t.Fatalf("routed to %q, want tenant-default", got)
	}
	if mappings.mappings["whatsapp/chat-new"] != "tenant-default" {
		t.Fatalf("expected fallback mapping to be learned")
	}
}

func TestRouterDispatchStrictDropsUnmapped(t *testing.T) {
	t.Parallel()

	router := NewTenantRouter(nil, newFakeMappingStore(), "tenant-default", true)
	router.SetSink(func(ctx context.Context, tenantID string, event InboundEvent) error {
		t.Fatalf("sink should not be called in strict mode")
		return nil
	})

	err := router.Dispatch(context.Background(), InboundEvent{
		ID:              "evt-1",
		Channel:         ChannelType("whatsapp"),
		ConversationRef: "chat-unknown",
	})
	if !errors.Is(err, ErrRoutingUnresolved) {
		t.Fatalf("expected ErrRoutingUnresolved, got %v", err)
	}
}

func TestRouterDispatchNoDefaultDrops(t *testing.T) {
	t.Parallel()

	router := NewTenantRouter(nil, newFakeMappingStore(), "", false)
	err := router.Dispatch(context.Background(), InboundEvent{
		ID:              "evt-1",
		Channel:         ChannelType("whatsapp"),
		ConversationRef: "chat-unknown",
	})
	if !errors.Is(err, ErrRoutingUnresolved) {
		t.Fatalf("expected ErrRoutingUnresolved, got %v", err)
	}
}
