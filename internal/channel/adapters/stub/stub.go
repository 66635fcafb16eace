// Package stub provides a placeholder adapter for channel types that are
// announced but not yet wired to a provider (currently Instagram).
package stub

import (
	"context"
	"fmt"
	"time"

	"github.com/leadwire/leadwire/internal/channel"
)

// Adapter rejects every operation with ErrNotImplemented. Registering it makes
// the channel type parse and show up in listings without pretending to work.
type Adapter struct {
	channelType channel.ChannelType
}

// NewInstagram creates the Instagram placeholder adapter.
func NewInstagram() *Adapter {
	return &Adapter{channelType: channel.ChannelType("instagram")}
}

func (a *Adapter) Type() channel.ChannelType {
	return a.channelType
}

func (a *Adapter) SendText(ctx context.Context, cfg channel.ChannelConfig, conversationRef, text string) (channel.OutboundResult, error) {
	return channel.OutboundResult{}, fmt.Errorf("%w: %s", channel.ErrNotImplemented, a.channelType)
}

func (a *Adapter) NormalizeInbound(raw []byte) (channel.InboundEvent, error) {
	return channel.InboundEvent{}, fmt.Errorf("%w: %s", channel.ErrNotImplemented, a.channelType)
}

func (a *Adapter) CheckHealth(ctx context.Context, cfg channel.ChannelConfig) (channel.ChannelHealth, error) {
	return channel.ChannelHealth{
		State:     channel.HealthUnknown,
		Detail:    "channel type not implemented",
		CheckedAt: time.Now().UTC(),
	}, nil
}
