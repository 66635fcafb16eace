package channel

import "context"

// Adapter is the base interface every channel adapter must implement. It
// hides channel-specific request/response shapes: adding a channel type means
// adding one adapter, not touching routing or storage logic.
type Adapter interface {
	Type() ChannelType

	// SendText delivers text to a channel-native conversation. Transport
	// failures wrap ErrProviderUnavailable, definitive provider errors wrap
	// ErrProviderRejected.
	SendText(ctx context.Context, cfg ChannelConfig, conversationRef, text string) (OutboundResult, error)

	// NormalizeInbound translates a raw channel payload into the canonical
	// inbound event. Missing optional fields are omitted, never an error;
	// sender name falls back through display name, username, then "Unknown".
	NormalizeInbound(raw []byte) (InboundEvent, error)

	// CheckHealth performs a live check against the provider. The persisted
	// Connected flag is a cache; this is the authoritative answer.
	CheckHealth(ctx context.Context, cfg ChannelConfig) (ChannelHealth, error)
}

// BotInfoProvider is implemented by adapters whose channel is activated by a
// long-lived bot credential and can describe the bot for display purposes.
type BotInfoProvider interface {
	BotInfo(ctx context.Context, cfg ChannelConfig) (BotInfo, error)
}

// UnknownSender is the final fallback for the sender display name chain.
const UnknownSender = "Unknown"
