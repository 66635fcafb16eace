package channel

import "errors"

// Error taxonomy for the integration layer. Provider errors split into
// retryable transport failures and definitive rejections; routing failures
// are logged and dropped, never misattributed.
var (
	// ErrProviderUnavailable indicates a transport failure or timeout talking
	// to the session provider. Retryable.
	ErrProviderUnavailable = errors.New("channel provider unavailable")

	// ErrProviderRejected indicates the provider returned a definitive error
	// (e.g. an invalid bot token). Not retryable; surfaced for correction.
	ErrProviderRejected = errors.New("channel provider rejected request")

	// ErrRoutingUnresolved indicates no tenant mapping matched and no default
	// tenant is configured. The event is dropped.
	ErrRoutingUnresolved = errors.New("inbound routing unresolved")

	// ErrChannelConfigNotFound indicates the tenant has no persisted config
	// for the channel type.
	ErrChannelConfigNotFound = errors.New("channel config not found")

	// ErrNotImplemented is returned by stubbed channel types.
	ErrNotImplemented = errors.New("channel type not implemented")
)
