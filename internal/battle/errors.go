package battle

import "errors"

var (
	// ErrInvalidProviderOwnership is logged when a provider reports
	// SideUnknown on the authoritative server.
	ErrInvalidProviderOwnership = errors.New("invalid provider ownership")

	// ErrProviderNotFound is logged when a recipient id has no provider.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrNoManager is returned when a role that needs a manager has none.
	ErrNoManager = errors.New("role requires a battle manager")

	// ErrUnknownVariant is returned by the codec for foreign message types.
	ErrUnknownVariant = errors.New("unknown message variant")

	// ErrSpoofedSender is logged when a client packet names a sender the
	// origin peer does not own.
	ErrSpoofedSender = errors.New("sender not owned by origin peer")

	// ErrForwardedMessage is logged when a client asks the server to relay
	// a battle message. Battle traffic is routed by the server only.
	ErrForwardedMessage = errors.New("forwarded battle message")
)
