package cnst

import "errors"

var (
	// ErrEngineCreate is returned when the transport engine cannot be constructed
	ErrEngineCreate = errors.New("transport engine initialization error")
	// ErrNegotiationFailed is returned when a session description exchange fails
	ErrNegotiationFailed = errors.New("session negotiation failed")
	// ErrInvalidArgument is returned when a caller passes malformed input
	ErrInvalidArgument = errors.New("invalid arguments")
	// ErrInvalidAddress is returned when a textual address is not a dotted-quad IPv4 address
	ErrInvalidAddress = errors.New("invalid address")
	// ErrSessionNotFound is returned when a session id does not resolve
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnsupportedStore is returned when the configured session directory type is unknown
	ErrUnsupportedStore = errors.New("unsupported session store type")
	// ErrHostClosed is returned when the host loop is no longer accepting work
	ErrHostClosed = errors.New("host closed")
)
