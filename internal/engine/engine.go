// Package engine defines the boundary between the session host and the datagram
// transport engine that performs negotiation, encryption and framing.
//
// The engine is an external collaborator. Implementations are driven from a single
// goroutine and need not be safe for concurrent use.
package engine

import (
	"github.com/amoylab/wuhost/pkg/addr"
)

// DefaultMaxSessions is the configuration default for the session limit. An
// explicit limit of zero or less is floored to 1 by Config.Normalize.
const DefaultMaxSessions = 512

// Handle is an opaque, engine-owned reference to a session. Zero is never valid.
// Handles must not be retained after the engine has been told to release them.
type Handle uint64

// EventKind classifies an engine event.
type EventKind int

const (
	EventNone EventKind = iota
	EventJoin
	EventLeave
	EventTextData
	EventBinaryData
)

func (k EventKind) String() string {
	switch k {
	case EventJoin:
		return "join"
	case EventLeave:
		return "leave"
	case EventTextData:
		return "text"
	case EventBinaryData:
		return "binary"
	default:
		return "none"
	}
}

// Event is a transient record produced by Engine.Poll. Data is only valid until the
// next call into the engine.
type Event struct {
	Kind   EventKind
	Handle Handle
	Data   []byte
}

// Sink receives raw datagrams the engine wants delivered to the peer behind h.
// It is invoked synchronously from within engine calls.
type Sink func(payload []byte, h Handle)

// Config is the construction-time engine configuration.
type Config struct {
	BindAddress string
	BindPort    string
	MaxSessions int
}

// Normalize applies the session limit default and floor.
func (c Config) Normalize() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 1
	}
	return c
}

// Engine is the transport engine contract.
type Engine interface {
	// Negotiate exchanges a session description and returns the answer.
	Negotiate(offer []byte) ([]byte, error)

	// Poll returns the next queued event without blocking.
	Poll() (Event, bool)

	// ProcessDatagram feeds an inbound datagram received from the given address.
	ProcessDatagram(from addr.Address, payload []byte)

	// SendText sends a text message on the session's channel.
	SendText(h Handle, text []byte)

	// SendBinary sends a binary message on the session's channel.
	SendBinary(h Handle, data []byte)

	// Release frees the session behind h. The handle is invalid afterwards.
	Release(h Handle)

	// SessionAddress reports the remote address of the session behind h.
	SessionAddress(h Handle) addr.Address

	// SetSink installs the callback used for outbound datagrams.
	SetSink(sink Sink)

	// Close releases all engine resources.
	Close() error
}

// Factory constructs an engine for the given configuration.
type Factory func(cfg Config) (Engine, error)
