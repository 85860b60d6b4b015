// Package enginetest provides a scripted transport engine for tests.
package enginetest

import (
	"errors"

	"github.com/amoylab/wuhost/internal/engine"
	"github.com/amoylab/wuhost/pkg/addr"
)

// ErrRejected is returned by Negotiate when the engine is scripted to fail.
var ErrRejected = errors.New("enginetest: offer rejected")

// Send records one SendText or SendBinary call.
type Send struct {
	Handle engine.Handle
	Kind   engine.EventKind
	Data   []byte
}

// Datagram records one ProcessDatagram call.
type Datagram struct {
	From    addr.Address
	Payload []byte
}

// Engine is an in-memory engine whose event queue is filled by the test.
// Data payloads handed out by Poll are overwritten on the following Poll, so
// consumers that keep references observe corruption.
type Engine struct {
	Config    engine.Config
	Addresses map[engine.Handle]addr.Address
	Sends     []Send
	Released  []engine.Handle
	Datagrams []Datagram
	Closed    bool

	// OnDatagram, if set, runs inside ProcessDatagram and may queue events or emit.
	OnDatagram func(e *Engine, from addr.Address, payload []byte)
	// Answer is returned by Negotiate; a nil Answer rejects the offer.
	Answer []byte

	queue   []engine.Event
	scratch []byte
	sink    engine.Sink
}

var _ engine.Engine = (*Engine)(nil)

// New returns an empty scripted engine.
func New() *Engine {
	return &Engine{Addresses: make(map[engine.Handle]addr.Address)}
}

// Factory returns a factory that records the configuration and hands out e.
func Factory(e *Engine) engine.Factory {
	return func(cfg engine.Config) (engine.Engine, error) {
		e.Config = cfg
		return e, nil
	}
}

// FailingFactory returns a factory that always fails with err.
func FailingFactory(err error) engine.Factory {
	return func(engine.Config) (engine.Engine, error) {
		return nil, err
	}
}

// Push queues an event.
func (e *Engine) Push(kind engine.EventKind, h engine.Handle, data []byte) {
	e.queue = append(e.queue, engine.Event{Kind: kind, Handle: h, Data: data})
}

// Connect assigns a remote address to h.
func (e *Engine) Connect(h engine.Handle, a addr.Address) {
	e.Addresses[h] = a
}

// Emit invokes the installed sink as if the engine produced a datagram for h.
func (e *Engine) Emit(h engine.Handle, payload []byte) {
	if e.sink != nil {
		e.sink(payload, h)
	}
}

// Pending reports the number of queued events.
func (e *Engine) Pending() int {
	return len(e.queue)
}

// SentTo returns the recorded sends for h.
func (e *Engine) SentTo(h engine.Handle) []Send {
	var out []Send
	for _, s := range e.Sends {
		if s.Handle == h {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) Negotiate(offer []byte) ([]byte, error) {
	if e.Answer == nil {
		return nil, ErrRejected
	}
	return e.Answer, nil
}

func (e *Engine) Poll() (engine.Event, bool) {
	if len(e.queue) == 0 {
		return engine.Event{}, false
	}
	ev := e.queue[0]
	e.queue = e.queue[1:]
	if ev.Data != nil {
		e.scratch = append(e.scratch[:0], ev.Data...)
		ev.Data = e.scratch
	}
	return ev, true
}

func (e *Engine) ProcessDatagram(from addr.Address, payload []byte) {
	e.Datagrams = append(e.Datagrams, Datagram{From: from, Payload: append([]byte(nil), payload...)})
	if e.OnDatagram != nil {
		e.OnDatagram(e, from, payload)
	}
}

func (e *Engine) SendText(h engine.Handle, text []byte) {
	e.Sends = append(e.Sends, Send{Handle: h, Kind: engine.EventTextData, Data: append([]byte(nil), text...)})
}

func (e *Engine) SendBinary(h engine.Handle, data []byte) {
	e.Sends = append(e.Sends, Send{Handle: h, Kind: engine.EventBinaryData, Data: append([]byte(nil), data...)})
}

func (e *Engine) Release(h engine.Handle) {
	e.Released = append(e.Released, h)
	delete(e.Addresses, h)
}

func (e *Engine) SessionAddress(h engine.Handle) addr.Address {
	return e.Addresses[h]
}

func (e *Engine) SetSink(sink engine.Sink) {
	e.sink = sink
}

func (e *Engine) Close() error {
	e.Closed = true
	return nil
}
