// Package host turns the handle-oriented event stream of a transport engine into
// sessions addressed by stable 32-bit ids.
//
// A Host is single-threaded: every method, and every callback it invokes, runs on
// the goroutine that drives it. Callbacks may call back into the Host.
package host

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/amoylab/wuhost/internal/common/cnst"
	"github.com/amoylab/wuhost/internal/engine"
	"github.com/amoylab/wuhost/internal/session"
	"github.com/amoylab/wuhost/pkg/addr"

	"go.uber.org/zap"
)

// Config is the construction-time configuration handed to the engine.
type Config = engine.Config

// Peer identifies a session in notifications.
type Peer struct {
	ID      uint32 `json:"id"`
	Address string `json:"address"`
	Port    uint16 `json:"port"`
}

type (
	JoinFunc     func(p Peer)
	LeaveFunc    func(p Peer)
	TextFunc     func(p Peer, text string)
	BinaryFunc   func(p Peer, data []byte)
	DatagramFunc func(payload []byte, to addr.Endpoint)
)

// Recorder receives host activity for metrics.
type Recorder interface {
	EventDispatched(kind string)
	HandlerPanic()
	SendDropped()
	DatagramRejected(reason string)
	SessionsLive(n int)
	DrainDone(since time.Time)
}

type nopRecorder struct{}

func (nopRecorder) EventDispatched(string)  {}
func (nopRecorder) HandlerPanic()           {}
func (nopRecorder) SendDropped()            {}
func (nopRecorder) DatagramRejected(string) {}
func (nopRecorder) SessionsLive(int)        {}
func (nopRecorder) DrainDone(time.Time)     {}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger; the default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Host) {
		h.logger = logger.Named("host")
	}
}

// WithPermissiveAddress makes Route decode malformed addresses to 0 instead of
// rejecting the datagram.
func WithPermissiveAddress() Option {
	return func(h *Host) {
		h.permissive = true
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(h *Host) {
		h.recorder = r
	}
}

// Host owns one engine and the registry of its sessions.
type Host struct {
	logger     *zap.Logger
	recorder   Recorder
	permissive bool

	engine   engine.Engine
	registry *session.Registry
	closed   bool
	// released holds handles freed since the queue was last empty. Events
	// still queued for them are dropped.
	released map[engine.Handle]struct{}

	onJoin     JoinFunc
	onLeave    LeaveFunc
	onText     TextFunc
	onBinary   BinaryFunc
	onDatagram DatagramFunc
}

// New constructs the engine with factory and installs the outbound sink.
// Engine failures are wrapped in cnst.ErrEngineCreate.
func New(cfg Config, factory engine.Factory, opts ...Option) (*Host, error) {
	h := &Host{
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		released: make(map[engine.Handle]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	cfg = cfg.Normalize()
	eng, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cnst.ErrEngineCreate, err)
	}
	if eng == nil {
		return nil, fmt.Errorf("%w: factory returned no engine", cnst.ErrEngineCreate)
	}

	h.engine = eng
	h.registry = session.NewRegistry(h.release)
	eng.SetSink(h.sink)

	h.logger.Info("host created",
		zap.String("bind_address", cfg.BindAddress),
		zap.String("bind_port", cfg.BindPort),
		zap.Int("max_sessions", cfg.MaxSessions),
		zap.Bool("permissive_address", h.permissive))
	return h, nil
}

func (h *Host) OnJoin(fn JoinFunc)         { h.onJoin = fn }
func (h *Host) OnLeave(fn LeaveFunc)       { h.onLeave = fn }
func (h *Host) OnText(fn TextFunc)         { h.onText = fn }
func (h *Host) OnBinary(fn BinaryFunc)     { h.onBinary = fn }
func (h *Host) OnDatagram(fn DatagramFunc) { h.onDatagram = fn }

// Negotiate hands an offer to the engine and returns its answer. No session
// exists until the peer's first datagram produces a join.
func (h *Host) Negotiate(offer []byte) ([]byte, error) {
	if h.closed {
		return nil, cnst.ErrHostClosed
	}
	if len(offer) == 0 {
		return nil, fmt.Errorf("%w: empty offer", cnst.ErrInvalidArgument)
	}
	answer, err := h.engine.Negotiate(offer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cnst.ErrNegotiationFailed, err)
	}
	if len(answer) == 0 {
		return nil, fmt.Errorf("%w: empty answer", cnst.ErrNegotiationFailed)
	}
	return answer, nil
}

// Route feeds a datagram from a textual dotted-quad address into the engine and
// drains the resulting events.
func (h *Host) Route(payload []byte, address string, port uint16) error {
	var host uint32
	if h.permissive {
		host = addr.DecodeLoose(address)
	} else {
		var err error
		if host, err = addr.Decode(address); err != nil {
			h.recorder.DatagramRejected("invalid_address")
			h.logger.Debug("dropping datagram", zap.String("address", address), zap.Error(err))
			return err
		}
	}
	return h.RouteAddr(payload, addr.Address{Host: host, Port: port})
}

// RouteAddr is Route for an already decoded address.
func (h *Host) RouteAddr(payload []byte, from addr.Address) error {
	if h.closed {
		return cnst.ErrHostClosed
	}
	if len(payload) == 0 {
		h.recorder.DatagramRejected("empty")
		h.Serve()
		return fmt.Errorf("%w: empty datagram", cnst.ErrInvalidArgument)
	}
	h.engine.ProcessDatagram(from, payload)
	h.Serve()
	return nil
}

// Serve drains the engine's event queue and returns the number of events dispatched.
func (h *Host) Serve() int {
	if h.closed {
		return 0
	}
	start := time.Now()
	n := 0
	for {
		ev, ok := h.engine.Poll()
		if !ok {
			break
		}
		h.dispatch(ev)
		n++
	}
	clear(h.released)
	if n > 0 {
		h.recorder.DrainDone(start)
		h.recorder.SessionsLive(h.registry.Len())
	}
	return n
}

func (h *Host) dispatch(ev engine.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.recorder.HandlerPanic()
			h.logger.Error("event handler panicked",
				zap.String("kind", ev.Kind.String()),
				zap.Any("panic", r))
		}
	}()

	if _, gone := h.released[ev.Handle]; gone {
		if ev.Kind == engine.EventJoin {
			delete(h.released, ev.Handle)
		} else {
			h.logger.Debug("dropping event for released handle",
				zap.String("kind", ev.Kind.String()),
				zap.Uint64("handle", uint64(ev.Handle)))
			return
		}
	}

	switch ev.Kind {
	case engine.EventJoin:
		p := h.peer(h.registry.ResolveOrAssign(ev.Handle), ev.Handle)
		h.logger.Debug("session joined", zap.Uint32("id", p.ID), zap.String("address", p.Address), zap.Uint16("port", p.Port))
		h.recorder.EventDispatched(ev.Kind.String())
		if h.onJoin != nil {
			h.onJoin(p)
		}

	case engine.EventLeave:
		id, known := h.registry.IDOf(ev.Handle)
		if !known {
			h.logger.Warn("leave for unassigned handle", zap.Uint64("handle", uint64(ev.Handle)))
		}
		p := h.peer(id, ev.Handle)
		// Runs even if the handler panics. A handler that already removed id
		// makes Remove a no-op, so the handle is released once.
		defer func() {
			if known {
				h.registry.Remove(id)
			} else {
				h.release(ev.Handle)
			}
		}()
		h.logger.Debug("session left", zap.Uint32("id", p.ID))
		h.recorder.EventDispatched(ev.Kind.String())
		if h.onLeave != nil {
			h.onLeave(p)
		}

	case engine.EventTextData:
		p := h.peer(h.registry.ResolveOrAssign(ev.Handle), ev.Handle)
		text := string(ev.Data)
		h.recorder.EventDispatched(ev.Kind.String())
		if h.onText != nil {
			h.onText(p, text)
		}

	case engine.EventBinaryData:
		p := h.peer(h.registry.ResolveOrAssign(ev.Handle), ev.Handle)
		data := make([]byte, len(ev.Data))
		copy(data, ev.Data)
		h.recorder.EventDispatched(ev.Kind.String())
		if h.onBinary != nil {
			h.onBinary(p, data)
		}

	default:
		h.logger.Warn("ignoring unknown engine event",
			zap.Int("kind", int(ev.Kind)),
			zap.Uint64("handle", uint64(ev.Handle)))
	}
}

func (h *Host) peer(id uint32, handle engine.Handle) Peer {
	ep := h.engine.SessionAddress(handle).Endpoint()
	return Peer{ID: id, Address: ep.Address, Port: ep.Port}
}

// release frees handle in the engine. The registry calls it after erasing the mapping.
func (h *Host) release(handle engine.Handle) {
	h.released[handle] = struct{}{}
	h.engine.Release(handle)
}

// sink is installed on the engine and forwards outbound datagrams to the
// registered callback.
func (h *Host) sink(payload []byte, handle engine.Handle) {
	if h.onDatagram == nil {
		return
	}
	ep := h.engine.SessionAddress(handle).Endpoint()
	h.onDatagram(payload, ep)
}

// SendText sends text to the session id. Unknown ids are ignored.
func (h *Host) SendText(id uint32, text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: text is not valid UTF-8", cnst.ErrInvalidArgument)
	}
	handle, ok := h.lookupForSend(id)
	if !ok {
		return nil
	}
	h.engine.SendText(handle, []byte(text))
	return nil
}

// SendBinary sends data to the session id. Unknown ids are ignored.
func (h *Host) SendBinary(id uint32, data []byte) error {
	handle, ok := h.lookupForSend(id)
	if !ok {
		return nil
	}
	h.engine.SendBinary(handle, data)
	return nil
}

func (h *Host) lookupForSend(id uint32) (engine.Handle, bool) {
	if h.closed {
		return 0, false
	}
	handle, ok := h.registry.Lookup(id)
	if !ok {
		h.recorder.SendDropped()
		h.logger.Debug("send to unknown session dropped", zap.Uint32("id", id))
	}
	return handle, ok
}

// Remove ends the session id: the mapping is erased, then the engine releases
// the handle. It reports whether the session existed.
func (h *Host) Remove(id uint32) bool {
	if h.closed {
		return false
	}
	if !h.registry.Remove(id) {
		return false
	}
	h.logger.Debug("session removed", zap.Uint32("id", id))
	h.recorder.SessionsLive(h.registry.Len())
	return true
}

// Session returns the peer behind id.
func (h *Host) Session(id uint32) (Peer, bool) {
	if h.closed {
		return Peer{}, false
	}
	handle, ok := h.registry.Lookup(id)
	if !ok {
		return Peer{}, false
	}
	return h.peer(id, handle), true
}

// Sessions returns the live sessions ordered by id.
func (h *Host) Sessions() []Peer {
	if h.closed {
		return nil
	}
	ids := h.registry.IDs()
	peers := make([]Peer, 0, len(ids))
	for _, id := range ids {
		handle, _ := h.registry.Lookup(id)
		peers = append(peers, h.peer(id, handle))
	}
	return peers
}

// Len reports the number of live sessions.
func (h *Host) Len() int {
	if h.closed {
		return 0
	}
	return h.registry.Len()
}

// Close drops every mapping and closes the engine, which frees all handles.
func (h *Host) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	for _, id := range h.registry.IDs() {
		handle, _ := h.registry.Lookup(id)
		h.registry.Purge(handle)
	}
	h.recorder.SessionsLive(0)
	h.logger.Info("host closed")
	return h.engine.Close()
}
