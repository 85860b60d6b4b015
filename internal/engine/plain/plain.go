// Package plain is an unencrypted reference engine. Every datagram is a one byte
// frame kind followed by the payload.
package plain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/amoylab/wuhost/internal/engine"
	"github.com/amoylab/wuhost/pkg/addr"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Frame kinds
const (
	FrameHello  byte = 0x01
	FrameText   byte = 0x02
	FrameBinary byte = 0x03
	FrameBye    byte = 0x04
)

// Answer is returned by Negotiate. The peer opens its session by sending a
// hello frame carrying Token to Address:Port.
type Answer struct {
	Token   string `json:"token"`
	Address string `json:"address"`
	Port    uint16 `json:"port"`
}

type slot struct {
	gen      uint32
	live     bool
	leaving  bool // leave queued, awaiting Release
	peerLeft bool // peer sent bye, so Release stays silent
	remote   addr.Address
	lastSeen time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithIdleTimeout reports sessions silent for longer than d as left. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(e *Engine) { e.idle = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger.Named("engine.plain") }
}

// Engine implements engine.Engine.
type Engine struct {
	logger *zap.Logger
	now    func() time.Time
	idle   time.Duration

	bind     addr.Endpoint
	capacity int

	slots   []slot
	byAddr  map[addr.Address]int
	pending map[string]struct{}
	order   []string // pending tokens, oldest first
	queue   []engine.Event
	sink    engine.Sink
	closed  bool
}

var _ engine.Engine = (*Engine)(nil)

// Factory adapts New to engine.Factory.
func Factory(opts ...Option) engine.Factory {
	return func(cfg engine.Config) (engine.Engine, error) {
		return New(cfg, opts...)
	}
}

// New validates the bind address and port and returns an idle engine.
func New(cfg engine.Config, opts ...Option) (*Engine, error) {
	cfg = cfg.Normalize()
	host, err := addr.Decode(cfg.BindAddress)
	if err != nil {
		return nil, fmt.Errorf("bind address: %w", err)
	}
	port, err := strconv.Atoi(cfg.BindPort)
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("bind port %q out of range", cfg.BindPort)
	}

	e := &Engine{
		logger:   zap.NewNop(),
		now:      time.Now,
		bind:     addr.Encode(host, uint16(port)),
		capacity: cfg.MaxSessions,
		slots:    make([]slot, cfg.MaxSessions),
		byAddr:   make(map[addr.Address]int),
		pending:  make(map[string]struct{}),
	}
	for i := range e.slots {
		e.slots[i].gen = 1
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func handleOf(idx int, gen uint32) engine.Handle {
	return engine.Handle(uint64(gen)<<32 | uint64(idx))
}

// resolve returns the live slot index behind h.
func (e *Engine) resolve(h engine.Handle) (int, bool) {
	idx := int(uint32(h))
	gen := uint32(h >> 32)
	if idx >= len(e.slots) || !e.slots[idx].live || e.slots[idx].gen != gen {
		return 0, false
	}
	return idx, true
}

// Negotiate issues a single-use session token.
func (e *Engine) Negotiate(offer []byte) ([]byte, error) {
	if e.closed {
		return nil, fmt.Errorf("engine closed")
	}
	if len(offer) == 0 {
		return nil, fmt.Errorf("empty offer")
	}
	token := uuid.NewString()
	e.pending[token] = struct{}{}
	e.order = append(e.order, token)
	for len(e.order) > e.capacity {
		delete(e.pending, e.order[0])
		e.order = e.order[1:]
	}
	return json.Marshal(Answer{Token: token, Address: e.bind.Address, Port: e.bind.Port})
}

func (e *Engine) consumeToken(token string) bool {
	if _, ok := e.pending[token]; !ok {
		return false
	}
	delete(e.pending, token)
	for i, t := range e.order {
		if t == token {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return true
}

// ProcessDatagram handles one inbound frame.
func (e *Engine) ProcessDatagram(from addr.Address, payload []byte) {
	if e.closed || len(payload) == 0 {
		return
	}
	kind, body := payload[0], payload[1:]

	idx, known := e.byAddr[from]
	if !known {
		if kind == FrameHello {
			e.open(from, string(body))
		} else {
			e.logger.Debug("dropping frame from unknown peer", zap.Stringer("from", from))
		}
		return
	}

	s := &e.slots[idx]
	if s.leaving {
		return
	}
	s.lastSeen = e.now()
	h := handleOf(idx, s.gen)

	switch kind {
	case FrameHello:
		e.emit(h, []byte{FrameHello})
	case FrameText:
		e.pushData(engine.EventTextData, h, body)
	case FrameBinary:
		e.pushData(engine.EventBinaryData, h, body)
	case FrameBye:
		s.leaving = true
		s.peerLeft = true
		e.queue = append(e.queue, engine.Event{Kind: engine.EventLeave, Handle: h})
	default:
		e.logger.Debug("dropping unknown frame", zap.Uint8("kind", kind), zap.Stringer("from", from))
	}
}

func (e *Engine) open(from addr.Address, token string) {
	if !e.consumeToken(token) {
		e.logger.Debug("hello with unknown token", zap.Stringer("from", from))
		return
	}
	idx := -1
	for i := range e.slots {
		if !e.slots[i].live {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.logger.Warn("session limit reached", zap.Int("max_sessions", e.capacity), zap.Stringer("from", from))
		return
	}

	s := &e.slots[idx]
	s.live = true
	s.leaving = false
	s.peerLeft = false
	s.remote = from
	s.lastSeen = e.now()
	e.byAddr[from] = idx

	h := handleOf(idx, s.gen)
	e.queue = append(e.queue, engine.Event{Kind: engine.EventJoin, Handle: h})
	e.emit(h, []byte{FrameHello})
}

// pushData queues a data event, dropping it once the queue holds four events per session.
func (e *Engine) pushData(kind engine.EventKind, h engine.Handle, body []byte) {
	if len(e.queue) >= 4*e.capacity {
		e.logger.Warn("event queue full, dropping data", zap.Uint64("handle", uint64(h)))
		return
	}
	data := make([]byte, len(body))
	copy(data, body)
	e.queue = append(e.queue, engine.Event{Kind: kind, Handle: h, Data: data})
}

// sweepIdle queues a leave for every session silent past the idle timeout.
func (e *Engine) sweepIdle() {
	if e.idle <= 0 {
		return
	}
	now := e.now()
	for i := range e.slots {
		s := &e.slots[i]
		if s.live && !s.leaving && now.Sub(s.lastSeen) > e.idle {
			s.leaving = true
			e.queue = append(e.queue, engine.Event{Kind: engine.EventLeave, Handle: handleOf(i, s.gen)})
		}
	}
}

// Poll returns the next event. Idle sessions are swept once the queue is empty.
func (e *Engine) Poll() (engine.Event, bool) {
	if e.closed {
		return engine.Event{}, false
	}
	if len(e.queue) == 0 {
		e.sweepIdle()
	}
	if len(e.queue) == 0 {
		return engine.Event{}, false
	}
	ev := e.queue[0]
	e.queue[0] = engine.Event{}
	e.queue = e.queue[1:]
	return ev, true
}

func (e *Engine) emit(h engine.Handle, frame []byte) {
	if e.sink != nil {
		e.sink(frame, h)
	}
}

func (e *Engine) send(kind byte, h engine.Handle, data []byte) {
	idx, ok := e.resolve(h)
	if !ok || e.slots[idx].peerLeft {
		return
	}
	frame := make([]byte, 1+len(data))
	frame[0] = kind
	copy(frame[1:], data)
	e.emit(h, frame)
}

func (e *Engine) SendText(h engine.Handle, text []byte) {
	e.send(FrameText, h, text)
}

func (e *Engine) SendBinary(h engine.Handle, data []byte) {
	e.send(FrameBinary, h, data)
}

// Release frees the slot behind h and tells the peer unless it left first.
func (e *Engine) Release(h engine.Handle) {
	idx, ok := e.resolve(h)
	if !ok {
		return
	}
	s := &e.slots[idx]
	if !s.peerLeft {
		e.emit(h, []byte{FrameBye})
	}
	delete(e.byAddr, s.remote)
	s.live = false
	s.leaving = false
	s.peerLeft = false
	s.remote = addr.Address{}
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
}

func (e *Engine) SessionAddress(h engine.Handle) addr.Address {
	idx, ok := e.resolve(h)
	if !ok {
		return addr.Address{}
	}
	return e.slots[idx].remote
}

func (e *Engine) SetSink(sink engine.Sink) {
	e.sink = sink
}

// Len reports the number of occupied slots.
func (e *Engine) Len() int {
	return len(e.byAddr)
}

func (e *Engine) Close() error {
	e.closed = true
	e.queue = nil
	e.byAddr = make(map[addr.Address]int)
	e.pending = make(map[string]struct{})
	e.order = nil
	for i := range e.slots {
		gen := e.slots[i].gen + 1
		if gen == 0 {
			gen = 1
		}
		e.slots[i] = slot{gen: gen}
	}
	return nil
}
