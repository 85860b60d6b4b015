package plain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/amoylab/wuhost/internal/engine"
	"github.com/amoylab/wuhost/pkg/addr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outbound struct {
	to    addr.Address
	frame []byte
}

type harness struct {
	eng *Engine
	out []outbound
	now time.Time
}

func newHarness(t *testing.T, maxSessions int, opts ...Option) *harness {
	t.Helper()
	hs := &harness{now: time.Unix(1_700_000_000, 0)}
	opts = append([]Option{WithClock(func() time.Time { return hs.now })}, opts...)
	eng, err := New(engine.Config{BindAddress: "127.0.0.1", BindPort: "9555", MaxSessions: maxSessions}, opts...)
	require.NoError(t, err)
	eng.SetSink(func(payload []byte, h engine.Handle) {
		hs.out = append(hs.out, outbound{to: eng.SessionAddress(h), frame: append([]byte(nil), payload...)})
	})
	hs.eng = eng
	return hs
}

func (hs *harness) token(t *testing.T) string {
	t.Helper()
	raw, err := hs.eng.Negotiate([]byte("offer"))
	require.NoError(t, err)
	var a Answer
	require.NoError(t, json.Unmarshal(raw, &a))
	return a.Token
}

func (hs *harness) hello(t *testing.T, from addr.Address) {
	t.Helper()
	hs.eng.ProcessDatagram(from, append([]byte{FrameHello}, hs.token(t)...))
}

func (hs *harness) drain() []engine.Event {
	var evs []engine.Event
	for {
		ev, ok := hs.eng.Poll()
		if !ok {
			return evs
		}
		evs = append(evs, ev)
	}
}

var peerA = addr.Address{Host: 0x0A000001, Port: 4000}
var peerB = addr.Address{Host: 0x0A000002, Port: 4000}

func TestNew_Validation(t *testing.T) {
	_, err := New(engine.Config{BindAddress: "nope", BindPort: "9555"})
	assert.Error(t, err)
	_, err = New(engine.Config{BindAddress: "0.0.0.0", BindPort: "0"})
	assert.Error(t, err)
	_, err = New(engine.Config{BindAddress: "0.0.0.0", BindPort: "65536"})
	assert.Error(t, err)

	e, err := New(engine.Config{BindAddress: "0.0.0.0", BindPort: "1", MaxSessions: -5})
	require.NoError(t, err)
	assert.Len(t, e.slots, 1)
}

func TestNegotiate_Answer(t *testing.T) {
	hs := newHarness(t, 2)
	raw, err := hs.eng.Negotiate([]byte("offer"))
	require.NoError(t, err)

	var a Answer
	require.NoError(t, json.Unmarshal(raw, &a))
	assert.NotEmpty(t, a.Token)
	assert.Equal(t, "127.0.0.1", a.Address)
	assert.Equal(t, uint16(9555), a.Port)

	_, err = hs.eng.Negotiate(nil)
	assert.Error(t, err)
}

func TestNegotiate_PendingTokensCapped(t *testing.T) {
	hs := newHarness(t, 2)
	first := hs.token(t)
	hs.token(t)
	hs.token(t)

	assert.Len(t, hs.eng.pending, 2)
	hs.eng.ProcessDatagram(peerA, append([]byte{FrameHello}, first...))
	assert.Empty(t, hs.drain())
}

func TestRoundTrip(t *testing.T) {
	hs := newHarness(t, 4)
	hs.hello(t, peerA)

	evs := hs.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, engine.EventJoin, evs[0].Kind)
	h := evs[0].Handle
	assert.NotZero(t, h)
	assert.Equal(t, peerA, hs.eng.SessionAddress(h))
	require.Len(t, hs.out, 1)
	assert.Equal(t, []byte{FrameHello}, hs.out[0].frame)

	hs.eng.ProcessDatagram(peerA, []byte("\x02hello"))
	hs.eng.ProcessDatagram(peerA, []byte{FrameBinary, 9, 8})
	evs = hs.drain()
	require.Len(t, evs, 2)
	assert.Equal(t, engine.EventTextData, evs[0].Kind)
	assert.Equal(t, "hello", string(evs[0].Data))
	assert.Equal(t, []byte{9, 8}, evs[1].Data)

	hs.eng.SendText(h, []byte("hi"))
	assert.Equal(t, outbound{to: peerA, frame: []byte("\x02hi")}, hs.out[len(hs.out)-1])

	hs.eng.ProcessDatagram(peerA, []byte{FrameBye})
	evs = hs.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, engine.EventLeave, evs[0].Kind)

	sent := len(hs.out)
	hs.eng.Release(h)
	assert.Len(t, hs.out, sent, "peer initiated leave gets no bye")
	assert.Equal(t, 0, hs.eng.Len())
	assert.Equal(t, addr.Address{}, hs.eng.SessionAddress(h))
}

func TestUnknownSenderDropped(t *testing.T) {
	hs := newHarness(t, 1)
	hs.eng.ProcessDatagram(peerA, []byte("\x02data"))
	hs.eng.ProcessDatagram(peerA, []byte("\x01bogus-token"))
	assert.Empty(t, hs.drain())
	assert.Empty(t, hs.out)
}

func TestCapacityLimit(t *testing.T) {
	hs := newHarness(t, 1)
	hs.hello(t, peerA)
	hs.hello(t, peerB)

	evs := hs.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, peerA, hs.eng.SessionAddress(evs[0].Handle))
	assert.Equal(t, 1, hs.eng.Len())
}

func TestReleaseSendsByeAndReusesSlotWithNewGeneration(t *testing.T) {
	hs := newHarness(t, 1)
	hs.hello(t, peerA)
	first := hs.drain()[0].Handle

	hs.eng.Release(first)
	assert.Equal(t, outbound{to: peerA, frame: []byte{FrameBye}}, hs.out[len(hs.out)-1])

	hs.hello(t, peerB)
	second := hs.drain()[0].Handle
	assert.NotEqual(t, first, second)
	assert.Equal(t, uint32(first), uint32(second), "same slot")

	sent := len(hs.out)
	hs.eng.SendText(first, []byte("stale"))
	hs.eng.Release(first)
	assert.Len(t, hs.out, sent)
	assert.Equal(t, peerB, hs.eng.SessionAddress(second))
}

func TestIdleTimeout(t *testing.T) {
	hs := newHarness(t, 2, WithIdleTimeout(30*time.Second))
	hs.hello(t, peerA)
	hs.hello(t, peerB)
	hs.drain()

	hs.now = hs.now.Add(20 * time.Second)
	hs.eng.ProcessDatagram(peerB, []byte("\x02keepalive"))
	hs.drain()

	hs.now = hs.now.Add(15 * time.Second)
	evs := hs.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, engine.EventLeave, evs[0].Kind)
	assert.Equal(t, peerA, hs.eng.SessionAddress(evs[0].Handle))

	assert.Empty(t, hs.drain(), "leave is reported once")

	hs.eng.ProcessDatagram(peerA, []byte("\x02late"))
	assert.Empty(t, hs.drain())
}

func TestQueueBound(t *testing.T) {
	hs := newHarness(t, 1)
	hs.hello(t, peerA)
	for i := 0; i < 10; i++ {
		hs.eng.ProcessDatagram(peerA, []byte("\x02x"))
	}
	hs.eng.ProcessDatagram(peerA, []byte{FrameBye})

	evs := hs.drain()
	require.Len(t, evs, 5)
	assert.Equal(t, engine.EventJoin, evs[0].Kind)
	assert.Equal(t, engine.EventLeave, evs[4].Kind)
}

func TestClose(t *testing.T) {
	hs := newHarness(t, 1)
	hs.hello(t, peerA)
	require.NoError(t, hs.eng.Close())

	_, ok := hs.eng.Poll()
	assert.False(t, ok)
	_, err := hs.eng.Negotiate([]byte("x"))
	assert.Error(t, err)
	assert.Equal(t, 0, hs.eng.Len())
}
