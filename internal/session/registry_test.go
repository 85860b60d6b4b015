package session

import (
	"testing"

	"github.com/amoylab/wuhost/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AssignsIncreasingIDs(t *testing.T) {
	r := NewRegistry(nil)
	var prev uint32
	for i := 0; i < 50; i++ {
		id := r.ResolveOrAssign(engine.Handle(1000 + i))
		if i == 0 {
			assert.Equal(t, uint32(1), id)
		} else {
			assert.Greater(t, id, prev)
		}
		prev = id
	}
	assert.Equal(t, 50, r.Len())
}

func TestRegistry_ResolveOrAssignIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	a := r.ResolveOrAssign(7)
	b := r.ResolveOrAssign(7)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, r.Len())

	id, ok := r.IDOf(7)
	assert.True(t, ok)
	assert.Equal(t, a, id)

	_, ok = r.IDOf(8)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len(), "IDOf must not assign")
}

func TestRegistry_RemoveReleasesOnce(t *testing.T) {
	var released []engine.Handle
	r := NewRegistry(func(h engine.Handle) { released = append(released, h) })

	id := r.ResolveOrAssign(42)
	h, ok := r.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, engine.Handle(42), h)

	assert.True(t, r.Remove(id))
	assert.False(t, r.Remove(id))
	assert.Equal(t, []engine.Handle{42}, released)

	_, ok = r.Lookup(id)
	assert.False(t, ok)
	_, ok = r.IDOf(42)
	assert.False(t, ok)
}

func TestRegistry_RemoveErasesBeforeRelease(t *testing.T) {
	var r *Registry
	r = NewRegistry(func(h engine.Handle) {
		_, ok := r.IDOf(h)
		assert.False(t, ok, "mapping still visible during release")
	})
	id := r.ResolveOrAssign(3)
	r.Remove(id)
}

func TestRegistry_ReusedHandleGetsFreshID(t *testing.T) {
	r := NewRegistry(nil)
	first := r.ResolveOrAssign(9)
	r.Remove(first)
	second := r.ResolveOrAssign(9)
	assert.NotEqual(t, first, second)
	assert.Greater(t, second, first)
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := NewRegistry(nil)
	_, ok := r.Lookup(0)
	assert.False(t, ok)
	_, ok = r.Lookup(12345)
	assert.False(t, ok)
}

func TestRegistry_Purge(t *testing.T) {
	released := 0
	r := NewRegistry(func(engine.Handle) { released++ })
	id := r.ResolveOrAssign(5)

	got, ok := r.Purge(5)
	assert.True(t, ok)
	assert.Equal(t, id, got)
	assert.Zero(t, released)

	_, ok = r.Purge(5)
	assert.False(t, ok)
	assert.False(t, r.Remove(id))
}

func TestRegistry_IDsSorted(t *testing.T) {
	r := NewRegistry(nil)
	for h := engine.Handle(1); h <= 5; h++ {
		r.ResolveOrAssign(h)
	}
	r.Remove(3)
	assert.Equal(t, []uint32{1, 2, 4, 5}, r.IDs())
}

func TestRegistry_CounterWrapSkipsZeroAndLiveIDs(t *testing.T) {
	r := NewRegistry(nil)
	one := r.ResolveOrAssign(1)
	require.Equal(t, uint32(1), one)

	r.counter = ^uint32(0)
	last := r.ResolveOrAssign(2)
	assert.Equal(t, ^uint32(0), last)

	next := r.ResolveOrAssign(3)
	assert.Equal(t, uint32(2), next, "0 is reserved and 1 is still live")
}
