package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryHarness() (*Registry, func() *Session) {
	r := NewRegistry()
	create := func() *Session {
		h := newHarness(testConfig())
		return h.s
	}
	return r, create
}

func TestRegistryReturnsSameInstance(t *testing.T) {
	r, create := registryHarness()

	var wg sync.WaitGroup
	got := make([]*Session, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.GetOrCreate("guild-1", create)
		}(i)
	}
	wg.Wait()

	for _, s := range got[1:] {
		assert.Same(t, got[0], s)
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRemovesDestroyedSession(t *testing.T) {
	r, create := registryHarness()

	s := r.GetOrCreate("guild-1", create)
	s.Destroy()

	_, ok := r.Peek("guild-1")
	assert.False(t, ok)

	// A fresh lookup gets a brand new live session.
	s2 := r.GetOrCreate("guild-1", create)
	require.NotSame(t, s, s2)
	assert.False(t, s2.Destroyed())
}

func TestRegistryDestroyAll(t *testing.T) {
	r, create := registryHarness()

	a := r.GetOrCreate("guild-1", create)
	b := r.GetOrCreate("guild-2", create)
	r.DestroyAll()

	assert.True(t, a.Destroyed())
	assert.True(t, b.Destroyed())
	assert.Zero(t, r.Len())
}
