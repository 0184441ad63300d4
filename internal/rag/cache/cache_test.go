package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/rag/vectorstore"
)

func results(ids ...string) []vectorstore.Result {
	out := make([]vectorstore.Result, len(ids))
	for i, id := range ids {
		out[i] = vectorstore.Result{ID: id}
	}
	return out
}

func TestGetPutRoundTrip(t *testing.T) {
	c := NewLRU(10, time.Minute)
	k := NewKey("knowledge", "Hybrid   Search", vectorstore.Filter{})
	_, ok := c.Get(k)
	assert.False(t, ok)

	c.Put(k, results("a", "b"))
	got, ok := c.Get(k)
	require.True(t, ok)
	assert.Equal(t, results("a", "b"), got)

	// normalization: same query modulo case/whitespace hits the same entry
	got, ok = c.Get(NewKey("knowledge", "hybrid search", vectorstore.Filter{}))
	require.True(t, ok)
	assert.Equal(t, results("a", "b"), got)
}

func TestCapacityNeverExceeded(t *testing.T) {
	c := NewLRU(3, time.Minute)
	for i := 0; i < 10; i++ {
		c.Put(NewKey("knowledge", fmt.Sprintf("query %d", i), vectorstore.Filter{}), results("x"))
		assert.LessOrEqual(t, c.Stats().Size, 3)
	}
	s := c.Stats()
	assert.Equal(t, 3, s.Size)
	assert.Equal(t, int64(7), s.Evictions)
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU(2, time.Minute)
	k1 := NewKey("knowledge", "one", vectorstore.Filter{})
	k2 := NewKey("knowledge", "two", vectorstore.Filter{})
	k3 := NewKey("knowledge", "three", vectorstore.Filter{})
	c.Put(k1, results("1"))
	c.Put(k2, results("2"))
	_, _ = c.Get(k1) // touch k1 so k2 is the LRU victim
	c.Put(k3, results("3"))

	_, ok := c.Get(k1)
	assert.True(t, ok)
	_, ok = c.Get(k2)
	assert.False(t, ok)
}

func TestExpiredEntriesNeverReturned(t *testing.T) {
	c := NewLRU(10, time.Second)
	base := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	k := NewKey("knowledge", "stale", vectorstore.Filter{})
	c.Put(k, results("a"))

	c.now = func() time.Time { return base.Add(2 * time.Second) }
	_, ok := c.Get(k)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size, "expired entry removed eagerly")
}

func TestInvalidateByCollection(t *testing.T) {
	c := NewLRU(10, time.Minute)
	kw := NewKey("websites", "q", vectorstore.Filter{})
	kk := NewKey("knowledge", "q", vectorstore.Filter{})
	c.Put(kw, results("w"))
	c.Put(kk, results("k"))

	c.Invalidate("websites")
	_, ok := c.Get(kw)
	assert.False(t, ok)
	_, ok = c.Get(kk)
	assert.True(t, ok)
}

func TestKeyDependsOnFilter(t *testing.T) {
	a := NewKey("knowledge", "q", vectorstore.Filter{OwnerID: "u1"})
	b := NewKey("knowledge", "q", vectorstore.Filter{OwnerID: "u2"})
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestHitRate(t *testing.T) {
	c := NewLRU(10, time.Minute)
	k := NewKey("knowledge", "q", vectorstore.Filter{})
	c.Put(k, results("a"))
	_, _ = c.Get(k)
	_, _ = c.Get(NewKey("knowledge", "other", vectorstore.Filter{}))
	assert.InDelta(t, 0.5, c.Stats().HitRate(), 1e-9)
}
