package episode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetAfterPutIsHit(t *testing.T) {
	c := NewCache("test", 10, 0, nil)
	e := &Episode{ID: 1, QueryText: "q", AnswerText: "a"}
	c.Put(e)

	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, e, got)
	assert.Equal(t, int64(1), c.Metrics().Hits)
}

func TestCache_GetMissingIsMiss(t *testing.T) {
	c := NewCache("test", 10, 0, nil)
	_, ok := c.Get(42)
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Metrics().Misses)
}

func TestCache_EvictsLeastRecentlyUsedOnCountBound(t *testing.T) {
	c := NewCache("test", 2, 0, nil)
	c.Put(&Episode{ID: 1, QueryText: "a"})
	c.Put(&Episode{ID: 2, QueryText: "b"})
	c.Put(&Episode{ID: 3, QueryText: "c"})

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(1)
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Get(3)
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Metrics().Evictions)
}

func TestCache_GetPromotesToMostRecentlyUsed(t *testing.T) {
	c := NewCache("test", 2, 0, nil)
	c.Put(&Episode{ID: 1, QueryText: "a"})
	c.Put(&Episode{ID: 2, QueryText: "b"})

	_, ok := c.Get(1) // promote 1 so 2 becomes the LRU victim
	require.True(t, ok)

	c.Put(&Episode{ID: 3, QueryText: "c"})

	_, ok = c.Get(2)
	assert.False(t, ok, "2 should have been evicted, not 1")
	_, ok = c.Get(1)
	assert.True(t, ok)
}

func TestCache_PeekDoesNotPromote(t *testing.T) {
	c := NewCache("test", 2, 0, nil)
	c.Put(&Episode{ID: 1, QueryText: "a"})
	c.Put(&Episode{ID: 2, QueryText: "b"})

	e, ok := c.Peek(1) // must NOT promote 1, unlike Get
	require.True(t, ok)
	assert.Equal(t, int64(1), e.ID)

	c.Put(&Episode{ID: 3, QueryText: "c"})

	_, ok = c.Peek(1)
	assert.False(t, ok, "1 should have been evicted since Peek did not promote it")
	_, ok = c.Peek(2)
	assert.True(t, ok)
}

func TestCache_PeekMissingIsMiss(t *testing.T) {
	c := NewCache("test", 2, 0, nil)
	_, ok := c.Peek(99)
	assert.False(t, ok)
}

func TestCache_EvictsOnByteBoundEvenUnderCountBound(t *testing.T) {
	big := &Episode{ID: 1, QueryText: string(make([]byte, 1000))}
	small := &Episode{ID: 2, QueryText: "x"}

	c := NewCache("test", 100, 1000, nil)
	c.Put(big)
	c.Put(small)

	assert.Equal(t, 1, c.Len(), "inserting small should have evicted big to respect the byte bound")
	_, ok := c.Get(2)
	assert.True(t, ok)
}

func TestCache_PutReplacesExistingEntryUpdatingSize(t *testing.T) {
	c := NewCache("test", 10, 0, nil)
	c.Put(&Episode{ID: 1, QueryText: "short"})
	c.Put(&Episode{ID: 1, QueryText: "a much longer replacement value"})

	assert.Equal(t, 1, c.Len())
	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "a much longer replacement value", got.QueryText)
}

func TestCache_RemoveDropsEntryWithoutError(t *testing.T) {
	c := NewCache("test", 10, 0, nil)
	c.Put(&Episode{ID: 1, QueryText: "a"})
	c.Remove(1)

	_, ok := c.Get(1)
	assert.False(t, ok)
}
