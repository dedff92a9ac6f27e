package docent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGet(t *testing.T) {
	c := NewCache(WithTTL(time.Minute))
	c.Set("k", "v")
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestCache_MissIsNotAnError(t *testing.T) {
	c := NewCache()
	got, ok := c.Get("absent")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestCache_ExpiredEntryEvictedOnGet(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := NewCache(WithTTL(time.Minute), withClock(clock))
	c.Set("k", "v")

	now = now.Add(2 * time.Minute)
	_, ok := c.Get("k")
	assert.False(t, ok)
	// The expired entry was physically evicted, not just hidden.
	assert.Equal(t, 0, c.Stats().TotalItems)
}

func TestCache_SetOverwrites(t *testing.T) {
	c := NewCache()
	c.Set("k", "old")
	c.Set("k", "new")
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", got)
}

func TestCache_ClearExpired(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := NewCache(WithTTL(time.Minute), withClock(clock))
	c.Set("a", 1)
	c.Set("b", 2)

	now = now.Add(30 * time.Second)
	c.Set("c", 3)

	now = now.Add(45 * time.Second) // a, b expired; c still valid
	removed := c.ClearExpired()
	assert.Equal(t, 2, removed)
	_, ok := c.Get("c")
	assert.True(t, ok)
}

func TestCache_Stats(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := NewCache(WithTTL(time.Minute), withClock(clock))
	c.Set("a", 1)
	now = now.Add(2 * time.Minute)
	c.Set("b", 2)

	stats := c.Stats()
	assert.Equal(t, 2, stats.TotalItems)
	assert.Equal(t, 1, stats.ValidItems)
	assert.Equal(t, 1, stats.ExpiredItems)
	assert.Equal(t, 60.0, stats.TTLSeconds)
}

func TestCache_Clear(t *testing.T) {
	c := NewCache()
	c.Set("a", 1)
	c.Clear()
	assert.Equal(t, 0, c.Stats().TotalItems)
}

func TestKey_StreamingFlagsExcluded(t *testing.T) {
	plain := Key("what is Go?", map[string]any{"model": "m1"})
	streaming := Key("what is Go?", map[string]any{"model": "m1", "stream": true})
	withOpts := Key("what is Go?", map[string]any{"model": "m1", "stream_options": map[string]any{"include_usage": true}})
	assert.Equal(t, plain, streaming, "streaming and non-streaming requests must share an entry")
	assert.Equal(t, plain, withOpts)
}

func TestKey_SensitiveToPromptAndOptions(t *testing.T) {
	base := Key("p", map[string]any{"model": "m1"})
	assert.NotEqual(t, base, Key("q", map[string]any{"model": "m1"}))
	assert.NotEqual(t, base, Key("p", map[string]any{"model": "m2"}))
}

func TestKey_OptionOrderIrrelevant(t *testing.T) {
	// encoding/json sorts map keys, so insertion order cannot leak into the key.
	a := Key("p", map[string]any{"model": "m1", "temperature": 0.5})
	b := Key("p", map[string]any{"temperature": 0.5, "model": "m1"})
	assert.Equal(t, a, b)
}
