package keycache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGet_Roundtrip(t *testing.T) {
	c := New()
	c.Put("wallet", []byte("supersecretkey"), 0, nil)

	got, ok := c.Get("wallet")
	require.True(t, ok)
	assert.Equal(t, []byte("supersecretkey"), got)
}

func TestGet_MissingEntry(t *testing.T) {
	c := New()
	_, ok := c.Get("never-cached")
	assert.False(t, ok)
}

func TestGet_ReturnsDefensiveCopy(t *testing.T) {
	c := New()
	c.Put("wallet", []byte("supersecretkey"), 0, nil)

	got, ok := c.Get("wallet")
	require.True(t, ok)
	got[0] = 'X'

	again, ok := c.Get("wallet")
	require.True(t, ok)
	assert.Equal(t, []byte("supersecretkey"), again, "mutating a returned copy must not affect the cache")
}

func TestPut_OverwritesExistingEntryWithoutResettingTimer(t *testing.T) {
	c := New()
	evicted := make(chan string, 1)
	c.Put("wallet", []byte("first-key-12345"), 80*time.Millisecond, func(name string) { evicted <- name })

	time.Sleep(40 * time.Millisecond)
	c.Put("wallet", []byte("second-key-6789"), 0, nil)

	got, ok := c.Get("wallet")
	require.True(t, ok)
	assert.Equal(t, []byte("second-key-6789"), got)

	select {
	case name := <-evicted:
		assert.Equal(t, "wallet", name)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected the original relock timer to still fire and evict")
	}
}

func TestEvict_RemovesEntryAndStopsTimer(t *testing.T) {
	c := New()
	evicted := make(chan string, 1)
	c.Put("wallet", []byte("supersecretkey"), time.Hour, func(name string) { evicted <- name })

	c.Evict("wallet")
	assert.False(t, c.Contains("wallet"))

	select {
	case <-evicted:
		t.Fatal("onEvict must not fire for an explicit Evict call")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestEvict_IdempotentOnMissingEntry(t *testing.T) {
	c := New()
	c.Evict("never-cached") // must not panic
}

func TestEvictAll_ClearsEverything(t *testing.T) {
	c := New()
	c.Put("wallet", []byte("key-one-12345678"), 0, nil)
	c.Put("notes", []byte("key-two-12345678"), 0, nil)

	c.EvictAll()

	assert.False(t, c.Contains("wallet"))
	assert.False(t, c.Contains("notes"))
}

func TestPut_TimerEvictsAfterTimeout(t *testing.T) {
	c := New()
	evicted := make(chan string, 1)
	c.Put("wallet", []byte("supersecretkey"), 30*time.Millisecond, func(name string) { evicted <- name })

	require.True(t, c.Contains("wallet"))

	select {
	case name := <-evicted:
		assert.Equal(t, "wallet", name)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected relock timer to evict the entry")
	}
	assert.False(t, c.Contains("wallet"))
}
