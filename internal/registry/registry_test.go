package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New()

	r.Register("PN-1", "player-1", map[string]interface{}{"total": 9.99}, "Alice", "alice@example.com", "order-1")

	entry, ok := r.Lookup("PN-1")
	require.True(t, ok)
	assert.Equal(t, "player-1", entry.PID)
	assert.Equal(t, "order-1", entry.OrderID)
}

func TestRegisterUpsertReplacesEntry(t *testing.T) {
	r := New()

	r.Register("PN-1", "player-1", nil, "Alice", "alice@example.com", "order-1")
	first, _ := r.Lookup("PN-1")

	time.Sleep(time.Millisecond)
	r.Register("PN-1", "player-2", nil, "Bob", "bob@example.com", "order-2")

	second, ok := r.Lookup("PN-1")
	require.True(t, ok)
	assert.Equal(t, "player-2", second.PID)
	assert.True(t, second.RegisteredAt.After(first.RegisteredAt) || second.RegisteredAt.Equal(first.RegisteredAt))
	assert.Equal(t, 1, r.Len())
}

func TestConsumeRemovesEntry(t *testing.T) {
	r := New()
	r.Register("PN-1", "player-1", nil, "Alice", "alice@example.com", "order-1")

	entry, ok := r.Consume("PN-1")
	require.True(t, ok)
	assert.Equal(t, "player-1", entry.PID)

	_, ok = r.Lookup("PN-1")
	assert.False(t, ok)
}

func TestConsumeMissingReturnsFalse(t *testing.T) {
	r := New()
	_, ok := r.Consume("does-not-exist")
	assert.False(t, ok)
}

func TestFindByPlayerReturnsMostRecentlyRegistered(t *testing.T) {
	r := New()
	r.Register("PN-1", "player-1", nil, "Alice", "alice@example.com", "order-1")
	time.Sleep(time.Millisecond)
	r.Register("PN-2", "player-1", nil, "Alice", "alice@example.com", "order-2")

	entry, ok := r.FindByPlayer("player-1")
	require.True(t, ok)
	assert.Equal(t, "PN-2", entry.PN)
}

func TestFindByPlayerNoMatch(t *testing.T) {
	r := New()
	r.Register("PN-1", "player-1", nil, "Alice", "alice@example.com", "order-1")

	_, ok := r.FindByPlayer("player-nobody")
	assert.False(t, ok)
}

func TestPNsAndLenReflectOutstandingEntries(t *testing.T) {
	r := New()
	r.Register("PN-1", "player-1", nil, "", "", "")
	r.Register("PN-2", "player-2", nil, "", "", "")

	assert.Equal(t, 2, r.Len())
	assert.ElementsMatch(t, []string{"PN-1", "PN-2"}, r.PNs())
}
