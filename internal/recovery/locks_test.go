package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocks(t *testing.T) {
	l := NewLocks()

	unlock, ok := l.TryLock("Alice@Example.com")
	require.True(t, ok)

	_, ok = l.TryLock("alice@example.com")
	assert.False(t, ok, "lock is case-insensitive")

	other, ok := l.TryLock("bob@example.com")
	require.True(t, ok)
	other()

	unlock()
	unlock()

	again, ok := l.TryLock("alice@example.com")
	require.True(t, ok)
	again()
}
