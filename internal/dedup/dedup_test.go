package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheSeenWithinWindow(t *testing.T) {
	c := New(50 * time.Millisecond)

	assert.False(t, c.Seen("d1:5"))
	assert.True(t, c.Seen("d1:5"))

	time.Sleep(80 * time.Millisecond)
	assert.False(t, c.Seen("d1:5"), "entry should have expired")
}

func TestCacheCleanupRemovesExpired(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Seen("a")
	time.Sleep(30 * time.Millisecond)
	c.Cleanup()

	c.mu.Lock()
	_, ok := c.seen["a"]
	c.mu.Unlock()
	assert.False(t, ok)
}
