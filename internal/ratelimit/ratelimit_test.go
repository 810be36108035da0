package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatarchiver/internal/errs"
)

func TestObserveShortFloodWaitRaisesAndClearsBarrier(t *testing.T) {
	c := NewController(100)
	fw, ok := c.Observe("dialog:1", &errs.FloodWaitError{Seconds: 0})
	require.True(t, ok)
	assert.True(t, fw.Short())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx, "dialog:1"))
}

func TestObserveIgnoresNonFloodWaitErrors(t *testing.T) {
	c := NewController(10)
	_, ok := c.Observe("dialog:1", assertError{})
	assert.False(t, ok)
}

func TestWaitBlocksUntilBarrierClears(t *testing.T) {
	c := NewController(100)
	c.raiseBarrier("dialog:2", 30*time.Millisecond)

	start := time.Now()
	require.NoError(t, c.Wait(context.Background(), "dialog:2"))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	c := NewController(100)
	c.raiseBarrier("dialog:3", time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.Wait(ctx, "dialog:3")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
