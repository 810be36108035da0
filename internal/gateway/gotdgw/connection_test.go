package gotdgw

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gotd/td/pool"
	"github.com/gotd/td/rpc"
)

func TestIsNetworkError(t *testing.T) {
	require.False(t, isNetworkError(nil))
	require.False(t, isNetworkError(context.Canceled))
	require.False(t, isNetworkError(errors.New("some application error")))

	require.True(t, isNetworkError(pool.ErrConnDead))
	require.True(t, isNetworkError(rpc.ErrEngineClosed))
	require.True(t, isNetworkError(context.DeadlineExceeded))
	require.True(t, isNetworkError(&net.DNSError{IsTimeout: true}))
}

func TestConnTracker_StartsOnline(t *testing.T) {
	tracker := NewConnTracker(context.Background(), nil)
	// WaitOnline must return immediately without blocking when already online.
	done := make(chan struct{})
	go func() {
		tracker.WaitOnline(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitOnline blocked despite tracker starting online")
	}
}

func TestConnTracker_WaitOnlineUnblocksOnReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := NewConnTracker(ctx, nil)
	tracker.MarkDisconnected()

	waiterDone := make(chan struct{})
	go func() {
		tracker.WaitOnline(context.Background())
		close(waiterDone)
	}()

	select {
	case <-waiterDone:
		t.Fatal("WaitOnline returned before reconnect")
	case <-time.After(50 * time.Millisecond):
	}

	tracker.MarkConnected()

	select {
	case <-waiterDone:
	case <-time.After(time.Second):
		t.Fatal("WaitOnline did not unblock after MarkConnected")
	}
}

func TestConnTracker_WaitOnlineRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := NewConnTracker(ctx, nil)
	tracker.MarkDisconnected()

	callerCtx, callerCancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tracker.WaitOnline(callerCtx)
		close(done)
	}()

	callerCancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitOnline did not return after its context was cancelled")
	}
}

func TestConnTracker_MarkConnectedIdempotent(t *testing.T) {
	tracker := NewConnTracker(context.Background(), nil)
	tracker.MarkConnected()
	tracker.MarkConnected()
	require.True(t, tracker.connected.Load())
}

func TestConnTracker_HandleErrorOnlyMarksDisconnectedForNetworkErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := NewConnTracker(ctx, nil)
	require.False(t, tracker.HandleError(errors.New("boring application error")))
	require.True(t, tracker.connected.Load())

	require.True(t, tracker.HandleError(pool.ErrConnDead))
	require.False(t, tracker.connected.Load())
}

func TestConnTracker_NilReceiverIsSafe(t *testing.T) {
	var tracker *ConnTracker
	tracker.MarkConnected()
	tracker.MarkDisconnected()
	tracker.WaitOnline(context.Background())
	tracker.Shutdown()
	require.False(t, tracker.HandleError(errors.New("x")))
}
