// Package debugsnap is an operability aid, not a feature: on SIGUSR1 it
// pretty-prints a snapshot of in-flight engine state to help diagnose a
// stuck sync without attaching a debugger. Adapted from the teacher's
// support/debug package, which pretty-printed incoming updates on a
// DEBUG switch; this snapshot is signal-triggered instead, since the
// archiver has no interactive update stream to eavesdrop on.
package debugsnap

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"chatarchiver/internal/checkpoint"
	"chatarchiver/internal/infra/pr"
	"chatarchiver/internal/media"
)

// Snapshot is one signal's worth of state, captured under lock from the
// live collaborators so a concurrent Put/Enqueue can't torn-read it.
type Snapshot struct {
	Checkpoints    map[int64]int64
	MediaQueueSize int
}

// Watcher listens for SIGUSR1 and prints a Snapshot each time it fires.
// Stop unregisters the signal and waits for the listening goroutine to
// exit; both are idempotent, matching the rest of the engine's
// lifecycle-managed components.
type Watcher struct {
	cp       *checkpoint.Store
	pipeline *media.Pipeline

	sigCh    chan os.Signal
	done     chan struct{}
	onceStop sync.Once
}

// New wires a Watcher against the checkpoint store and media pipeline it
// reports on.
func New(cp *checkpoint.Store, pipeline *media.Pipeline) *Watcher {
	return &Watcher{
		cp:       cp,
		pipeline: pipeline,
		sigCh:    make(chan os.Signal, 1),
		done:     make(chan struct{}),
	}
}

// Start registers the SIGUSR1 handler and begins listening in a
// background goroutine. Returns immediately.
func (w *Watcher) Start(ctx context.Context) {
	signal.Notify(w.sigCh, syscall.SIGUSR1)
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.sigCh:
			if !ok {
				return
			}
			w.dump()
		}
	}
}

func (w *Watcher) dump() {
	snap := Snapshot{
		Checkpoints:    w.cp.Snapshot(),
		MediaQueueSize: w.pipeline.QueueDepth(),
	}
	pr.PP(snap)
}

// Stop unregisters the signal and waits for the listener to exit.
func (w *Watcher) Stop() {
	w.onceStop.Do(func() {
		signal.Stop(w.sigCh)
		close(w.sigCh)
		<-w.done
	})
}
