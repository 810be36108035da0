// Package media is the Media Pipeline: a bounded queue of pending
// downloads drained by a fixed-size worker pool. Producers (the sync
// service) never block beyond the queue's capacity — a full queue
// applies backpressure straight back to the caller, exactly spec.md's
// bounded-channel design. Workers are gated by a buffered semaphore
// channel, adapted from the teacher's token-bucket shape in
// internal/infra/throttle but repurposed as a pure concurrency gate: the
// pacing of the download RPC itself is the Rate-Limit Controller's job.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatarchiver/internal/dedup"
	"chatarchiver/internal/errs"
	"chatarchiver/internal/gateway"
	"chatarchiver/internal/infra/logger"
	"chatarchiver/internal/infra/storage"
	"chatarchiver/internal/ratelimit"
)

// dedupWindow bounds how long an (dialog,message) pair is considered "in
// flight" for dedup purposes: long enough to cover the retry backoff
// ladder below with margin.
const dedupWindow = 5 * time.Minute

// Ref describes one pending media download.
type Ref struct {
	DialogID   int64
	MessageID  int64
	Descriptor []byte
	Extension  string
}

func (r Ref) key() string {
	return fmt.Sprintf("%d:%d", r.DialogID, r.MessageID)
}

// backoffLadder is the linear retry schedule: attempt 1 waits 2s, attempt
// 2 waits 4s, attempt 3 waits 6s; a 4th failure is permanent.
var backoffLadder = []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}

const rateLimitScope = "media.download"

// Pipeline owns the download queue and worker pool.
type Pipeline struct {
	gw      gateway.Gateway
	limiter *ratelimit.Controller
	dataDir string

	queue chan Ref
	sem   chan struct{}
	dedup *dedup.Cache

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Pipeline with the given queue capacity and worker count.
// Call Start to begin draining the queue.
func New(gw gateway.Gateway, limiter *ratelimit.Controller, dataDir string, queueSize, parallelism int) *Pipeline {
	if queueSize <= 0 {
		queueSize = 1
	}
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Pipeline{
		gw:      gw,
		limiter: limiter,
		dataDir: dataDir,
		queue:   make(chan Ref, queueSize),
		sem:     make(chan struct{}, parallelism),
		dedup:   dedup.New(dedupWindow),
	}
}

// Start launches the dispatcher goroutine. Safe to call once; a second
// call is a no-op.
func (p *Pipeline) Start(ctx context.Context) {
	if p.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.dedup.Start(runCtx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.dispatch(runCtx)
	}()
}

// Stop cancels the dispatcher and waits for in-flight downloads to settle.
func (p *Pipeline) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.dedup.Stop()
}

// Enqueue submits ref for download. It suppresses a duplicate already
// in flight (same dialog/message seen within dedupWindow) and otherwise
// blocks until the queue has room or ctx is cancelled — the pipeline's
// backpressure mechanism.
func (p *Pipeline) Enqueue(ctx context.Context, ref Ref) error {
	if p.dedup.Seen(ref.key()) {
		return nil
	}
	select {
	case p.queue <- ref:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth reports the number of refs currently buffered, used by the
// debug snapshot dumper.
func (p *Pipeline) QueueDepth() int {
	return len(p.queue)
}

func (p *Pipeline) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ref := <-p.queue:
			select {
			case p.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			p.wg.Add(1)
			go func(r Ref) {
				defer p.wg.Done()
				defer func() { <-p.sem }()
				p.process(ctx, r)
			}(ref)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, ref Ref) {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if err := p.limiter.Wait(ctx, rateLimitScope); err != nil {
			return
		}

		destPath := p.destPath(ref)
		err := p.download(ctx, ref, destPath)
		if err == nil {
			logger.Debug("media downloaded", zap.Int64("dialog_id", ref.DialogID), zap.Int64("message_id", ref.MessageID))
			return
		}

		if fw, ok := p.limiter.Observe(rateLimitScope, err); ok {
			if fw.Short() {
				// Hold the permit and retry the same attempt once the barrier clears.
				attempt--
				continue
			}
			// Long wait: release the permit for the duration of this goroutine's
			// remaining work by re-enqueueing at the tail instead of blocking here.
			p.requeue(ctx, ref)
			return
		}

		if errors.Is(err, errs.ErrCancelled) || ctx.Err() != nil {
			return
		}

		if attempt >= len(backoffLadder) {
			logger.Warn("media download permanently failed",
				zap.Int64("dialog_id", ref.DialogID), zap.Int64("message_id", ref.MessageID), zap.Error(err))
			return
		}

		logger.Debug("media download failed, retrying",
			zap.Int64("dialog_id", ref.DialogID), zap.Int64("message_id", ref.MessageID),
			zap.Int("attempt", attempt+1), zap.Error(err))
		if !sleepCtx(ctx, backoffLadder[attempt]) {
			return
		}
	}
}

func (p *Pipeline) requeue(ctx context.Context, ref Ref) {
	select {
	case p.queue <- ref:
		return
	default:
	}
	select {
	case p.queue <- ref:
	case <-ctx.Done():
	}
}

func (p *Pipeline) download(ctx context.Context, ref Ref, destPath string) error {
	tmp := destPath + ".part"
	if err := storage.EnsureDir(destPath); err != nil {
		return fmt.Errorf("%w: ensure media dir: %v", errs.ErrMediaPermanent, err)
	}
	if err := p.gw.DownloadMedia(ctx, ref.Descriptor, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, destPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename media file: %v", errs.ErrMediaPermanent, err)
	}
	return nil
}

func (p *Pipeline) destPath(ref Ref) string {
	name := fmt.Sprintf("%d_%d", ref.DialogID, ref.MessageID)
	if ref.Extension != "" {
		name += "." + ref.Extension
	}
	return filepath.Join(p.dataDir, "media", name)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
