// Package syncsvc is the Sync Service: it drives one dialog's delta sync
// to completion, paging through history oldest-first, persisting each
// page transactionally, enqueueing media, and advancing the checkpoint
// only after a page commits. Grounded on the teacher's runner.go
// orchestration style — explicit named phases with a debug breadcrumb per
// phase — and entityregistry's paginated-fetch loop shape, generalized
// here to history pages instead of dialog pages.
package syncsvc

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"chatarchiver/internal/checkpoint"
	"chatarchiver/internal/errs"
	"chatarchiver/internal/gateway"
	"chatarchiver/internal/infra/logger"
	"chatarchiver/internal/media"
	"chatarchiver/internal/ratelimit"
	"chatarchiver/internal/shared"
	"chatarchiver/internal/store"
)

// Page is the fixed page size spec'd for get_history calls.
const Page = 100

const rateLimitScope = "syncsvc.get_history"

// state names the per-dialog phase, mirroring the state machine spec.md
// draws for this component. It exists purely for logging
// clarity; control flow itself is a plain Go loop, not a table-driven FSM.
type state int

const (
	stateIdle state = iota
	stateFetching
	statePersisting
	stateCheckpointing
	stateEnqueuing
	stateDone
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateFetching:
		return "fetching"
	case statePersisting:
		return "persisting"
	case stateCheckpointing:
		return "checkpointing"
	case stateEnqueuing:
		return "enqueuing"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Service runs delta sync for dialogs against a shared Store, Checkpoint
// Store and Media Pipeline.
type Service struct {
	gw       gateway.Gateway
	store    *store.Store
	cp       *checkpoint.Store
	pipeline *media.Pipeline
	limiter  *ratelimit.Controller

	syncDelayMS   int
	exportDelayMS int
}

// New builds a Sync Service. syncDelayMS paces consecutive pages within a
// dialog; exportDelayMS, if non-zero, additionally sleeps before each
// get_history call.
func New(gw gateway.Gateway, st *store.Store, cp *checkpoint.Store, pipeline *media.Pipeline,
	limiter *ratelimit.Controller, syncDelayMS, exportDelayMS int) *Service {
	return &Service{
		gw: gw, store: st, cp: cp, pipeline: pipeline, limiter: limiter,
		syncDelayMS: syncDelayMS, exportDelayMS: exportDelayMS,
	}
}

// RunOnce drives dialogID to completion: it keeps paging get_history until
// an (re-filtered) empty page is returned, persisting and checkpointing
// every page along the way. A store failure aborts the run, leaving the
// checkpoint at the last successfully committed page.
func (s *Service) RunOnce(ctx context.Context, dialogID int64) error {
	phase := stateIdle
	minID := s.cp.Get(dialogID)
	logger.Debug("sync start", zap.Int64("dialog_id", dialogID), zap.Int64("min_id", minID))

	for {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: dialog %d", errs.ErrCancelled, dialogID)
		}

		phase = stateFetching
		if s.exportDelayMS > 0 {
			shared.WaitRandomMs(ctx, s.exportDelayMS, s.exportDelayMS+1)
		}

		page, err := s.fetchPage(ctx, dialogID, minID)
		if err != nil {
			phase = stateFailed
			logger.Warn("sync fetch failed", zap.Int64("dialog_id", dialogID), zap.String("phase", phase.String()), zap.Error(err))
			return err
		}

		// Client-side re-filter: the gateway may ignore min_id (spec open
		// question 1); duplicates beyond this are impossible anyway because
		// the store's primary key is (dialog_id, message_id).
		filtered := page[:0:0]
		for _, m := range page {
			if m.ID > minID {
				filtered = append(filtered, m)
			}
		}
		if len(filtered) == 0 {
			phase = stateDone
			logger.Debug("sync done", zap.Int64("dialog_id", dialogID), zap.String("phase", phase.String()))
			return nil
		}

		// Ascending order so persistence proceeds oldest-first.
		sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })

		phase = statePersisting
		if err := s.store.SaveMessageBatch(ctx, dialogID, filtered); err != nil {
			phase = stateFailed
			logger.Warn("sync persist failed", zap.Int64("dialog_id", dialogID), zap.String("phase", phase.String()), zap.Error(err))
			return fmt.Errorf("persist dialog %d: %w", dialogID, err)
		}

		maxID := filtered[len(filtered)-1].ID

		// Enqueue media before advancing the checkpoint: if the process
		// crashes between the two, the next run re-fetches this same page
		// (checkpoint hasn't moved yet) and re-enqueues its media refs. If
		// the checkpoint moved first instead, a crash before enqueue would
		// leave the message persisted with its media reference lost for
		// good, since the page is never re-fetched.
		phase = stateEnqueuing
		for _, m := range filtered {
			if len(m.MediaDescriptor) == 0 {
				continue
			}
			ref := media.Ref{DialogID: dialogID, MessageID: m.ID, Descriptor: m.MediaDescriptor, Extension: m.ExpectedExtension}
			if err := s.pipeline.Enqueue(ctx, ref); err != nil {
				return fmt.Errorf("%w: enqueue media dialog %d message %d: %v", errs.ErrCancelled, dialogID, m.ID, err)
			}
		}

		phase = stateCheckpointing
		if err := s.cp.Put(dialogID, maxID); err != nil {
			phase = stateFailed
			logger.Warn("sync checkpoint failed", zap.Int64("dialog_id", dialogID), zap.String("phase", phase.String()), zap.Error(err))
			return fmt.Errorf("checkpoint dialog %d: %w", dialogID, err)
		}

		minID = maxID
		logger.Debug("sync page committed", zap.Int64("dialog_id", dialogID), zap.Int("count", len(filtered)), zap.Int64("new_min_id", minID))

		shared.WaitRandomMs(ctx, s.syncDelayMS, s.syncDelayMS+1)
	}
}

// fetchPage calls get_history under the Rate-Limit Controller, looping on
// a short FLOOD_WAIT and surfacing a long one to the caller.
func (s *Service) fetchPage(ctx context.Context, dialogID, minID int64) ([]gateway.RawMessage, error) {
	for {
		if err := s.limiter.Wait(ctx, rateLimitScope); err != nil {
			return nil, err
		}
		page, err := s.gw.GetHistory(ctx, dialogID, minID, Page)
		if err == nil {
			return page, nil
		}
		fw, ok := s.limiter.Observe(rateLimitScope, err)
		if !ok {
			return nil, err
		}
		if !fw.Short() {
			return nil, err
		}
		// Short wait: Wait() above will block out the barrier on the next loop.
	}
}
