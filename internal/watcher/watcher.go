// Package watcher is the Watcher: a ticker-driven daemon loop that drives
// the Sync Service for a fixed set of target dialogs each cycle, then
// scans newly persisted messages for configured keywords and alerts via
// the gateway's saved-messages self-send. Grounded on the teacher's
// notifications.Queue scheduler-loop shape: single-flight via a buffered
// trigger channel, so a cycle that overruns its period is never run
// twice concurrently and there is no catch-up queue.
package watcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"chatarchiver/internal/checkpoint"
	"chatarchiver/internal/dedup"
	"chatarchiver/internal/gateway"
	"chatarchiver/internal/infra/logger"
	"chatarchiver/internal/store"
	"chatarchiver/internal/syncsvc"
)

// alertDedupWindow bounds how long a (dialog,message) pair already
// alerted is remembered. The cache is in memory only: it suppresses
// repeat alerts within one process and starts empty after a restart.
const alertDedupWindow = 30 * 24 * time.Hour

// Watcher drives Sync over a fixed dialog list and alerts on keyword hits.
type Watcher struct {
	sync       *syncsvc.Service
	store      *store.Store
	cp         *checkpoint.Store
	gw         gateway.Gateway
	dialogs    []int64
	keywords   []string
	cycle      time.Duration
	alertSeen  *dedup.Cache
	triggerCh  chan struct{}
}

// New builds a Watcher for the given target dialogs and lowercase keyword
// list, cycling every cyclePeriod.
func New(sync *syncsvc.Service, st *store.Store, cp *checkpoint.Store, gw gateway.Gateway,
	dialogs []int64, keywords []string, cyclePeriod time.Duration) *Watcher {
	return &Watcher{
		sync: sync, store: st, cp: cp, gw: gw,
		dialogs: dialogs, keywords: keywords, cycle: cyclePeriod,
		alertSeen: dedup.New(alertDedupWindow),
		triggerCh: make(chan struct{}, 1),
	}
}

// Run blocks, ticking every w.cycle until ctx is cancelled. An overrunning
// cycle delays the next tick rather than stacking a second one.
func (w *Watcher) Run(ctx context.Context) {
	w.alertSeen.Start(ctx)
	defer w.alertSeen.Stop()

	w.Trigger() // run once immediately on start, matching a fresh daemon's expectation

	ticker := time.NewTicker(w.cycle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runCycle(ctx)
		case <-w.triggerCh:
			w.runCycle(ctx)
		}
	}
}

// Trigger requests an out-of-band cycle (e.g. CLI's run_watcher), coalesced
// with any already-pending trigger.
func (w *Watcher) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *Watcher) runCycle(ctx context.Context) {
	logger.Info("watcher cycle starting", zap.Int("dialogs", len(w.dialogs)))

	cycleStart := make(map[int64]int64, len(w.dialogs))
	for _, dialogID := range w.dialogs {
		cycleStart[dialogID] = w.cp.Get(dialogID)
	}

	for _, dialogID := range w.dialogs {
		if ctx.Err() != nil {
			return
		}
		if err := w.sync.RunOnce(ctx, dialogID); err != nil {
			logger.Warn("watcher sync failed", zap.Int64("dialog_id", dialogID), zap.Error(err))
			continue
		}
	}

	for _, dialogID := range w.dialogs {
		if ctx.Err() != nil {
			return
		}
		w.scanForAlerts(ctx, dialogID, cycleStart[dialogID])
	}

	logger.Info("watcher cycle complete")
}

func (w *Watcher) scanForAlerts(ctx context.Context, dialogID, sinceID int64) {
	messages, err := w.store.ReadMessages(ctx, dialogID, sinceID)
	if err != nil {
		logger.Warn("watcher read failed", zap.Int64("dialog_id", dialogID), zap.Error(err))
		return
	}

	for _, m := range messages {
		keyword, matched := matchKeyword(m.Text, w.keywords)
		if !matched {
			continue
		}
		key := fmt.Sprintf("%d:%d", dialogID, m.ID)
		if w.alertSeen.Seen(key) {
			continue
		}
		alert := formatAlert(dialogID, m.ID, keyword, m.Text)
		if err := w.gw.SendSelfMessage(ctx, alert); err != nil {
			logger.Warn("watcher alert send failed", zap.Int64("dialog_id", dialogID), zap.Int64("message_id", m.ID), zap.Error(err))
			continue
		}
		logger.Info("watcher alert sent", zap.Int64("dialog_id", dialogID), zap.Int64("message_id", m.ID), zap.String("keyword", keyword))
	}
}

// matchKeyword reports the first configured keyword found as a lowercase
// substring of text, and whether any matched.
func matchKeyword(text string, keywords []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}

func formatAlert(dialogID, messageID int64, keyword, text string) string {
	const maxSnippet = 200
	snippet := text
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet] + "…"
	}
	return fmt.Sprintf("[watcher] keyword %q matched in dialog %d message %d:\n%s", keyword, dialogID, messageID, snippet)
}
