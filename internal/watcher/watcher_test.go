package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatarchiver/internal/checkpoint"
	"chatarchiver/internal/gateway"
	"chatarchiver/internal/media"
	"chatarchiver/internal/ratelimit"
	"chatarchiver/internal/store"
	"chatarchiver/internal/syncsvc"
)

type fakeGateway struct {
	mu    sync.Mutex
	pages map[int64][]gateway.RawMessage
	sent  []string
}

func (f *fakeGateway) ListDialogs(ctx context.Context) ([]gateway.Dialog, error) { return nil, nil }

func (f *fakeGateway) GetHistory(ctx context.Context, dialogID, minID int64, limit int) ([]gateway.RawMessage, error) {
	return f.pages[minID], nil
}

func (f *fakeGateway) DownloadMedia(ctx context.Context, descriptor []byte, destPath string) error {
	return nil
}
func (f *fakeGateway) ResolvePeer(ctx context.Context, peerID int64) error { return nil }

func (f *fakeGateway) SendSelfMessage(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeGateway) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestWatcher_AlertsOnKeywordMatch(t *testing.T) {
	gw := &fakeGateway{pages: map[int64][]gateway.RawMessage{
		0: {{ID: 1, Timestamp: 1, Text: "all fine here"}, {ID: 2, Timestamp: 2, Text: "production is down!"}},
		2: {},
	}}

	st, err := store.Open(filepath.Join(t.TempDir(), "messages.db"))
	require.NoError(t, err)
	defer st.Close()

	cp, err := checkpoint.Load(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	pipeline := media.New(gw, ratelimit.NewController(1000), t.TempDir(), 10, 1)
	pipeline.Start(context.Background())
	defer pipeline.Stop()

	svc := syncsvc.New(gw, st, cp, pipeline, ratelimit.NewController(1000), 0, 0)
	w := New(svc, st, cp, gw, []int64{7}, []string{"production", "urgent"}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.runCycle(ctx)

	require.Equal(t, 1, gw.sentCount())
	assert.Contains(t, gw.sent[0], "production is down")
}

func TestWatcher_DoesNotReAlertSameMessage(t *testing.T) {
	gw := &fakeGateway{pages: map[int64][]gateway.RawMessage{
		0: {{ID: 1, Timestamp: 1, Text: "urgent issue"}},
		1: {},
	}}

	st, err := store.Open(filepath.Join(t.TempDir(), "messages.db"))
	require.NoError(t, err)
	defer st.Close()

	cp, err := checkpoint.Load(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	pipeline := media.New(gw, ratelimit.NewController(1000), t.TempDir(), 10, 1)
	pipeline.Start(context.Background())
	defer pipeline.Stop()

	svc := syncsvc.New(gw, st, cp, pipeline, ratelimit.NewController(1000), 0, 0)
	w := New(svc, st, cp, gw, []int64{1}, []string{"urgent"}, time.Hour)
	w.alertSeen.Start(context.Background())
	defer w.alertSeen.Stop()

	ctx := context.Background()
	w.runCycle(ctx)
	assert.Equal(t, 1, gw.sentCount())

	// Re-running the cycle re-reads from sinceID=checkpoint, which has
	// already advanced past message 1, so scanForAlerts sees nothing new;
	// this asserts the dedup cache isn't the only thing preventing a
	// re-alert, but also doesn't regress it.
	w.runCycle(ctx)
	assert.Equal(t, 1, gw.sentCount())
}
