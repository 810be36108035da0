package cli

import (
	"context"
	"path/filepath"
	"testing"

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
	dialogs []gateway.Dialog
	pages   map[int64][]gateway.RawMessage
}

func (f *fakeGateway) ListDialogs(ctx context.Context) ([]gateway.Dialog, error) {
	return f.dialogs, nil
}

func (f *fakeGateway) GetHistory(ctx context.Context, dialogID, minID int64, limit int) ([]gateway.RawMessage, error) {
	return f.pages[minID], nil
}

func (f *fakeGateway) DownloadMedia(ctx context.Context, descriptor []byte, destPath string) error {
	return nil
}

func (f *fakeGateway) ResolvePeer(ctx context.Context, peerID int64) error { return nil }

func (f *fakeGateway) SendSelfMessage(ctx context.Context, text string) error { return nil }

func newTestService(t *testing.T, gw *fakeGateway) (*Service, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "messages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cp, err := checkpoint.Load(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	pipeline := media.New(gw, ratelimit.NewController(1000), t.TempDir(), 10, 1)
	pipeline.Start(context.Background())
	t.Cleanup(pipeline.Stop)

	sync := syncsvc.New(gw, st, cp, pipeline, ratelimit.NewController(1000), 0, 0)

	stopped := false
	svc := NewService(gw, st, sync, nil, func() { stopped = true })
	_ = stopped
	return svc, st
}

func TestHandle_HelpDoesNotExit(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestService(t, gw)
	assert.False(t, svc.handle(context.Background(), "help"))
}

func TestHandle_UnknownCommandDoesNotExit(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestService(t, gw)
	assert.False(t, svc.handle(context.Background(), "frobnicate"))
}

func TestHandle_ExitReturnsTrueAndStopsApp(t *testing.T) {
	gw := &fakeGateway{}

	st, err := store.Open(filepath.Join(t.TempDir(), "messages.db"))
	require.NoError(t, err)
	defer st.Close()
	cp, err := checkpoint.Load(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	pipeline := media.New(gw, ratelimit.NewController(1000), t.TempDir(), 10, 1)
	pipeline.Start(context.Background())
	defer pipeline.Stop()
	sync := syncsvc.New(gw, st, cp, pipeline, ratelimit.NewController(1000), 0, 0)

	stopped := false
	svc := NewService(gw, st, sync, nil, func() { stopped = true })

	assert.True(t, svc.handle(context.Background(), "exit"))
	assert.True(t, stopped)
}

func TestHandle_ListDialogsUpsertsAndPrints(t *testing.T) {
	gw := &fakeGateway{dialogs: []gateway.Dialog{
		{ID: 1, Title: "Alice", Kind: gateway.KindUser},
		{ID: 2, Title: "Ops Channel", Kind: gateway.KindChannel},
	}}
	svc, st := newTestService(t, gw)

	assert.False(t, svc.handle(context.Background(), "list_dialogs"))

	blacklist, err := st.ListBlacklist(context.Background())
	require.NoError(t, err)
	assert.Empty(t, blacklist)

	// SetBlacklist fails for a dialog row that does not exist, so these
	// succeed only if list_dialogs upserted both dialogs.
	require.NoError(t, st.SetBlacklist(context.Background(), 1, false))
	require.NoError(t, st.SetBlacklist(context.Background(), 2, false))
}

func TestHandle_SetBlacklistRoundTrip(t *testing.T) {
	gw := &fakeGateway{dialogs: []gateway.Dialog{{ID: 9, Title: "Test", Kind: gateway.KindGroup}}}
	svc, st := newTestService(t, gw)

	svc.handle(context.Background(), "list_dialogs")
	assert.False(t, svc.handle(context.Background(), "set_blacklist 9 true"))

	blacklist, err := st.ListBlacklist(context.Background())
	require.NoError(t, err)
	assert.Contains(t, blacklist, int64(9))
}

func TestHandle_SetBlacklistBadArgsDoesNotPanic(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestService(t, gw)

	assert.False(t, svc.handle(context.Background(), "set_blacklist"))
	assert.False(t, svc.handle(context.Background(), "set_blacklist notanumber true"))
	assert.False(t, svc.handle(context.Background(), "set_blacklist 1 notabool"))
}

func TestHandle_RunWatcherWithoutWatcherConfigured(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestService(t, gw)
	assert.False(t, svc.handle(context.Background(), "run_watcher"))
}

func TestHandle_RunFullBackupSyncsNonBlacklistedDialogs(t *testing.T) {
	gw := &fakeGateway{
		dialogs: []gateway.Dialog{
			{ID: 5, Title: "Friends", Kind: gateway.KindGroup},
			{ID: 6, Title: "Muted", Kind: gateway.KindGroup},
		},
		pages: map[int64][]gateway.RawMessage{0: {{ID: 1, Timestamp: 1, Text: "hi"}}},
	}
	svc, st := newTestService(t, gw)
	ctx := context.Background()
	require.NoError(t, st.UpsertDialog(ctx, gw.dialogs[1]))
	require.NoError(t, st.SetBlacklist(ctx, 6, true))

	assert.False(t, svc.handle(ctx, "run_full_backup"))

	synced, err := st.ReadMessages(ctx, 5, 0)
	require.NoError(t, err)
	assert.Len(t, synced, 1)

	skipped, err := st.ReadMessages(ctx, 6, 0)
	require.NoError(t, err)
	assert.Empty(t, skipped)
}

func TestHandle_EmptyLineIsNoOp(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestService(t, gw)
	assert.False(t, svc.handle(context.Background(), ""))
	assert.False(t, svc.handle(context.Background(), "   "))
}
