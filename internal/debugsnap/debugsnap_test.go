package debugsnap

import (
	"context"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatarchiver/internal/checkpoint"
	"chatarchiver/internal/gateway"
	"chatarchiver/internal/media"
	"chatarchiver/internal/ratelimit"
)

type fakeGateway struct{}

func (fakeGateway) ListDialogs(ctx context.Context) ([]gateway.Dialog, error) { return nil, nil }
func (fakeGateway) GetHistory(ctx context.Context, dialogID, minID int64, limit int) ([]gateway.RawMessage, error) {
	return nil, nil
}
func (fakeGateway) DownloadMedia(ctx context.Context, descriptor []byte, destPath string) error {
	return nil
}
func (fakeGateway) ResolvePeer(ctx context.Context, peerID int64) error      { return nil }
func (fakeGateway) SendSelfMessage(ctx context.Context, text string) error { return nil }

func TestWatcher_DumpDoesNotPanicOnSignal(t *testing.T) {
	cp, err := checkpoint.Load(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	require.NoError(t, cp.Put(1, 42))

	pipeline := media.New(fakeGateway{}, ratelimit.NewController(1000), t.TempDir(), 10, 1)
	pipeline.Start(context.Background())
	defer pipeline.Stop()

	w := New(cp, pipeline)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	time.Sleep(50 * time.Millisecond)
}
