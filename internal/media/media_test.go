package media

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatarchiver/internal/gateway"
	"chatarchiver/internal/ratelimit"
)

type fakeGateway struct {
	noopGateway
	downloadFn func(ctx context.Context, descriptor []byte, destPath string) error
	calls      atomic.Int32
}

func (f *fakeGateway) DownloadMedia(ctx context.Context, descriptor []byte, destPath string) error {
	f.calls.Add(1)
	return f.downloadFn(ctx, descriptor, destPath)
}

func TestPipeline_DownloadsAndWritesFile(t *testing.T) {
	dir := t.TempDir()
	gw := &fakeGateway{downloadFn: func(_ context.Context, _ []byte, destPath string) error {
		return os.WriteFile(destPath, []byte("data"), 0o600)
	}}

	p := New(gw, ratelimit.NewController(100), dir, 10, 2)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer cancel()

	require.NoError(t, p.Enqueue(ctx, Ref{DialogID: 1, MessageID: 2, Extension: "jpg"}))

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "media", "1_2.jpg"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	p.Stop()
}

func TestPipeline_DedupSuppressesRepeat(t *testing.T) {
	dir := t.TempDir()
	gw := &fakeGateway{downloadFn: func(_ context.Context, _ []byte, destPath string) error {
		return os.WriteFile(destPath, []byte("data"), 0o600)
	}}

	p := New(gw, ratelimit.NewController(100), dir, 10, 2)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer cancel()

	ref := Ref{DialogID: 5, MessageID: 9}
	require.NoError(t, p.Enqueue(ctx, ref))
	require.NoError(t, p.Enqueue(ctx, ref))

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "media", "5_9"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	p.Stop()
	assert.EqualValues(t, 1, gw.calls.Load())
}

func TestPipeline_PermanentFailureDoesNotPanic(t *testing.T) {
	dir := t.TempDir()
	gw := &fakeGateway{downloadFn: func(_ context.Context, _ []byte, _ string) error {
		return assert.AnError
	}}

	p := New(gw, ratelimit.NewController(1000), dir, 10, 1)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	require.NoError(t, p.Enqueue(ctx, Ref{DialogID: 1, MessageID: 1}))
	time.Sleep(50 * time.Millisecond)
	cancel()
	p.Stop()
}

// noopGateway implements gateway.Gateway with methods this package's tests
// don't exercise, so fakeGateway only has to override DownloadMedia.
type noopGateway struct{}

func (noopGateway) ListDialogs(ctx context.Context) ([]gateway.Dialog, error) { return nil, nil }
func (noopGateway) GetHistory(ctx context.Context, dialogID, minID int64, limit int) ([]gateway.RawMessage, error) {
	return nil, nil
}
func (noopGateway) DownloadMedia(ctx context.Context, mediaDescriptor []byte, destPath string) error {
	return nil
}
func (noopGateway) ResolvePeer(ctx context.Context, peerID int64) error     { return nil }
func (noopGateway) SendSelfMessage(ctx context.Context, text string) error { return nil }
