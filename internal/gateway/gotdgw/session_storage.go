package gotdgw

// FileSessionStorage wraps tdsession.Storage over a plain file and
// optionally notifies a connection tracker that the session is fresh, so
// callers blocked in ConnTracker.WaitOnline wake up once a store succeeds.
// Thread-safe: Load/Store are mutex-guarded. Path is the session file.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"chatarchiver/internal/infra/logger"
	"chatarchiver/internal/infra/storage"

	tdsession "github.com/gotd/td/session"
)

// FileSessionStorage implements tdsession.Storage over a regular file with
// crash-safe atomic writes.
type FileSessionStorage struct {
	Path string
	// OnStore, if set, is invoked after every successful StoreSession —
	// used to mark the connection tracker online.
	OnStore func()

	mux sync.Mutex
}

var _ tdsession.Storage = (*FileSessionStorage)(nil)

// LoadSession reads the session file from disk.
func (f *FileSessionStorage) LoadSession(_ context.Context) ([]byte, error) {
	if f == nil {
		return nil, errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return data, nil
}

// StoreSession atomically persists session data and notifies OnStore.
func (f *FileSessionStorage) StoreSession(_ context.Context, data []byte) error {
	if f == nil {
		return errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	if err := storage.AtomicWriteFile(f.Path, data); err != nil {
		return fmt.Errorf("atomic write session: %w", err)
	}

	logger.Debug("StoreSession: session persisted")
	if f.OnStore != nil {
		f.OnStore()
	}
	return nil
}
