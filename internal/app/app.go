// Package app is the top-level assembly of the chat archival engine: it
// wires the gateway client, entity registry, message store, checkpoint
// store, media pipeline, sync service, watcher and CLI into one
// lifecycle-managed process. Component construction lives here; the
// actual start/stop ordering and graceful shutdown are delegated to
// Runner, mirroring the teacher's App/Runner split.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"chatarchiver/internal/checkpoint"
	"chatarchiver/internal/cli"
	"chatarchiver/internal/debugsnap"
	"chatarchiver/internal/entityregistry"
	"chatarchiver/internal/gateway"
	"chatarchiver/internal/gateway/gotdgw"
	"chatarchiver/internal/infra/config"
	"chatarchiver/internal/infra/logger"
	"chatarchiver/internal/media"
	"chatarchiver/internal/ratelimit"
	"chatarchiver/internal/store"
	"chatarchiver/internal/syncsvc"
	"chatarchiver/internal/watcher"
)

// App aggregates every long-lived collaborator the engine needs and
// hands them to a Runner for orchestrated startup/shutdown.
type App struct {
	client   *gotdgw.Client
	registry *entityregistry.Service
	gw       gateway.Gateway

	store      *store.Store
	checkpoint *checkpoint.Store
	limiter    *ratelimit.Controller
	pipeline   *media.Pipeline
	sync       *syncsvc.Service
	watcher    *watcher.Watcher
	debug      *debugsnap.Watcher
	cliService *cli.Service

	runner *Runner

	ctx  context.Context
	stop context.CancelFunc
}

// NewApp returns an empty App shell. Init performs the actual wiring.
func NewApp() *App {
	return &App{}
}

// Init builds every collaborator in dependency order:
//  1. the gotd-backed gateway client and its entity registry,
//  2. the message store and checkpoint store (both pure filesystem/SQLite,
//     no network dependency, safe to open before login),
//  3. the rate-limit controller and media pipeline,
//  4. the sync service and watcher built on top of those,
//  5. the interactive CLI and debug-snapshot signal handler.
//
// Init does not start anything network-bound; that happens once Runner
// has logged in, since entityregistry.New needs a live *tg.Client to bind
// peers.Manager against but performs no RPCs itself.
func (a *App) Init(ctx context.Context, stop context.CancelFunc) error {
	logger.Info("chatarchiver initializing...")

	a.ctx = ctx
	a.stop = stop

	env := config.Env()

	if err := os.MkdirAll(env.DataDir, 0o755); err != nil {
		return fmt.Errorf("ensure data dir %s: %w", env.DataDir, err)
	}

	a.client = gotdgw.NewClient(env.SessionPath)

	registry, err := entityregistry.New(a.client.API(), filepath.Join(env.DataDir, "entities.db"))
	if err != nil {
		return fmt.Errorf("init entity registry: %w", err)
	}
	a.registry = registry

	adapter := gotdgw.NewAdapter(a.client, a.registry)
	a.gw = adapter

	messageStore, err := store.Open(filepath.Join(env.DataDir, "messages.db"))
	if err != nil {
		return fmt.Errorf("open message store: %w", err)
	}
	a.store = messageStore

	cp, err := checkpoint.Load(filepath.Join(env.DataDir, "state.json"))
	if err != nil {
		return fmt.Errorf("load checkpoint store: %w", err)
	}
	a.checkpoint = cp

	a.limiter = ratelimit.NewController(env.ThrottleRPS)
	a.pipeline = media.New(a.gw, a.limiter, env.DataDir, env.MediaQueueSize, env.MediaParallelism)

	a.sync = syncsvc.New(a.gw, a.store, a.checkpoint, a.pipeline, a.limiter, env.SyncDelayMS, env.ExportDelayMS)

	if len(env.WatcherTargetDialogs) > 0 {
		a.watcher = watcher.New(a.sync, a.store, a.checkpoint, a.gw,
			env.WatcherTargetDialogs, env.WatcherKeywords, time.Duration(env.WatcherCycleSecs)*time.Second)
	}

	a.debug = debugsnap.New(a.checkpoint, a.pipeline)

	a.cliService = cli.NewService(a.gw, a.store, a.sync, a.watcher, a.stop)

	a.runner = NewRunner(a.ctx, a.stop, a.client, a.registry, a.pipeline, a.watcher, a.debug, a.cliService)

	return nil
}

// Run hands off to the Runner, which drives login and the service
// lifecycle. Blocks until shutdown.
func (a *App) Run() error {
	return a.runner.Run()
}

// Close releases resources Init opened that Runner's shutdown path does
// not already own (the SQLite handle and the bbolt entity cache).
func (a *App) Close() error {
	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
