// Package app's runner.go is the orchestration point: it drives the gotd
// connection loop, performs login, and starts/stops every collaborator
// App.Init built through an internal/infra/lifecycle.Manager so shutdown
// always runs in the reverse of start order. Grounded on the teacher's
// Runner, which did the same job for the notification queue, CLI and
// update dispatcher.
package app

import (
	"context"

	"chatarchiver/internal/cli"
	"chatarchiver/internal/debugsnap"
	"chatarchiver/internal/entityregistry"
	"chatarchiver/internal/gateway/gotdgw"
	"chatarchiver/internal/infra/lifecycle"
	"chatarchiver/internal/infra/logger"
	"chatarchiver/internal/media"
	"chatarchiver/internal/watcher"
)

// Runner owns the collaborators that need a live MTProto connection to
// start (the entity registry's dialog warmup, the CLI, the watcher) and
// sequences their startup/shutdown through a lifecycle.Manager.
type Runner struct {
	client   *gotdgw.Client
	registry *entityregistry.Service
	pipeline *media.Pipeline
	watcher  *watcher.Watcher
	debug    *debugsnap.Watcher
	cli      *cli.Service

	mainCtx    context.Context
	mainCancel context.CancelFunc

	lc *lifecycle.Manager
}

// NewRunner builds a Runner over the collaborators App.Init constructed.
func NewRunner(
	mainCtx context.Context,
	mainCancel context.CancelFunc,
	client *gotdgw.Client,
	registry *entityregistry.Service,
	pipeline *media.Pipeline,
	w *watcher.Watcher,
	debug *debugsnap.Watcher,
	cliService *cli.Service,
) *Runner {
	return &Runner{
		client:     client,
		registry:   registry,
		pipeline:   pipeline,
		watcher:    w,
		debug:      debug,
		cli:        cliService,
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
	}
}

// Run drives the MTProto connection loop. Once logged in, it loads the
// entity registry's persisted peer cache, starts every service through a
// lifecycle.Manager, and blocks until mainCtx is cancelled (Ctrl-C, the
// CLI's exit command, or --max-runtime). Shutdown tears services down in
// reverse start order before the MTProto loop itself exits.
func (r *Runner) Run() error {
	shutdownDone := make(chan struct{})

	return r.client.Run(r.mainCtx, func(ctx context.Context) error {
		logger.Info("chatarchiver running...")

		if err := r.registry.LoadFromStorage(ctx); err != nil {
			logger.Warnf("failed to load entity registry from storage: %v", err)
		}

		r.lc = lifecycle.New(ctx)
		if err := r.registerServices(); err != nil {
			return err
		}
		if err := r.lc.StartAll(); err != nil {
			return err
		}

		go func() {
			<-r.mainCtx.Done()
			logger.Debug("shutdown signal received, stopping runner...")
			if err := r.lc.Shutdown(); err != nil {
				logger.Errorf("shutdown: %v", err)
			}
			close(shutdownDone)
		}()

		<-ctx.Done()
		<-shutdownDone
		return ctx.Err()
	})
}

// registerServices registers every long-running collaborator as a
// lifecycle node. Dependencies are expressed via deps so the media
// pipeline is always running before the sync service enqueues to it, and
// the sync service is running before the watcher drives it.
func (r *Runner) registerServices() error {
	if err := r.lc.Register("media_pipeline", "", nil,
		func(ctx context.Context) (context.Context, error) {
			r.pipeline.Start(ctx)
			return nil, nil
		},
		func(ctx context.Context) error {
			r.pipeline.Stop()
			return nil
		},
	); err != nil {
		return err
	}

	if r.watcher != nil {
		if err := r.lc.Register("watcher", "", []string{"media_pipeline"},
			func(ctx context.Context) (context.Context, error) {
				go r.watcher.Run(ctx)
				return nil, nil
			},
			nil,
		); err != nil {
			return err
		}
	}

	if err := r.lc.Register("debug_snapshot", "", nil,
		func(ctx context.Context) (context.Context, error) {
			r.debug.Start(ctx)
			return nil, nil
		},
		func(ctx context.Context) error {
			r.debug.Stop()
			return nil
		},
	); err != nil {
		return err
	}

	if err := r.lc.Register("cli", "", []string{"media_pipeline"},
		func(ctx context.Context) (context.Context, error) {
			r.cli.Start(ctx)
			return nil, nil
		},
		func(ctx context.Context) error {
			r.cli.Stop()
			return nil
		},
	); err != nil {
		return err
	}

	return nil
}
