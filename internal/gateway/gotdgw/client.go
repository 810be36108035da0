// Package gotdgw is the sole concrete adapter for internal/gateway.Gateway,
// built on github.com/gotd/td. It owns MTProto client construction,
// interactive login, and translation of gotd's error surface into the
// tagged errors in internal/errs.
package gotdgw

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"chatarchiver/internal/errs"
	"chatarchiver/internal/infra/config"
	"chatarchiver/internal/infra/logger"
	telegramauth "chatarchiver/internal/telegram/auth"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// Client is the gotd-backed Gateway implementation. It is constructed once
// per process and driven entirely from within Run, since telegram.Client's
// API is only valid while its connection loop is executing.
type Client struct {
	tg      *telegram.Client
	api     *tg.Client
	tracker *ConnTracker
	session *FileSessionStorage

	selfID int64
}

// NewClient builds a Client with the engine's session storage and device
// passport, grounded on the Device/DCList fields the teacher sets in
// telegram.Options. The returned Client is not yet connected; call Run to
// start the MTProto loop and log in.
func NewClient(sessionPath string) *Client {
	session := &FileSessionStorage{Path: sessionPath}

	options := telegram.Options{
		SessionStorage: session,
		Device: telegram.DeviceConfig{
			DeviceModel:   "chatarchiver",
			SystemVersion: "linux",
			AppVersion:    "v1.0.0",
		},
	}

	c := &Client{session: session}
	options.OnDead = func() {
		if c.tracker != nil {
			c.tracker.MarkDisconnected()
		}
	}

	c.tg = telegram.NewClient(config.Env().APIID, config.Env().APIHash, options)
	c.api = c.tg.API()
	c.tracker = NewConnTracker(context.Background(), c.tg)
	session.OnStore = c.tracker.MarkConnected

	return c
}

// Run drives the MTProto connection loop, performs interactive login if
// necessary, and invokes fn once authorized. Run blocks until fn returns,
// the context is cancelled, or the connection loop exits with an error.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.tg.Run(ctx, func(ctx context.Context) error {
		self, err := c.login(ctx)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		c.selfID = self.ID

		logger.Logger().Info("logged in",
			zap.String("first_name", self.FirstName),
			zap.String("username", self.Username),
			zap.Int64("id", self.ID),
		)

		return fn(ctx)
	})
}

// API exposes the raw tg.Client binding for collaborators constructed
// outside this package (the entity registry, primarily) that need direct
// RPC access alongside the Gateway's higher-level operations.
func (c *Client) API() *tg.Client {
	return c.api
}

// SelfID returns the authenticated user's ID, valid only once Run's
// callback has started (after login completes).
func (c *Client) SelfID() int64 {
	return c.selfID
}

func (c *Client) login(ctx context.Context) (*tg.User, error) {
	flow := auth.NewFlow(
		telegramauth.TerminalAuthenticator{PhoneNumber: config.Env().PhoneNumber},
		auth.SendCodeOptions{},
	)

	if err := c.tg.Auth().IfNecessary(ctx, flow); err != nil {
		return nil, errors.Wrap(err, "auth")
	}

	return c.tg.Self(ctx)
}

// translateErr normalizes gotd's RPC error surface into the engine's
// tagged error taxonomy. FLOOD_WAIT errors become *errs.FloodWaitError;
// anything that looks like a dead connection is routed through the
// connection tracker so WaitOnline callers unblock on recovery.
func (c *Client) translateErr(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &errs.FloodWaitError{Seconds: int(wait.Seconds())}
	}
	c.tracker.HandleError(err)
	return fmt.Errorf("%w: %v", errs.ErrGatewayTransport, err)
}
