// Package telegram implements source.Client over MTProto using gotd.
//
// One Client owns one authenticated session. RPCs and update delivery only
// work inside Run. Resolve caches channel metadata so update handlers can map
// numeric channel IDs back to refs without network calls.
package telegram

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/source"
)

// Client adapts gotd history pages and updates to the collector's types.
type Client struct {
	cfg    config.CollectorConfig
	logger *slog.Logger

	client *telegram.Client
	api    *tg.Client

	events source.Events

	byRef *xsync.MapOf[string, *models.ChannelMeta]
	byID  *xsync.MapOf[int64, *models.ChannelMeta]
}

var _ source.Client = (*Client)(nil)

// New builds a client from collector settings. The session file is created on
// first login and reused afterwards.
func New(cfg config.CollectorConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		logger: logger.With("component", "telegram"),
		byRef:  xsync.NewMapOf[string, *models.ChannelMeta](),
		byID:   xsync.NewMapOf[int64, *models.ChannelMeta](),
	}

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(c.onNewMessage)
	dispatcher.OnEditChannelMessage(c.onEditMessage)
	dispatcher.OnDeleteChannelMessages(c.onDeleteMessages)

	c.client = telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionFile},
		UpdateHandler:  dispatcher,
	})
	c.api = c.client.API()
	return c
}

// Subscribe registers the event callbacks. Call before Run.
func (c *Client) Subscribe(events source.Events) {
	c.events = events
}

// Run connects, logs in if the session is fresh, and keeps the connection up
// while f executes.
func (c *Client) Run(ctx context.Context, f func(ctx context.Context) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		if err := c.ensureAuth(ctx); err != nil {
			return err
		}
		return f(ctx)
	})
}

func (c *Client) ensureAuth(ctx context.Context) error {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	if status.Authorized {
		return nil
	}
	if c.cfg.Phone == "" {
		return fmt.Errorf("session %q not authorized and TELEGRAM_PHONE is unset", c.cfg.SessionFile)
	}
	flow := auth.NewFlow(
		auth.Constant(c.cfg.Phone, c.cfg.Password, auth.CodeAuthenticatorFunc(promptCode)),
		auth.SendCodeOptions{},
	)
	if err := c.client.Auth().IfNecessary(ctx, flow); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	self, err := c.client.Self(ctx)
	if err != nil {
		return fmt.Errorf("self after login: %w", err)
	}
	c.logger.Info("logged in", "user_id", self.ID)
	return nil
}

// promptCode reads the login code from stdin. Interactive login happens once
// per session file; afterwards the stored authorization is reused.
func promptCode(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	fmt.Fprint(os.Stderr, "telegram login code: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(code), nil
}
