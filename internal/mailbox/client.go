// Package mailbox fetches messages from remote IMAP mailboxes. Each call
// opens its own session, and sessions against the same mailbox never
// overlap.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rs/zerolog"

	"github.com/nhle/support-inbox/internal/apperr"
	"github.com/nhle/support-inbox/internal/mailcodec"
	"github.com/nhle/support-inbox/internal/model"
)

// DefaultWindowSize is used when a caller passes a non-positive window.
const DefaultWindowSize = 20

// Options configures a Client.
type Options struct {
	// AuthTimeout bounds the login exchange.
	AuthTimeout time.Duration
	// ConnectTimeout bounds a whole session, from dial to logout.
	ConnectTimeout time.Duration
}

// Client runs mailbox sessions.
type Client struct {
	dialer Dialer
	opts   Options
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewClient creates a Client. A nil dialer dials real IMAP servers.
func NewClient(dialer Dialer, opts Options, logger zerolog.Logger) *Client {
	logger = logger.With().Str("component", "mailbox").Logger()
	if dialer == nil {
		dialer = &IMAPDialer{Logger: logger}
	}
	return &Client{
		dialer: dialer,
		opts:   opts,
		logger: logger,
		locks:  make(map[string]chan struct{}),
	}
}

// FetchRecent returns summaries of the newest window messages in INBOX,
// newest first. Only header fields and flags are fetched. A message that
// cannot be decoded is logged and skipped.
func (c *Client) FetchRecent(
	ctx context.Context,
	cfg model.ConnectionConfig,
	window int,
) ([]model.MessageSummary, error) {
	if window <= 0 {
		window = DefaultWindowSize
	}
	log := c.logger.With().Str("mailbox", cfg.MailboxID).Logger()

	var out []model.MessageSummary
	err := c.withSession(ctx, cfg, true, func(ctx context.Context, s Session, total uint32) error {
		if total == 0 {
			return nil
		}
		first := uint32(1)
		if total > uint32(window) {
			first = total - uint32(window) + 1
		}

		raws, err := s.FetchHeaders(ctx, first, total)
		if err != nil {
			return &apperr.ConnectionError{MailboxID: cfg.MailboxID, Op: "fetch headers", Err: err}
		}

		out = make([]model.MessageSummary, 0, len(raws))
		for _, raw := range raws {
			m, err := summaryFromRaw(cfg.MailboxID, raw)
			if err != nil {
				perr := &apperr.ParseError{MailboxID: cfg.MailboxID, UID: raw.UID, Err: err}
				log.Warn().Err(perr).Uint32("seq", raw.SeqNum).Msg("skipping message")
				continue
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortNewestFirst(out)
	log.Debug().Int("count", len(out)).Int("window", window).Msg("fetched recent messages")
	return out, nil
}

// FetchMessage fetches one complete message by UID and decodes its body.
func (c *Client) FetchMessage(
	ctx context.Context,
	cfg model.ConnectionConfig,
	uid uint32,
) (*model.MessageDetail, error) {
	var detail *model.MessageDetail
	err := c.withSession(ctx, cfg, true, func(ctx context.Context, s Session, _ uint32) error {
		raw, err := s.FetchFull(ctx, uid)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return fmt.Errorf("message %s: %w", model.MessageID(cfg.MailboxID, uid), apperr.ErrNotFound)
			}
			return &apperr.ConnectionError{MailboxID: cfg.MailboxID, Op: "fetch message", Err: err}
		}

		summary, err := summaryFromRaw(cfg.MailboxID, raw)
		if err != nil {
			return &apperr.ParseError{MailboxID: cfg.MailboxID, UID: uid, Err: err}
		}

		body := mailcodec.ParseFullMessage(raw.Body)
		detail = &model.MessageDetail{
			MessageSummary: summary,
			Body:           body.Readable(),
			HTMLBody:       body.HTML,
			Attachments:    body.Attachments,
		}
		if len(body.Attachments) > 0 {
			detail.HasAttachments = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// MarkSeen sets \Seen on the message with the given UID.
func (c *Client) MarkSeen(ctx context.Context, cfg model.ConnectionConfig, uid uint32) error {
	return c.withSession(ctx, cfg, false, func(ctx context.Context, s Session, _ uint32) error {
		if err := s.AddFlags(ctx, uid, imap.FlagSeen); err != nil {
			return &apperr.ConnectionError{MailboxID: cfg.MailboxID, Op: "store flags", Err: err}
		}
		return nil
	})
}

// withSession runs fn inside one exclusive, authenticated session with
// INBOX selected. The session is always closed before returning, and a
// session cut short by ctx yields an error rather than partial results.
func (c *Client) withSession(
	ctx context.Context,
	cfg model.ConnectionConfig,
	readOnly bool,
	fn func(ctx context.Context, s Session, total uint32) error,
) error {
	release, err := c.lockMailbox(ctx, cfg.MailboxID)
	if err != nil {
		return &apperr.ConnectionError{MailboxID: cfg.MailboxID, Op: "wait for session", Err: err}
	}
	defer release()

	if c.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancel()
	}

	log := c.logger.With().Str("mailbox", cfg.MailboxID).Logger()

	s, err := c.dialer.Dial(ctx, cfg)
	if err != nil {
		return &apperr.ConnectionError{MailboxID: cfg.MailboxID, Op: "connect", Err: err}
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Debug().Err(err).Msg("closing session")
		}
	}()

	if err := c.login(ctx, s, cfg); err != nil {
		return err
	}

	total, err := s.SelectInbox(ctx, readOnly)
	if err != nil {
		return &apperr.ConnectionError{MailboxID: cfg.MailboxID, Op: "select", Err: err}
	}

	if err := fn(ctx, s, total); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &apperr.ConnectionError{MailboxID: cfg.MailboxID, Op: "session", Err: err}
	}
	return nil
}

func (c *Client) login(ctx context.Context, s Session, cfg model.ConnectionConfig) error {
	loginCtx := ctx
	if c.opts.AuthTimeout > 0 {
		var cancel context.CancelFunc
		loginCtx, cancel = context.WithTimeout(ctx, c.opts.AuthTimeout)
		defer cancel()
	}

	err := s.Login(loginCtx, cfg.Username, cfg.Secret)
	if err == nil {
		return nil
	}

	var imapErr *imap.Error
	switch {
	case loginCtx.Err() != nil:
		return &apperr.ConnectionError{
			MailboxID: cfg.MailboxID,
			Op:        "authenticate",
			Err:       fmt.Errorf("%w: %v", loginCtx.Err(), err),
		}
	case errors.As(err, &imapErr):
		return &apperr.AuthenticationError{MailboxID: cfg.MailboxID, Username: cfg.Username, Err: err}
	default:
		return &apperr.ConnectionError{MailboxID: cfg.MailboxID, Op: "authenticate", Err: err}
	}
}

// lockMailbox serializes sessions per mailbox id.
func (c *Client) lockMailbox(ctx context.Context, mailboxID string) (func(), error) {
	c.mu.Lock()
	sem, ok := c.locks[mailboxID]
	if !ok {
		sem = make(chan struct{}, 1)
		c.locks[mailboxID] = sem
	}
	c.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
