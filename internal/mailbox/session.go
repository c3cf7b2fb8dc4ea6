package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"github.com/nhle/support-inbox/internal/apperr"
	"github.com/nhle/support-inbox/internal/model"
)

// summaryHeaderFields are the only header fields requested for list views.
var summaryHeaderFields = []string{"From", "To", "Subject", "Date", "Message-Id"}

// RawMessage is what a session returns for one message before decoding.
type RawMessage struct {
	SeqNum       uint32
	UID          uint32
	Flags        []imap.Flag
	InternalDate time.Time

	// Header holds the raw header block. For full fetches it is the
	// whole message, of which only the header block is read.
	Header []byte

	// Body is the complete RFC 5322 message; only set by FetchFull.
	Body []byte

	HasAttachments bool

	// Err is set when this message's data could not be read.
	Err error
}

// Session is one authenticated conversation with a mailbox server.
// Implementations are not safe for concurrent use.
type Session interface {
	Login(ctx context.Context, username, password string) error
	// SelectInbox opens INBOX and returns its message count.
	SelectInbox(ctx context.Context, readOnly bool) (uint32, error)
	// FetchHeaders returns summary data for sequence numbers first..last.
	FetchHeaders(ctx context.Context, first, last uint32) ([]RawMessage, error)
	// FetchFull returns the complete message with the given UID.
	FetchFull(ctx context.Context, uid uint32) (RawMessage, error)
	AddFlags(ctx context.Context, uid uint32, flags ...imap.Flag) error
	// Close logs out and releases the connection.
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, cfg model.ConnectionConfig) (Session, error)
}

// IMAPDialer dials real IMAP servers with go-imap.
type IMAPDialer struct {
	Logger zerolog.Logger
}

// Dial connects to cfg per its encryption mode. The connection inherits
// ctx's deadline and is closed when ctx ends.
func (d *IMAPDialer) Dial(ctx context.Context, cfg model.ConnectionConfig) (Session, error) {
	addr := cfg.Addr()
	tlsConfig := &tls.Config{ServerName: cfg.Host}
	netDialer := &net.Dialer{}

	var (
		conn net.Conn
		err  error
	)
	if cfg.Encryption == model.EncryptionTLS {
		conn, err = (&tls.Dialer{NetDialer: netDialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = conn.SetDeadline(deadline)
	}

	log := d.Logger.With().Str("mailbox", cfg.MailboxID).Logger()
	opts := &imapclient.Options{
		DebugWriter: &IMAPDebugWriter{logger: log},
		TLSConfig:   tlsConfig,
	}

	var c *imapclient.Client
	if cfg.Encryption == model.EncryptionStartTLS {
		c, err = imapclient.NewStartTLS(conn, opts)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("starting TLS with %s: %w", addr, err)
		}
	} else {
		c = imapclient.New(conn, opts)
	}

	s := &imapSession{
		client:      c,
		conn:        conn,
		deadline:    deadline,
		hasDeadline: hasDeadline,
		stop:        make(chan struct{}),
	}
	go s.watch(ctx)
	return s, nil
}

// imapSession adapts *imapclient.Client to Session.
type imapSession struct {
	client      *imapclient.Client
	conn        net.Conn
	deadline    time.Time
	hasDeadline bool
	stop        chan struct{}
	closeOnce   sync.Once
	closeErr    error
}

func (s *imapSession) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.conn.Close()
	case <-s.stop:
	}
}

func (s *imapSession) Login(ctx context.Context, username, password string) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetDeadline(dl)
		defer s.restoreDeadline()
	}
	return s.client.Login(username, password).Wait()
}

func (s *imapSession) restoreDeadline() {
	if s.hasDeadline {
		_ = s.conn.SetDeadline(s.deadline)
		return
	}
	_ = s.conn.SetDeadline(time.Time{})
}

func (s *imapSession) SelectInbox(_ context.Context, readOnly bool) (uint32, error) {
	data, err := s.client.Select("INBOX", &imap.SelectOptions{ReadOnly: readOnly}).Wait()
	if err != nil {
		return 0, fmt.Errorf("selecting INBOX: %w", err)
	}
	return data.NumMessages, nil
}

func (s *imapSession) FetchHeaders(_ context.Context, first, last uint32) ([]RawMessage, error) {
	var seqSet imap.SeqSet
	seqSet.AddRange(first, last)

	section := &imap.FetchItemBodySection{
		Specifier:    imap.PartSpecifierHeader,
		HeaderFields: summaryHeaderFields,
		Peek:         true,
	}
	fetchCmd := s.client.Fetch(seqSet, &imap.FetchOptions{
		UID:           true,
		Flags:         true,
		InternalDate:  true,
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
		BodySection:   []*imap.FetchItemBodySection{section},
	})
	defer fetchCmd.Close()

	var out []RawMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		raw := RawMessage{SeqNum: msg.SeqNum}
		buf, err := msg.Collect()
		if err != nil {
			raw.Err = err
			out = append(out, raw)
			continue
		}
		fillFromBuffer(&raw, buf)
		raw.Header = buf.FindBodySection(section)
		out = append(out, raw)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching headers %d:%d: %w", first, last, err)
	}
	return out, nil
}

func (s *imapSession) FetchFull(_ context.Context, uid uint32) (RawMessage, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:           true,
		Flags:         true,
		InternalDate:  true,
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
		BodySection:   []*imap.FetchItemBodySection{section},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		if err := fetchCmd.Close(); err != nil {
			return RawMessage{}, fmt.Errorf("fetching uid %d: %w", uid, err)
		}
		return RawMessage{}, fmt.Errorf("uid %d: %w", uid, apperr.ErrNotFound)
	}

	buf, err := msg.Collect()
	if err != nil {
		return RawMessage{}, fmt.Errorf("collecting uid %d: %w", uid, err)
	}
	raw := RawMessage{SeqNum: buf.SeqNum}
	fillFromBuffer(&raw, buf)
	raw.Body = buf.FindBodySection(section)
	raw.Header = raw.Body

	if err := fetchCmd.Close(); err != nil {
		return RawMessage{}, fmt.Errorf("closing fetch: %w", err)
	}
	return raw, nil
}

func (s *imapSession) AddFlags(_ context.Context, uid uint32, flags ...imap.Flag) error {
	storeCmd := s.client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  flags,
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("storing flags on uid %d: %w", uid, err)
	}
	return nil
}

func (s *imapSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		_ = s.client.Logout().Wait()
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func fillFromBuffer(raw *RawMessage, buf *imapclient.FetchMessageBuffer) {
	raw.UID = uint32(buf.UID)
	raw.Flags = buf.Flags
	raw.InternalDate = buf.InternalDate
	if buf.BodyStructure != nil {
		raw.HasAttachments = hasAttachment(buf.BodyStructure)
	}
}

// hasAttachment reports whether any part is marked as an attachment.
func hasAttachment(bs imap.BodyStructure) bool {
	found := false
	bs.Walk(func(_ []int, part imap.BodyStructure) bool {
		single, ok := part.(*imap.BodyStructureSinglePart)
		if !ok {
			return true
		}
		if d := single.Disposition(); d != nil && strings.EqualFold(d.Value, "attachment") {
			found = true
		}
		return !found
	})
	return found
}

// IMAPDebugWriter writes IMAP protocol traffic to the logger at trace
// level, redacting credentials.
type IMAPDebugWriter struct {
	logger zerolog.Logger
}

// Write implements io.Writer.
func (w *IMAPDebugWriter) Write(p []byte) (int, error) {
	if w.logger.GetLevel() > zerolog.TraceLevel {
		return len(p), nil
	}
	data := strings.TrimSpace(string(p))
	upper := strings.ToUpper(data)
	if strings.Contains(upper, "LOGIN") || strings.Contains(upper, "AUTHENTICATE") {
		data = "[credentials redacted]"
	}
	w.logger.Trace().Str("imap_data", data).Msg("imap protocol")
	return len(p), nil
}
