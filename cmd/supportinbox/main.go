package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/nhle/support-inbox/internal/app"
	"github.com/nhle/support-inbox/internal/credential"
	"github.com/nhle/support-inbox/internal/events"
	"github.com/nhle/support-inbox/internal/inbox"
	"github.com/nhle/support-inbox/internal/logging"
	"github.com/nhle/support-inbox/internal/mailbox"
	"github.com/nhle/support-inbox/internal/model"
	"github.com/nhle/support-inbox/internal/status"
	"github.com/nhle/support-inbox/internal/store"
	appsync "github.com/nhle/support-inbox/internal/sync"
)

var (
	configPath string
	fetchOnce  bool
	setStatus  string
	demo       bool
)

func main() {
	_ = godotenv.Load()

	flag.StringVar(&configPath, "config", model.DefaultConfigPath(), "path to the YAML config file")
	flag.BoolVar(&fetchOnce, "fetch", false, "run one ingestion cycle and print the inbox as JSON")
	flag.StringVar(&setStatus, "set-status", "", "set a message status: id=status[:label]")
	flag.BoolVar(&demo, "demo", false, "use built-in demo messages instead of configured mailboxes")
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "supportinbox:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	interactive := !fetchOnce && setStatus == ""
	var logOut io.Writer = os.Stderr
	if interactive && cfg.Log.File == "" {
		// The TUI owns the terminal.
		logOut = io.Discard
	}
	logger, closer, err := logging.New(cfg.Log, logOut)
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := wire(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case fetchOnce:
		return a.fetch(ctx, os.Stdout)
	case setStatus != "":
		return a.setStatus(ctx, setStatus, os.Stdout)
	}

	a.poller.Start()
	defer a.poller.Stop()

	deps := app.Deps{Service: a.service, Notifications: a.store, Bus: a.bus}
	if len(a.mailboxes) > 0 {
		deps.Syncer = a.poller
	}
	p := tea.NewProgram(app.New(deps), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// application holds the wired components.
type application struct {
	store     *store.SQLiteStore
	inbox     *store.Inbox
	bus       *events.Bus
	poller    *appsync.Poller
	service   *inbox.Service
	mailboxes []model.ConnectionConfig
	logger    zerolog.Logger
}

func wire(cfg *model.AppConfig, logger zerolog.Logger) (*application, error) {
	dbPath := cfg.Storage.DBPath
	if dbPath == "" {
		dbPath = model.DefaultDBPath()
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, err
	}

	a := &application{
		store:  st,
		bus:    events.NewBus(),
		logger: logger,
	}

	var configured []model.MailboxConfig
	if !demo {
		configured, err = resolveMailboxes(cfg.EnabledMailboxes(), logger)
		if err != nil {
			st.Close()
			return nil, err
		}
	}
	if len(configured) == 0 {
		logger.Info().Msg("no mailbox configured, using demo messages")
		a.inbox = store.NewInbox(store.DemoSeed(time.Now())...)
		restoreDemoStatuses(a.inbox, st, logger)
	} else {
		a.inbox = store.NewInbox()
	}

	client := mailbox.NewClient(nil, mailbox.Options{
		AuthTimeout:    cfg.Sync.AuthTimeout(),
		ConnectTimeout: cfg.Sync.ConnectTimeout(),
	}, logger)

	a.poller = appsync.New(client, a.inbox, st, a.bus, appsync.Options{
		WindowSize:   cfg.Sync.WindowSize,
		FetchTimeout: cfg.Sync.FetchTimeout(),
	}, logger)
	for _, mb := range configured {
		if err := a.poller.RegisterMailbox(mb); err != nil {
			st.Close()
			return nil, err
		}
		conn, _ := mb.Connection()
		a.mailboxes = append(a.mailboxes, conn)
	}

	engine := status.NewEngine(a.inbox, st, a.bus, a.poller, logger)
	a.service = inbox.NewService(inbox.Config{
		Inbox:     a.inbox,
		Engine:    engine,
		Source:    client,
		Sync:      a.poller,
		Mailboxes: a.mailboxes,
		Logger:    logger,
	})
	return a, nil
}

// resolveMailboxes fills in keyring secrets. A mailbox without a secret
// is skipped with a warning.
func resolveMailboxes(mailboxes []model.MailboxConfig, logger zerolog.Logger) ([]model.MailboxConfig, error) {
	if len(mailboxes) == 0 {
		return nil, nil
	}

	ring, err := credential.Open()
	if err != nil {
		logger.Warn().Err(err).Msg("keyring unavailable")
	}

	out := make([]model.MailboxConfig, 0, len(mailboxes))
	for _, mb := range mailboxes {
		resolved, err := credential.ResolveSecret(ring, mb)
		if errors.Is(err, credential.ErrNoSecret) {
			logger.Warn().Str("mailbox", mb.ID).Msg("no secret configured, mailbox skipped")
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

// restoreDemoStatuses applies statuses saved in earlier demo runs.
func restoreDemoStatuses(in *store.Inbox, st store.StatusStore, logger zerolog.Logger) {
	recs, err := st.LoadStatuses(context.Background(), store.DemoMailboxID)
	if err != nil {
		logger.Warn().Err(err).Msg("loading demo statuses")
		return
	}
	for id, rec := range recs {
		_, _ = in.Patch(id, func(m *model.MessageSummary) {
			m.Status = rec.Status
			m.Labels = rec.Labels
		})
	}
}

func (a *application) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("closing store")
	}
}

// fetch runs one ingestion cycle and writes the inbox view as JSON. The
// view is written even when some mailboxes failed.
func (a *application) fetch(ctx context.Context, w io.Writer) error {
	syncErr := a.poller.SyncOnce(ctx)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(newInboxOutput(a.service.ListInbox())); err != nil {
		return err
	}
	return syncErr
}

func (a *application) setStatus(ctx context.Context, arg string, w io.Writer) error {
	id, next, label, err := parseStatusArg(arg)
	if err != nil {
		return err
	}
	if err := a.poller.SyncOnce(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("ingestion incomplete")
	}

	s, err := a.service.SetStatus(ctx, id, next, label)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s %s %v\n", s.ID, s.Status, s.Labels)
	return err
}
