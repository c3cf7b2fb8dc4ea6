package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/support-inbox/internal/apperr"
	"github.com/nhle/support-inbox/internal/events"
	"github.com/nhle/support-inbox/internal/model"
	"github.com/nhle/support-inbox/internal/store"
)

// SyncState represents the current state of a mailbox ingestion.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "idle"
	}
}

// SyncStatus holds the ingestion state for a single mailbox.
type SyncStatus struct {
	MailboxID string
	Name      string
	State     SyncState
	LastSync  time.Time
	Error     error
}

// Stale reports whether the mailbox's records may be out of date because
// the last cycle failed.
func (s SyncStatus) Stale() bool {
	return s.State == SyncError
}

// Fetcher retrieves the newest summaries of a mailbox. *mailbox.Client
// satisfies it.
type Fetcher interface {
	FetchRecent(ctx context.Context, cfg model.ConnectionConfig, window int) ([]model.MessageSummary, error)
}

// Options tunes the poller.
type Options struct {
	WindowSize   int
	FetchTimeout time.Duration
	// DefaultInterval applies to mailboxes without a poll interval.
	DefaultInterval time.Duration
}

const (
	defaultFetchTimeout = 90 * time.Second
	defaultInterval     = 120 * time.Second
)

// mailboxEntry holds a registered mailbox and its configuration.
type mailboxEntry struct {
	cfg     model.MailboxConfig
	conn    model.ConnectionConfig
	trigger chan struct{}
	// running serializes ingestion cycles of this mailbox.
	running gosync.Mutex
}

// Poller orchestrates background ingestion of registered mailboxes.
type Poller struct {
	fetcher Fetcher
	inbox   *store.Inbox
	store   store.Store
	bus     *events.Bus
	logger  zerolog.Logger
	opts    Options

	mailboxes []*mailboxEntry
	byID      map[string]*mailboxEntry
	statuses  map[string]*SyncStatus
	stopCh    chan struct{}
	wg        gosync.WaitGroup
	mu        gosync.Mutex
	running   bool
}

// New creates a new Poller. st may be nil, in which case persisted
// statuses and notifications are skipped.
func New(
	fetcher Fetcher,
	inbox *store.Inbox,
	st store.Store,
	bus *events.Bus,
	opts Options,
	logger zerolog.Logger,
) *Poller {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = defaultInterval
	}
	return &Poller{
		fetcher:  fetcher,
		inbox:    inbox,
		store:    st,
		bus:      bus,
		logger:   logger.With().Str("component", "sync").Logger(),
		opts:     opts,
		byID:     make(map[string]*mailboxEntry),
		statuses: make(map[string]*SyncStatus),
		stopCh:   make(chan struct{}),
	}
}

// RegisterMailbox adds a mailbox to the poller.
func (p *Poller) RegisterMailbox(cfg model.MailboxConfig) error {
	conn, err := cfg.Connection()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.byID[cfg.ID]; dup {
		return fmt.Errorf("mailbox %s registered twice", cfg.ID)
	}
	entry := &mailboxEntry{
		cfg:     cfg,
		conn:    conn,
		trigger: make(chan struct{}, 1),
	}
	p.mailboxes = append(p.mailboxes, entry)
	p.byID[cfg.ID] = entry
	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}
	p.statuses[cfg.ID] = &SyncStatus{MailboxID: cfg.ID, Name: name, State: SyncIdle}
	return nil
}

// Start launches one polling goroutine per registered mailbox. Each does an
// initial fetch immediately.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	for _, entry := range p.mailboxes {
		p.wg.Add(1)
		go p.pollMailbox(entry)
	}
}

// Stop halts all polling goroutines and waits for them to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
}

// Refresh asks for an immediate ingestion of one mailbox. Requests made
// while one is already pending are coalesced.
func (p *Poller) Refresh(mailboxID string) {
	p.mu.Lock()
	entry := p.byID[mailboxID]
	p.mu.Unlock()
	if entry == nil {
		return
	}

	select {
	case entry.trigger <- struct{}{}:
	default:
	}
}

// RefreshAll asks for an immediate ingestion of every mailbox.
func (p *Poller) RefreshAll() {
	for _, id := range p.mailboxIDs() {
		p.Refresh(id)
	}
}

// SyncOnce runs one ingestion cycle of every mailbox concurrently and
// waits for all of them. A failing mailbox does not stop the others; the
// first error is returned.
func (p *Poller) SyncOnce(ctx context.Context) error {
	p.mu.Lock()
	entries := make([]*mailboxEntry, len(p.mailboxes))
	copy(entries, p.mailboxes)
	p.mu.Unlock()

	var g errgroup.Group
	for _, entry := range entries {
		g.Go(func() error {
			return p.ingest(ctx, entry)
		})
	}
	return g.Wait()
}

// GetStatuses returns the current sync status of all registered mailboxes
// in registration order.
func (p *Poller) GetStatuses() []SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]SyncStatus, 0, len(p.mailboxes))
	for _, entry := range p.mailboxes {
		statuses = append(statuses, *p.statuses[entry.cfg.ID])
	}
	return statuses
}

func (p *Poller) mailboxIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.mailboxes))
	for _, entry := range p.mailboxes {
		ids = append(ids, entry.cfg.ID)
	}
	return ids
}

// pollMailbox runs the polling loop for a single mailbox.
func (p *Poller) pollMailbox(entry *mailboxEntry) {
	defer p.wg.Done()

	interval := time.Duration(entry.cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = p.opts.DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-p.stopCh
		cancel()
	}()

	_ = p.ingest(ctx, entry)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			_ = p.ingest(ctx, entry)
		case <-entry.trigger:
			_ = p.ingest(ctx, entry)
		}
	}
}

// ingest performs a single fetch cycle for one mailbox: fetch, overlay the
// persisted statuses, swap the mailbox's partition of the inbox, record
// notifications for new messages and publish the outcome. On failure the
// previous records stay in place.
func (p *Poller) ingest(ctx context.Context, entry *mailboxEntry) error {
	entry.running.Lock()
	defer entry.running.Unlock()

	id := entry.cfg.ID
	log := p.logger.With().Str("mailbox", id).Logger()
	p.setStatus(id, SyncRunning, nil)

	ctx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	defer cancel()

	msgs, err := p.fetcher.FetchRecent(ctx, entry.conn, p.opts.WindowSize)
	if err != nil {
		if apperr.IsAuthError(err) {
			log.Error().Err(err).Msg("mailbox rejected credentials")
		} else {
			log.Warn().Err(err).Msg("ingestion failed, keeping previous records")
		}
		p.setStatus(id, SyncError, err)
		p.bus.Publish(events.IngestionCompleted{MailboxID: id, Err: err})
		return err
	}

	p.overlayStatuses(ctx, id, msgs)
	added := p.inbox.ReplaceMailbox(id, msgs)
	p.notify(ctx, entry, msgs, added)

	p.setStatus(id, SyncIdle, nil)
	log.Info().Int("count", len(msgs)).Int("new", len(added)).Msg("mailbox ingested")
	p.bus.Publish(events.IngestionCompleted{MailboxID: id, Count: len(msgs), NewIDs: added})
	return nil
}

// overlayStatuses replaces the read-state heuristic, which only seeds
// messages seen for the first time. A message already in the inbox keeps
// its current status; otherwise an explicit status recorded by the backend
// wins.
func (p *Poller) overlayStatuses(ctx context.Context, mailboxID string, msgs []model.MessageSummary) {
	var recs map[string]model.StatusRecord
	if p.store != nil {
		var err error
		recs, err = p.store.LoadStatuses(ctx, mailboxID)
		if err != nil {
			p.logger.Warn().Err(err).Str("mailbox", mailboxID).Msg("loading statuses")
		}
	}
	for i := range msgs {
		if cur, err := p.inbox.Get(msgs[i].ID); err == nil && cur.MailboxID == mailboxID {
			msgs[i].Status = cur.Status
			msgs[i].Labels = append([]model.Label(nil), cur.Labels...)
			continue
		}
		rec, ok := recs[msgs[i].ID]
		if !ok {
			continue
		}
		msgs[i].Status = rec.Status
		msgs[i].Labels = append([]model.Label(nil), rec.Labels...)
	}
}

// notify records a notification for every newly seen message that still
// needs attention.
func (p *Poller) notify(ctx context.Context, entry *mailboxEntry, msgs []model.MessageSummary, added []string) {
	if p.store == nil || len(added) == 0 {
		return
	}
	isNew := make(map[string]bool, len(added))
	for _, id := range added {
		isNew[id] = true
	}

	for _, m := range msgs {
		if !isNew[m.ID] || m.Status != model.StatusNew {
			continue
		}
		from := m.From
		if from == "" {
			from = m.FromAddress
		}
		_, err := p.store.CreateNotification(ctx, model.Notification{
			MessageID: m.ID,
			MailboxID: m.MailboxID,
			Message:   fmt.Sprintf("New message in %s from %s: %s", entry.cfg.ID, from, m.Subject),
			CreatedAt: time.Now(),
		})
		if err != nil {
			p.logger.Warn().Err(err).Str("message_id", m.ID).Msg("creating notification")
		}
	}
}

// setStatus updates the sync status for a mailbox.
func (p *Poller) setStatus(mailboxID string, state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.statuses[mailboxID]
	if !ok {
		return
	}

	status.State = state
	status.Error = err
	if state == SyncIdle && err == nil {
		status.LastSync = time.Now()
	}
}
