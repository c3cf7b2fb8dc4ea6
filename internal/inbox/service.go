// Package inbox is the surface callers use to read and act on the support
// inbox. It ties the in-memory store, the status engine and the mailbox
// client together.
package inbox

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nhle/support-inbox/internal/apperr"
	"github.com/nhle/support-inbox/internal/conversation"
	"github.com/nhle/support-inbox/internal/model"
	"github.com/nhle/support-inbox/internal/store"
	appsync "github.com/nhle/support-inbox/internal/sync"
)

// MessageSource reaches the remote mailbox for single messages.
// *mailbox.Client satisfies it.
type MessageSource interface {
	FetchMessage(ctx context.Context, cfg model.ConnectionConfig, uid uint32) (*model.MessageDetail, error)
	MarkSeen(ctx context.Context, cfg model.ConnectionConfig, uid uint32) error
}

// Transitioner applies status changes. *status.Engine satisfies it.
type Transitioner interface {
	Apply(ctx context.Context, messageID string, next model.Status, label model.Label) (model.MessageSummary, error)
}

// SyncReporter exposes per-mailbox ingestion state. *sync.Poller
// satisfies it.
type SyncReporter interface {
	GetStatuses() []appsync.SyncStatus
}

// View is one rendering of the inbox list.
type View struct {
	// Conversations holds one representative per conversation, newest
	// first.
	Conversations []model.MessageSummary
	// Stale lists mailboxes whose last ingestion failed; their records
	// may be out of date.
	Stale []appsync.SyncStatus
}

// Service implements the inbox operations.
type Service struct {
	inbox     *store.Inbox
	engine    Transitioner
	source    MessageSource
	sync      SyncReporter
	mailboxes map[string]model.ConnectionConfig
	logger    zerolog.Logger
}

// Config wires a Service. Source and Sync may be nil for an offline inbox.
type Config struct {
	Inbox     *store.Inbox
	Engine    Transitioner
	Source    MessageSource
	Sync      SyncReporter
	Mailboxes []model.ConnectionConfig
	Logger    zerolog.Logger
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	mailboxes := make(map[string]model.ConnectionConfig, len(cfg.Mailboxes))
	for _, c := range cfg.Mailboxes {
		mailboxes[c.MailboxID] = c
	}
	return &Service{
		inbox:     cfg.Inbox,
		engine:    cfg.Engine,
		source:    cfg.Source,
		sync:      cfg.Sync,
		mailboxes: mailboxes,
		logger:    cfg.Logger.With().Str("component", "inbox").Logger(),
	}
}

// ListInbox returns the conversation list along with any mailboxes whose
// data is stale.
func (s *Service) ListInbox() View {
	v := View{Conversations: conversation.Representatives(s.inbox.Snapshot())}
	if s.sync != nil {
		for _, st := range s.sync.GetStatuses() {
			if st.Stale() {
				v.Stale = append(v.Stale, st)
			}
		}
	}
	return v
}

// GetConversation returns every cached message of a conversation.
func (s *Service) GetConversation(_ context.Context, conversationID string) (model.Conversation, error) {
	return conversation.Thread(s.inbox.Snapshot(), conversationID)
}

// ConversationOf returns the conversation id of a message.
func (s *Service) ConversationOf(messageID string) (string, error) {
	return conversation.ConversationIDFor(s.inbox.Snapshot(), messageID)
}

// SelectMessage returns a message with its full content. Messages of
// mailboxes without a connection (the demo seed) are returned with their
// preview as the body.
func (s *Service) SelectMessage(ctx context.Context, messageID string) (*model.MessageDetail, error) {
	summary, err := s.inbox.Get(messageID)
	if err != nil {
		return nil, err
	}

	cfg, ok := s.mailboxes[summary.MailboxID]
	if !ok || s.source == nil {
		return &model.MessageDetail{MessageSummary: summary, Body: summary.Preview}, nil
	}

	detail, err := s.source.FetchMessage(ctx, cfg, summary.UID)
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", messageID, err)
	}

	// Workflow state is owned locally, not by the server.
	hasAttachments := detail.HasAttachments || summary.HasAttachments
	detail.MessageSummary = summary
	detail.HasAttachments = hasAttachments
	return detail, nil
}

// SetStatus changes the workflow status of a message.
func (s *Service) SetStatus(
	ctx context.Context,
	messageID string,
	next model.Status,
	label model.Label,
) (model.MessageSummary, error) {
	if s.engine == nil {
		return model.MessageSummary{}, fmt.Errorf("setting status of %s: no status engine", messageID)
	}
	return s.engine.Apply(ctx, messageID, next, label)
}

// MarkRead marks a message read locally and, when its mailbox is
// connected, on the server. A server failure is logged and does not undo
// the local change; the next ingestion reconciles it.
func (s *Service) MarkRead(ctx context.Context, messageID string) (model.MessageSummary, error) {
	before, err := s.inbox.Get(messageID)
	if err != nil {
		return model.MessageSummary{}, err
	}
	if before.Read {
		return before, nil
	}

	updated, err := s.inbox.Patch(messageID, func(m *model.MessageSummary) {
		m.Read = true
	})
	if err != nil {
		return model.MessageSummary{}, err
	}

	cfg, ok := s.mailboxes[updated.MailboxID]
	if !ok || s.source == nil {
		return updated, nil
	}
	if err := s.source.MarkSeen(ctx, cfg, updated.UID); err != nil {
		log := s.logger.Warn()
		if apperr.IsAuthError(err) {
			log = s.logger.Error()
		}
		log.Err(err).Str("message_id", messageID).Msg("marking message seen on server")
	}
	return updated, nil
}
