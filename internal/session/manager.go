// ABOUTME: ConversationSessionManager turns "message this user" intents into an open, synced thread
// ABOUTME: Owns the active thread controller and its poller, swapping them on conversation switch

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/alumni-dm/internal/backend"
	"github.com/2389/alumni-dm/internal/chat"
	"github.com/2389/alumni-dm/internal/conversation"
	"github.com/2389/alumni-dm/internal/moderation"
	"github.com/2389/alumni-dm/internal/msgcache"
	"github.com/2389/alumni-dm/internal/poller"
	"github.com/2389/alumni-dm/internal/thread"
)

var (
	// ErrSelfMessage rejects a conversation with the viewer themself.
	ErrSelfMessage = errors.New("cannot start a conversation with yourself")
	// ErrNoUser rejects an empty target user id.
	ErrNoUser = errors.New("user id is required")
	// ErrNoActiveConversation is returned by thread operations when nothing is open.
	ErrNoActiveConversation = errors.New("no conversation is open")
	// ErrUnknownConversation is returned when a conversation id is not in the list.
	ErrUnknownConversation = errors.New("unknown conversation")
)

// Messaging carries the tunables handed to each thread and poller.
type Messaging struct {
	PollInterval         time.Duration
	HistoryLimit         int
	DeleteWindow         time.Duration
	DeletePolicy         thread.DeletePolicy
	RecoveryPolicy       thread.RecoveryPolicy
	RefreshConversations bool
}

// Options configures a Manager.
type Options struct {
	Viewer    chat.User
	Backend   backend.Backend
	Cache     *msgcache.Cache
	Gate      *moderation.Gate
	Messaging Messaging

	// Events defaults to a broadcaster owned, and closed, by the Manager.
	Events *conversation.Broadcaster

	Now    func() time.Time
	Logger *slog.Logger
}

type activeSession struct {
	conv   chat.Conversation
	thread *thread.Controller
	poller *poller.Scheduler
}

func (a *activeSession) stop() {
	a.poller.Stop()
	a.thread.Close()
}

// Manager is the entry point for the messaging subsystem. At most one
// conversation is active at a time.
type Manager struct {
	opts        Options
	store       *conversation.Store
	events      *conversation.Broadcaster
	ownsEvents  bool
	logger      *slog.Logger
	pollCtx     context.Context
	cancelPolls context.CancelFunc

	// switchMu serializes activation so two intents cannot race.
	switchMu sync.Mutex

	mu     sync.Mutex
	active *activeSession
}

// New creates a manager with an empty conversation list.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Gate == nil {
		opts.Gate = moderation.Default()
	}

	events := opts.Events
	owns := false
	if events == nil {
		events = conversation.NewBroadcaster(logger)
		owns = true
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:        opts,
		store:       conversation.NewStore(opts.Backend, events, logger),
		events:      events,
		ownsEvents:  owns,
		logger:      logger.With("component", "session", "viewer_id", opts.Viewer.ID),
		pollCtx:     pollCtx,
		cancelPolls: cancel,
	}
}

// Viewer returns the current user.
func (m *Manager) Viewer() chat.User {
	return m.opts.Viewer
}

// Conversations returns the conversation list.
func (m *Manager) Conversations() *conversation.Store {
	return m.store
}

// Events returns the broadcaster views subscribe to.
func (m *Manager) Events() *conversation.Broadcaster {
	return m.events
}

// MessageUser resolves the conversation with userID, creating it if needed,
// makes it active, and opens its thread. Messaging yourself is rejected with
// ErrSelfMessage before any network call.
//
// When the thread's initial load fails the conversation stays active, the
// poller keeps retrying, and the load error is returned.
func (m *Manager) MessageUser(ctx context.Context, userID string) (chat.Conversation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return chat.Conversation{}, ErrNoUser
	}
	if userID == m.opts.Viewer.ID {
		return chat.Conversation{}, ErrSelfMessage
	}

	conv, err := m.store.GetOrCreateWithUser(ctx, userID)
	if err != nil {
		return chat.Conversation{}, err
	}
	return conv, m.activate(ctx, conv)
}

// OpenConversation makes an existing conversation active. conversationID may
// also name the other participant of a listed conversation. The list is
// refreshed once if neither is known locally.
func (m *Manager) OpenConversation(ctx context.Context, conversationID string) (chat.Conversation, error) {
	conv, ok := m.lookup(conversationID)
	if !ok {
		if err := m.store.Refresh(ctx); err != nil {
			return chat.Conversation{}, err
		}
		if conv, ok = m.lookup(conversationID); !ok {
			return chat.Conversation{}, fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
		}
	}
	return conv, m.activate(ctx, conv)
}

// lookup resolves a listed conversation by its id, then by its participant.
func (m *Manager) lookup(ref string) (chat.Conversation, bool) {
	if conv, ok := m.store.Get(ref); ok {
		return conv, true
	}
	return m.store.FindByParticipant(ref)
}

// RefreshConversations reloads the conversation list from the backend.
func (m *Manager) RefreshConversations(ctx context.Context) error {
	return m.store.Refresh(ctx)
}

func (m *Manager) activate(ctx context.Context, conv chat.Conversation) error {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	m.mu.Lock()
	prev := m.active
	if prev != nil && prev.conv.ID == conv.ID {
		prev.conv = conv
		m.mu.Unlock()
		return nil
	}
	m.active = nil
	m.mu.Unlock()

	if prev != nil {
		prev.stop()
		m.logger.Debug("conversation closed",
			"conversation_id", prev.conv.ID,
			"ticks", prev.poller.Ticks(),
			"skipped", prev.poller.Skipped())
	}

	msg := m.opts.Messaging
	// The initial load is a fetch of the viewed conversation like any tick,
	// so it is marked read the same way.
	var sched *poller.Scheduler
	ctrl := thread.New(thread.Options{
		ConversationID: conv.ID,
		Viewer:         m.opts.Viewer,
		Backend:        m.opts.Backend,
		Cache:          m.opts.Cache,
		Gate:           m.opts.Gate,
		Conversations:  m.store,
		Events:         m.events,
		HistoryLimit:   msg.HistoryLimit,
		DeleteWindow:   msg.DeleteWindow,
		DeletePolicy:   msg.DeletePolicy,
		RecoveryPolicy: msg.RecoveryPolicy,
		Now:            m.opts.Now,
		Logger:         m.opts.Logger,
		OnLoaded:       func(ctx context.Context) {
			_ = sched.MarkRead(ctx)
		},
	})
	sched = poller.New(poller.Options{
		Interval:             msg.PollInterval,
		Thread:               ctrl,
		Marker:               m.opts.Backend,
		Conversations:        m.store,
		RefreshConversations: msg.RefreshConversations,
		Events:               m.events,
		Logger:               m.opts.Logger,
	})

	m.mu.Lock()
	m.active = &activeSession{conv: conv, thread: ctrl, poller: sched}
	m.mu.Unlock()

	openErr := ctrl.Open(ctx)
	if err := sched.Start(m.pollCtx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}
	m.logger.Info("conversation opened",
		"conversation_id", conv.ID,
		"participant_id", conv.Participant.ID,
		"state", ctrl.State())

	return openErr
}

// Active returns the active conversation and its thread.
func (m *Manager) Active() (chat.Conversation, *thread.Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return chat.Conversation{}, nil, false
	}
	return m.active.conv, m.active.thread, true
}

func (m *Manager) activeThread() (*thread.Controller, error) {
	_, t, ok := m.Active()
	if !ok {
		return nil, ErrNoActiveConversation
	}
	return t, nil
}

// Send sends text to the active conversation.
func (m *Manager) Send(ctx context.Context, text string) (chat.Message, error) {
	t, err := m.activeThread()
	if err != nil {
		return chat.Message{}, err
	}
	return t.Send(ctx, text)
}

// Delete deletes a message in the active conversation.
func (m *Manager) Delete(ctx context.Context, messageID string) error {
	t, err := m.activeThread()
	if err != nil {
		return err
	}
	return t.Delete(ctx, messageID)
}

// Messages returns the active thread's messages.
func (m *Manager) Messages() ([]chat.Message, error) {
	t, err := m.activeThread()
	if err != nil {
		return nil, err
	}
	return t.Messages(), nil
}

// CloseActive stops polling and closes the active thread, if any.
func (m *Manager) CloseActive() {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	m.mu.Lock()
	prev := m.active
	m.active = nil
	m.mu.Unlock()

	if prev != nil {
		prev.stop()
		m.logger.Info("conversation closed",
			"conversation_id", prev.conv.ID,
			"ticks", prev.poller.Ticks(),
			"skipped", prev.poller.Skipped())
	}
}

// Close tears everything down. The manager must not be used afterwards.
func (m *Manager) Close() {
	m.CloseActive()
	m.cancelPolls()
	if m.ownsEvents {
		m.events.Close()
	}
}
