// ABOUTME: MessageThreadController owns the message list of the open conversation
// ABOUTME: Handles open (cache-first), optimistic state bookkeeping, and teardown

package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/alumni-dm/internal/chat"
	"github.com/2389/alumni-dm/internal/conversation"
	"github.com/2389/alumni-dm/internal/moderation"
	"github.com/2389/alumni-dm/internal/msgcache"
	"github.com/2389/alumni-dm/internal/optimistic"
)

// Validation and lifecycle errors. None of them involve a backend call.
var (
	ErrEmptyMessage        = errors.New("message is empty")
	ErrNotAuthor           = errors.New("only the author can delete a message")
	ErrDeleteWindowExpired = errors.New("message is too old to delete")
	ErrMessageNotFound     = errors.New("message not found")
	ErrMessagePending      = errors.New("message is still being sent")
	ErrNotReady            = errors.New("conversation is not loaded")
	ErrClosed              = errors.New("conversation is closed")
)

// DefaultDeleteWindow is how long after sending an author may delete a message.
const DefaultDeleteWindow = 24 * time.Hour

// recoveryMatchWindow bounds the createdAt distance for RecoverMatch.
const recoveryMatchWindow = time.Minute

// State is the controller's lifecycle state.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DeletePolicy selects when a deleted message leaves the local list.
type DeletePolicy string

const (
	// DeleteOptimistic removes the message immediately and sends the delete
	// in the background. A failed delete is repaired by the next reconcile.
	DeleteOptimistic DeletePolicy = "optimistic"
	// DeleteConfirmed removes the message only after the backend acknowledges.
	DeleteConfirmed DeletePolicy = "confirmed"
)

// RecoveryPolicy decides what happens to provisional messages found in the
// cache when a conversation is opened, i.e. sends interrupted by a restart.
type RecoveryPolicy string

const (
	// RecoverDrop discards recovered provisional messages on open.
	RecoverDrop RecoveryPolicy = "drop"
	// RecoverMatch shows them until the first server snapshot, then drops
	// each one silently if the snapshot holds a message from the viewer
	// with the same content sent within a minute, and raises a notice for
	// the rest.
	RecoverMatch RecoveryPolicy = "match"
)

// MessageBackend is what the controller needs from the backend.
type MessageBackend interface {
	ListMessages(ctx context.Context, conversationID string, limit int) ([]chat.Message, error)
	SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
}

// ConversationUpdater receives last-message preview changes.
type ConversationUpdater interface {
	ApplyMessageSent(conversationID string, msg chat.Message)
	ApplyMessageDeleted(conversationID string, newLast *chat.LastMessage)
}

// Options configures a Controller.
type Options struct {
	ConversationID string
	Viewer         chat.User
	Backend        MessageBackend

	Cache         *msgcache.Cache           // nil disables caching
	Gate          *moderation.Gate          // nil uses moderation.Default()
	Conversations ConversationUpdater       // optional
	Events        *conversation.Broadcaster // optional

	HistoryLimit   int
	DeleteWindow   time.Duration
	DeletePolicy   DeletePolicy
	RecoveryPolicy RecoveryPolicy

	// OnLoaded runs after the first successful fetch of an Open, on the
	// background goroutine when the thread was painted from the cache.
	OnLoaded func(ctx context.Context)

	Now    func() time.Time
	Logger *slog.Logger
}

// tombstone hides a locally deleted message from snapshots until the delete
// request settles and a snapshot issued after that settlement arrives.
type tombstone struct {
	settled    bool
	settledSeq uint64
}

// Controller owns one conversation's message list. All methods are safe for
// concurrent use; network calls never hold the lock.
type Controller struct {
	id     string
	opts   Options
	now    func() time.Time
	logger *slog.Logger

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	mu    sync.Mutex
	state State

	// confirmed holds server-assigned messages sorted by CreatedAt.
	confirmed []chat.Message
	pending   *optimistic.Tracker[chat.Message]
	// recovered is only used by RecoverMatch, until the first snapshot.
	recovered  []chat.Message
	tombstones map[string]*tombstone
	// confirmSeq maps a locally confirmed id to seq at confirmation.
	confirmSeq map[string]uint64

	// seq is bumped by every local mutation of confirmed state.
	seq          uint64
	fetchSeq     uint64
	appliedFetch uint64

	// sendTail is closed when the latest send has settled.
	sendTail chan struct{}
}

// New creates a controller in StateEmpty.
func New(opts Options) *Controller {
	if opts.Gate == nil {
		opts.Gate = moderation.Default()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.DeleteWindow <= 0 {
		opts.DeleteWindow = DefaultDeleteWindow
	}
	if opts.DeletePolicy == "" {
		opts.DeletePolicy = DeleteOptimistic
	}
	if opts.RecoveryPolicy == "" {
		opts.RecoveryPolicy = RecoverDrop
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	return &Controller{
		id:     opts.ConversationID,
		opts:   opts,
		now:    now,
		logger: logger.With("component", "thread", "conversation_id", opts.ConversationID),

		bgCtx:    bgCtx,
		bgCancel: cancel,

		state:      StateEmpty,
		pending:    optimistic.New(func(m chat.Message) optimistic.Token { return optimistic.Token(m.ID) }),
		tombstones: make(map[string]*tombstone),
		confirmSeq: make(map[string]uint64),
	}
}

// ConversationID returns the conversation this controller owns.
func (c *Controller) ConversationID() string {
	return c.id
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns the displayed list: confirmed messages followed by
// provisional ones, non-decreasing by CreatedAt.
func (c *Controller) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Open loads the conversation. A fresh cache entry makes the controller Ready
// immediately and a confirmed fetch runs in the background; otherwise the
// controller goes through Loading and Open returns after the fetch. Calling
// Open on a loaded controller does nothing.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateLoading, StateReady:
		c.mu.Unlock()
		return nil
	}

	if cached, ok := c.opts.Cache.Read(ctx, c.id); ok {
		c.restoreLocked(cached)
		c.state = StateReady
		c.publishMessagesLocked()
		c.goLocked(func() {
			if err := c.Refresh(c.bgCtx); err != nil {
				if c.bgCtx.Err() == nil {
					c.logger.Warn("background fetch failed", "error", err)
					c.notify(chat.NoticeWarning, "Could not refresh messages; showing saved history.")
				}
				return
			}
			c.loaded(c.bgCtx)
		})
		c.mu.Unlock()

		c.logger.Debug("opened from cache", "messages", len(cached))
		return nil
	}

	c.state = StateLoading
	c.publishMessagesLocked()
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	c.loaded(ctx)
	return nil
}

func (c *Controller) loaded(ctx context.Context) {
	if c.opts.OnLoaded == nil || c.State() == StateClosed {
		return
	}
	c.opts.OnLoaded(ctx)
}

// goLocked starts fn as background work that Close waits for. The caller
// holds c.mu and has checked the controller is not closed, so the Add cannot
// race with the Wait in Close.
func (c *Controller) goLocked(fn func()) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		fn()
	}()
}

// restoreLocked seeds state from a cache entry, applying the recovery policy
// to provisional entries left behind by interrupted sends.
func (c *Controller) restoreLocked(cached []chat.Message) {
	confirmed := make([]chat.Message, 0, len(cached))
	var recovered []chat.Message
	for _, m := range cached {
		if m.IsProvisional() {
			recovered = append(recovered, m)
			continue
		}
		confirmed = append(confirmed, m)
	}
	chat.SortMessages(confirmed)
	c.confirmed = confirmed

	if len(recovered) == 0 {
		return
	}
	if c.opts.RecoveryPolicy == RecoverMatch {
		c.recovered = recovered
		return
	}
	c.logger.Info("dropped provisional messages recovered from cache", "count", len(recovered))
}

// Close stops background work and discards any result that arrives later.
// It waits for in-flight background requests to finish.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.mu.Unlock()

	c.bgCancel()
	c.bg.Wait()
	c.logger.Debug("closed")
}

// viewLocked builds the displayed list. Provisional messages are clamped so
// they never sort before the newest confirmed message or each other.
func (c *Controller) viewLocked() []chat.Message {
	out := chat.CloneMessages(c.confirmed)
	if out == nil {
		out = []chat.Message{}
	}

	var floor time.Time
	if n := len(out); n > 0 {
		floor = out[n-1].CreatedAt
	}
	provisional := append(chat.CloneMessages(c.recovered), c.pending.Pending()...)
	for _, m := range provisional {
		if m.CreatedAt.Before(floor) {
			m.CreatedAt = floor
		}
		floor = m.CreatedAt
		out = append(out, m)
	}
	return out
}

// persistLocked writes the current view through to the cache and tells views.
func (c *Controller) persistLocked() {
	c.opts.Cache.Write(c.bgCtx, c.id, c.viewLocked())
	c.publishMessagesLocked()
}

func (c *Controller) publishMessagesLocked() {
	if c.opts.Events == nil {
		return
	}
	c.opts.Events.Publish(chat.Event{
		Kind:           chat.EventMessagesChanged,
		ConversationID: c.id,
		Messages:       c.viewLocked(),
	})
}

func (c *Controller) notify(level chat.NoticeLevel, text string) {
	if c.opts.Events == nil {
		return
	}
	c.opts.Events.Notify(c.id, level, text)
}

func tailID(msgs []chat.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].ID
}
