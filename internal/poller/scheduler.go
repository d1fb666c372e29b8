// ABOUTME: SyncScheduler polls the open conversation on a fixed interval while it is open
// ABOUTME: Ticks never overlap; each successful fetch is followed by a server-side mark-read

package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/alumni-dm/internal/chat"
	"github.com/2389/alumni-dm/internal/conversation"
)

// DefaultInterval is the poll period used when Options.Interval is zero.
const DefaultInterval = 2 * time.Second

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler already running")

// Thread is the open conversation being kept in sync.
type Thread interface {
	ConversationID() string
	Refresh(ctx context.Context) error
}

// ReadMarker marks a conversation read on the server.
type ReadMarker interface {
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// ConversationList is the local conversation list.
type ConversationList interface {
	Refresh(ctx context.Context) error
	MarkRead(conversationID string)
}

// Options configures a Scheduler.
type Options struct {
	Interval time.Duration
	Thread   Thread
	Marker   ReadMarker

	// Conversations, when set, has its unread count cleared after each
	// mark-read. With RefreshConversations it is also re-fetched every tick.
	Conversations        ConversationList
	RefreshConversations bool

	Events *conversation.Broadcaster
	Logger *slog.Logger
}

// Scheduler drives periodic reconciliation for one open thread. It has an
// explicit Start/Stop lifecycle; Stop cancels the in-flight tick and returns
// only after every goroutine it started has exited.
type Scheduler struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup

	inFlight atomic.Bool
	ticks    atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64 // consecutive failed thread fetches
}

// New creates a stopped scheduler.
func New(opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With("component", "poller", "conversation_id", opts.Thread.ConversationID()),
	}
}

// Start begins polling. Polling stops when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Go(func() { s.loop(ctx) })
	s.logger.Debug("polling started", "interval", s.opts.Interval)
	return nil
}

// Stop cancels polling and waits for the loop and any in-flight tick.
// It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Debug("polling stopped",
		"ticks", s.ticks.Load(),
		"skipped", s.skipped.Load())
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Ticks returns how many polls have run.
func (s *Scheduler) Ticks() int64 {
	return s.ticks.Load()
}

// Skipped returns how many ticks were skipped because a poll was in flight.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.inFlight.CompareAndSwap(false, true) {
				s.skipped.Add(1)
				s.logger.Debug("previous poll still in flight, skipping tick")
				continue
			}
			s.wg.Go(func() {
				defer s.inFlight.Store(false)
				_ = s.poll(ctx)
			})
		}
	}
}

// poll runs one tick: the thread fetch (then mark-read) and, when enabled,
// the conversation list refresh, concurrently. Failures are logged and
// announced; nothing is retried until the next tick.
func (s *Scheduler) poll(ctx context.Context) error {
	s.ticks.Add(1)
	id := s.opts.Thread.ConversationID()
	var marked atomic.Bool

	var g errgroup.Group
	g.Go(func() error {
		if err := s.opts.Thread.Refresh(ctx); err != nil {
			s.threadFailed(ctx, err)
			return fmt.Errorf("refresh thread: %w", err)
		}
		s.failures.Store(0)

		if s.opts.Marker == nil {
			return nil
		}
		if err := s.markServerRead(ctx); err != nil {
			return err
		}
		marked.Store(true)
		return nil
	})

	if s.opts.RefreshConversations && s.opts.Conversations != nil {
		g.Go(func() error {
			if err := s.opts.Conversations.Refresh(ctx); err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("conversation list refresh failed", "error", err)
				}
				return fmt.Errorf("refresh conversations: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	// Applied after the list refresh so a refreshed unread count cannot undo it.
	if marked.Load() && s.opts.Conversations != nil {
		s.opts.Conversations.MarkRead(id)
	}
	return err
}

// MarkRead runs the mark-read step of a tick on its own, for a fetch made
// outside the scheduler such as the thread's initial load.
func (s *Scheduler) MarkRead(ctx context.Context) error {
	if s.opts.Marker == nil {
		return nil
	}
	if err := s.markServerRead(ctx); err != nil {
		return err
	}
	if s.opts.Conversations != nil {
		s.opts.Conversations.MarkRead(s.opts.Thread.ConversationID())
	}
	return nil
}

func (s *Scheduler) markServerRead(ctx context.Context) error {
	if err := s.opts.Marker.MarkConversationRead(ctx, s.opts.Thread.ConversationID()); err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("mark read failed", "error", err)
		}
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (s *Scheduler) threadFailed(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	if s.failures.Add(1) > 1 {
		s.logger.Debug("poll still failing", "error", err)
		return
	}
	s.logger.Warn("poll failed", "error", err)
	if s.opts.Events != nil {
		s.opts.Events.Notify(s.opts.Thread.ConversationID(), chat.NoticeWarning,
			"Could not check for new messages. Will keep trying.")
	}
}
