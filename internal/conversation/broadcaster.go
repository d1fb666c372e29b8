// ABOUTME: In-memory fan-out of messaging state changes to views
// ABOUTME: Subscribers listen on one conversation id or on AllEvents; slow subscribers drop events

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/alumni-dm/internal/chat"
)

// AllEvents subscribes to every event regardless of conversation.
const AllEvents = "*"

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Broadcaster provides in-memory pub/sub for chat.Events. Views subscribe to
// a conversation id (thread changes and notices for that thread) or to
// AllEvents (list changes and everything else).
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan chat.Event // key -> subID -> ch
	done        chan struct{}
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan chat.Event),
		done:        make(chan struct{}),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for key (a conversation id or AllEvents).
// The subscription is removed when ctx is cancelled or the broadcaster closes;
// either way the returned channel is closed.
func (b *Broadcaster) Subscribe(ctx context.Context, key string) (<-chan chat.Event, string) {
	subID := uuid.New().String()
	ch := make(chan chat.Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]chan chat.Event)
	}
	b.subscribers[key][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "key", key, "sub_id", subID)

	go func() {
		select {
		case <-ctx.Done():
			b.Unsubscribe(key, subID)
		case <-b.done:
		}
	}()

	return ch, subID
}

// Publish delivers event to subscribers of its ConversationID and to
// AllEvents subscribers. Non-blocking: a full subscriber misses the event.
func (b *Broadcaster) Publish(event chat.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliverLocked(AllEvents, event)
	if event.ConversationID != "" {
		b.deliverLocked(event.ConversationID, event)
	}
}

// Notify publishes a notice for conversationID (empty for a global notice).
func (b *Broadcaster) Notify(conversationID string, level chat.NoticeLevel, text string) {
	b.Publish(chat.Event{
		Kind:           chat.EventNotice,
		ConversationID: conversationID,
		Notice:         &chat.Notice{Level: level, Text: text},
	})
}

// deliverLocked sends while holding the read lock so Unsubscribe cannot
// close a channel mid-send.
func (b *Broadcaster) deliverLocked(key string, event chat.Event) {
	for subID, ch := range b.subscribers[key] {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"key", key,
				"sub_id", subID,
				"kind", event.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(key, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[key]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, key)
	}

	b.logger.Debug("subscriber removed", "key", key, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}

	b.logger.Debug("broadcaster closed")
}
