// ABOUTME: Shared fixtures for thread controller tests
// ABOUTME: A scriptable backend over backend.Memory plus a shared test clock

package thread

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/alumni-dm/internal/backend"
	"github.com/2389/alumni-dm/internal/chat"
	"github.com/2389/alumni-dm/internal/conversation"
	"github.com/2389/alumni-dm/internal/msgcache"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeBackend wraps a Memory view, counting calls and injecting failures or
// pauses. Sends reach the server before a send gate is waited on, so a paused
// send is already visible to other fetches.
type fakeBackend struct {
	inner backend.Backend

	mu        sync.Mutex
	calls     map[string]int
	listErr   error
	sendErr   error
	deleteErr error
	listGate  chan struct{}
	delGate   chan struct{}
	sendGates map[string]chan struct{}
	sendFn    func(ctx context.Context, conversationID, content string) (chat.Message, error)
}

func newFakeBackend(inner backend.Backend) *fakeBackend {
	return &fakeBackend{
		inner:     inner,
		calls:     make(map[string]int),
		sendGates: make(map[string]chan struct{}),
	}
}

func (f *fakeBackend) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeBackend) ListMessages(ctx context.Context, conversationID string, limit int) ([]chat.Message, error) {
	f.mu.Lock()
	f.calls["list"]++
	gate, err := f.listGate, f.listErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return f.inner.ListMessages(ctx, conversationID, limit)
}

func (f *fakeBackend) SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error) {
	f.mu.Lock()
	f.calls["send"]++
	gate, err, fn := f.sendGates[content], f.sendErr, f.sendFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, conversationID, content)
	}
	if err != nil {
		return chat.Message{}, err
	}
	msg, err := f.inner.SendMessage(ctx, conversationID, content)
	if gate != nil {
		<-gate
	}
	return msg, err
}

func (f *fakeBackend) DeleteMessage(ctx context.Context, messageID string) error {
	f.mu.Lock()
	f.calls["delete"]++
	err, gate := f.deleteErr, f.delGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	return f.inner.DeleteMessage(ctx, messageID)
}

type harness struct {
	t      *testing.T
	clock  *testClock
	mem    *backend.Memory
	fake   *fakeBackend
	cache  *msgcache.Cache
	store  *conversation.Store
	events *conversation.Broadcaster
	viewer chat.User
	peer   chat.User
	convID string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}

	mem := backend.NewMemory()
	mem.SetClock(clock.Now)
	viewer := chat.User{ID: "ada", Name: "Ada Lovelace"}
	peer := chat.User{ID: "grace", Name: "Grace Hopper"}
	mem.AddUser(viewer)
	mem.AddUser(peer)

	conv, err := mem.ForViewer(viewer.ID).GetOrCreateConversation(context.Background(), peer.ID)
	require.NoError(t, err)

	cache := msgcache.New(msgcache.NewMemoryStore(16), 0, nil)
	cache.SetClock(clock.Now)

	events := conversation.NewBroadcaster(nil)
	t.Cleanup(events.Close)
	fake := newFakeBackend(mem.ForViewer(viewer.ID))
	store := conversation.NewStore(mem.ForViewer(viewer.ID), events, nil)
	store.Upsert(conv)

	return &harness{
		t:      t,
		clock:  clock,
		mem:    mem,
		fake:   fake,
		cache:  cache,
		store:  store,
		events: events,
		viewer: viewer,
		peer:   peer,
		convID: conv.ID,
	}
}

func (h *harness) controller(mutate ...func(*Options)) *Controller {
	h.t.Helper()
	opts := Options{
		ConversationID: h.convID,
		Viewer:         h.viewer,
		Backend:        h.fake,
		Cache:          h.cache,
		Conversations:  h.store,
		Events:         h.events,
		Now:            h.clock.Now,
	}
	for _, m := range mutate {
		m(&opts)
	}
	c := New(opts)
	h.t.Cleanup(c.Close)
	return c
}

func (h *harness) opened(mutate ...func(*Options)) *Controller {
	h.t.Helper()
	c := h.controller(mutate...)
	require.NoError(h.t, c.Open(context.Background()))
	c.bg.Wait()
	return c
}

// peerSays stores a message from the peer on the server and advances the clock.
func (h *harness) peerSays(content string) chat.Message {
	h.t.Helper()
	msg, err := h.mem.ForViewer(h.peer.ID).SendMessage(context.Background(), h.convID, content)
	require.NoError(h.t, err)
	h.clock.Advance(time.Second)
	return msg
}

// viewerSaid stores a message from the viewer directly on the server.
func (h *harness) viewerSaid(content string) chat.Message {
	h.t.Helper()
	msg, err := h.mem.ForViewer(h.viewer.ID).SendMessage(context.Background(), h.convID, content)
	require.NoError(h.t, err)
	h.clock.Advance(time.Second)
	return msg
}

func (h *harness) serverMessages() []chat.Message {
	h.t.Helper()
	msgs, err := h.mem.ForViewer(h.viewer.ID).ListMessages(context.Background(), h.convID, 0)
	require.NoError(h.t, err)
	return msgs
}

func contents(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func requireSorted(t *testing.T, msgs []chat.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		require.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt),
			"message %d (%s) sorts before message %d (%s)", i, msgs[i].Content, i-1, msgs[i-1].Content)
	}
}

func countWithContent(msgs []chat.Message, content string) int {
	n := 0
	for _, m := range msgs {
		if m.Content == content {
			n++
		}
	}
	return n
}
