// ABOUTME: Tests for opening, sending, and closing a thread
// ABOUTME: Covers cache-first paint, optimistic send confirm/rollback, and send ordering

package thread

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/alumni-dm/internal/backend"
	"github.com/2389/alumni-dm/internal/chat"
	"github.com/2389/alumni-dm/internal/moderation"
)

var provisionalIDPattern = regexp.MustCompile(`^temp_\d+_[0-9a-f]{8}$`)

func TestOpen_CacheMissFetchesBeforeReady(t *testing.T) {
	h := newHarness(t)
	h.peerSays("hi")
	h.peerSays("are you there?")

	c := h.controller()
	assert.Equal(t, StateEmpty, c.State())
	require.NoError(t, c.Open(context.Background()))

	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, []string{"hi", "are you there?"}, contents(c.Messages()))
	assert.Equal(t, 1, h.fake.count("list"))

	cached, ok := h.cache.Read(context.Background(), h.convID)
	require.True(t, ok, "a confirmed fetch is written through")
	assert.Len(t, cached, 2)
}

// A fresh cache paints immediately; the background fetch then adds what the
// peer sent meanwhile.
func TestOpen_FreshCacheIsInstantThenReconciles(t *testing.T) {
	h := newHarness(t)
	h.peerSays("one")
	h.viewerSaid("two")
	h.peerSays("three")
	h.cache.Write(context.Background(), h.convID, h.serverMessages())
	h.peerSays("four")

	gate := make(chan struct{})
	h.fake.set(func(f *fakeBackend) { f.listGate = gate })

	c := h.controller()
	require.NoError(t, c.Open(context.Background()))

	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, []string{"one", "two", "three"}, contents(c.Messages()))

	close(gate)
	c.bg.Wait()
	assert.Equal(t, []string{"one", "two", "three", "four"}, contents(c.Messages()))
}

func TestOpen_StaleCacheIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.cache.Write(context.Background(), h.convID, []chat.Message{{ID: "m_old", Content: "stale", CreatedAt: h.clock.Now()}})
	h.clock.Advance(24 * time.Hour)
	h.peerSays("fresh")

	c := h.controller()
	require.NoError(t, c.Open(context.Background()))

	assert.Equal(t, []string{"fresh"}, contents(c.Messages()))
	assert.Equal(t, 1, h.fake.count("list"))
}

func TestOpen_WorksWithCacheDisabled(t *testing.T) {
	h := newHarness(t)
	h.peerSays("hello")

	c := h.controller(func(o *Options) { o.Cache = nil })
	require.NoError(t, c.Open(context.Background()))

	_, err := c.Send(context.Background(), "hi back")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "hi back"}, contents(c.Messages()))
}

func TestOpen_FetchFailureKeepsLoadingUntilNextRefresh(t *testing.T) {
	h := newHarness(t)
	h.peerSays("hello")
	h.fake.set(func(f *fakeBackend) { f.listErr = backend.ErrRequestFailed })

	c := h.controller()
	err := c.Open(context.Background())
	require.ErrorIs(t, err, backend.ErrRequestFailed)
	assert.Equal(t, StateLoading, c.State())
	assert.Empty(t, c.Messages())

	h.fake.set(func(f *fakeBackend) { f.listErr = nil })
	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, []string{"hello"}, contents(c.Messages()))
}

func TestOpen_AfterCloseFails(t *testing.T) {
	h := newHarness(t)
	c := h.controller()
	c.Close()

	assert.ErrorIs(t, c.Open(context.Background()), ErrClosed)
	_, err := c.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSend_BeforeOpenIsRejected(t *testing.T) {
	h := newHarness(t)
	c := h.controller()

	_, err := c.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Zero(t, h.fake.count("send"))
}

func TestSend_ProvisionalThenConfirmed(t *testing.T) {
	h := newHarness(t)
	c := h.opened()

	release := make(chan struct{})
	h.fake.set(func(f *fakeBackend) {
		f.sendFn = func(ctx context.Context, conversationID, content string) (chat.Message, error) {
			<-release
			return chat.Message{
				ID:             "m_501",
				ConversationID: conversationID,
				Sender:         h.viewer,
				Content:        content,
				CreatedAt:      h.clock.Now(),
			}, nil
		}
	})

	type result struct {
		msg chat.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := c.Send(context.Background(), "hello")
		done <- result{msg, err}
	}()

	require.Eventually(t, func() bool { return len(c.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	pending := c.Messages()[0]
	assert.True(t, pending.IsProvisional())
	assert.Regexp(t, provisionalIDPattern, pending.ID)
	assert.Equal(t, "hello", pending.Content)
	assert.False(t, pending.Read)

	cached, ok := h.cache.Read(context.Background(), h.convID)
	require.True(t, ok)
	require.Len(t, cached, 1, "the optimistic state is cached before the network answers")
	assert.Equal(t, pending.ID, cached[0].ID)

	conv, _ := h.store.Get(h.convID)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "hello", conv.LastMessage.Content)

	close(release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "m_501", res.msg.ID)

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m_501", msgs[0].ID)
	assert.Equal(t, "hello", msgs[0].Content)

	cached, _ = h.cache.Read(context.Background(), h.convID)
	require.Len(t, cached, 1)
	assert.Equal(t, "m_501", cached[0].ID)
}

func TestSend_ValidationNeverReachesNetwork(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{name: "empty", text: "", want: ErrEmptyMessage},
		{name: "whitespace", text: "  \n\t", want: ErrEmptyMessage},
		{name: "blocked term", text: "badword", want: moderation.ErrRejected},
		{name: "blocked term in markdown", text: "you are **stupid**", want: moderation.ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			c := h.opened()
			events, _ := h.events.Subscribe(t.Context(), h.convID)

			_, err := c.Send(context.Background(), tt.text)
			require.ErrorIs(t, err, tt.want)

			assert.Empty(t, c.Messages())
			assert.Zero(t, h.fake.count("send"))
			select {
			case ev := <-events:
				t.Fatalf("unexpected event %s", ev.Kind)
			case <-time.After(20 * time.Millisecond):
			}
		})
	}
}

func TestSend_FailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.peerSays("before")
	c := h.opened()
	h.fake.set(func(f *fakeBackend) { f.sendErr = &backend.APIError{Status: 500, Message: "down"} })

	_, err := c.Send(context.Background(), "lost words")
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrRequestFailed)

	msgs := c.Messages()
	assert.Zero(t, countWithContent(msgs, "lost words"))
	assert.Equal(t, []string{"before"}, contents(msgs))

	cached, ok := h.cache.Read(context.Background(), h.convID)
	require.True(t, ok)
	assert.Zero(t, countWithContent(cached, "lost words"))

	conv, _ := h.store.Get(h.convID)
	assert.Equal(t, "before", conv.LastMessage.Content, "the preview falls back to the last real message")
}

func TestSend_RacingReconcileNeverDuplicates(t *testing.T) {
	h := newHarness(t)
	c := h.opened()

	gate := make(chan struct{})
	h.fake.set(func(f *fakeBackend) { f.sendGates["hello"] = gate })

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "hello")
		done <- err
	}()
	require.Eventually(t, func() bool { return len(h.serverMessages()) == 1 }, time.Second, 5*time.Millisecond)

	// The poll sees the server copy while the confirmation is still in flight.
	require.NoError(t, c.Refresh(context.Background()))
	during := c.Messages()
	require.Len(t, during, 2)
	assert.False(t, during[0].IsProvisional())
	assert.True(t, during[1].IsProvisional(), "only the confirm callback removes the provisional copy")
	requireSorted(t, during)

	close(gate)
	require.NoError(t, <-done)

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].IsProvisional())

	require.NoError(t, c.Refresh(context.Background()))
	assert.Len(t, c.Messages(), 1)
}

func TestSend_SnapshotIssuedBeforeConfirmKeepsMessage(t *testing.T) {
	h := newHarness(t)
	c := h.opened()

	ticket := c.BeginFetch()
	before := h.serverMessages()

	sent, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)

	assert.True(t, c.Reconcile(ticket, before))
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
}

// Two rapid sends keep call order even when the first confirmation is slow.
func TestSend_RapidSendsKeepCallOrder(t *testing.T) {
	h := newHarness(t)
	c := h.opened()

	gateA := make(chan struct{})
	h.fake.set(func(f *fakeBackend) { f.sendGates["a"] = gateA })

	errA := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "a")
		errA <- err
	}()
	require.Eventually(t, func() bool { return h.fake.count("send") == 1 }, time.Second, 5*time.Millisecond)

	errB := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "b")
		errB <- err
	}()
	require.Eventually(t, func() bool { return len(c.Messages()) == 2 }, time.Second, 5*time.Millisecond)

	shown := c.Messages()
	assert.Equal(t, []string{"a", "b"}, contents(shown))
	requireSorted(t, shown)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.fake.count("send"), "b waits for a to settle")

	close(gateA)
	require.NoError(t, <-errA)
	require.NoError(t, <-errB)

	msgs := c.Messages()
	assert.Equal(t, []string{"a", "b"}, contents(msgs))
	for _, m := range msgs {
		assert.False(t, m.IsProvisional())
	}
	assert.Equal(t, []string{"a", "b"}, contents(h.serverMessages()))
}

func TestSend_CancelledWhileQueuedRollsBack(t *testing.T) {
	h := newHarness(t)
	c := h.opened()

	gateA := make(chan struct{})
	h.fake.set(func(f *fakeBackend) { f.sendGates["a"] = gateA })
	go func() { _, _ = c.Send(context.Background(), "a") }()
	require.Eventually(t, func() bool { return h.fake.count("send") == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errB := make(chan error, 1)
	go func() {
		_, err := c.Send(ctx, "b")
		errB <- err
	}()
	require.Eventually(t, func() bool { return len(c.Messages()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-errB, context.Canceled)
	assert.Equal(t, []string{"a"}, contents(c.Messages()))

	close(gateA)
	require.Eventually(t, func() bool {
		msgs := c.Messages()
		return len(msgs) == 1 && !msgs[0].IsProvisional()
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.fake.count("send"))
}

// Ordering holds for any interleaving of sends, peer messages, and ticks.
func TestOrdering_InterleavedSendsAndTicks(t *testing.T) {
	h := newHarness(t)
	c := h.opened()
	ctx := context.Background()

	for i := range 12 {
		switch i % 4 {
		case 0:
			h.peerSays("peer")
		case 1:
			_, err := c.Send(ctx, "mine")
			require.NoError(t, err)
		case 2:
			ticket := c.BeginFetch()
			snapshot := h.serverMessages()
			_, err := c.Send(ctx, "mine again")
			require.NoError(t, err)
			c.Reconcile(ticket, snapshot)
		case 3:
			require.NoError(t, c.Refresh(ctx))
		}
		h.clock.Advance(-500 * time.Millisecond)
		requireSorted(t, c.Messages())
	}

	require.NoError(t, c.Refresh(ctx))
	msgs := c.Messages()
	requireSorted(t, msgs)
	assert.Len(t, msgs, len(h.serverMessages()))
}

func TestProvisionalSortsAfterNewerPeerMessage(t *testing.T) {
	h := newHarness(t)
	c := h.opened()

	gate := make(chan struct{})
	h.fake.set(func(f *fakeBackend) { f.sendGates["mine"] = gate })
	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "mine")
		done <- err
	}()
	require.Eventually(t, func() bool { return len(c.Messages()) == 1 }, time.Second, 5*time.Millisecond)

	h.clock.Advance(time.Minute)
	h.peerSays("late peer")
	ticket := c.BeginFetch()
	snapshot := h.serverMessages()
	var peerOnly []chat.Message
	for _, m := range snapshot {
		if m.Sender.ID == h.peer.ID {
			peerOnly = append(peerOnly, m)
		}
	}
	c.Reconcile(ticket, peerOnly)

	msgs := c.Messages()
	requireSorted(t, msgs)
	assert.True(t, msgs[len(msgs)-1].IsProvisional(), "a provisional message is always the most recent")

	close(gate)
	require.NoError(t, <-done)
}

func TestClose_IgnoresLateBackgroundFetch(t *testing.T) {
	h := newHarness(t)
	h.peerSays("cached")
	h.cache.Write(context.Background(), h.convID, h.serverMessages())
	h.peerSays("never shown")

	gate := make(chan struct{})
	h.fake.set(func(f *fakeBackend) { f.listGate = gate })
	events, _ := h.events.Subscribe(t.Context(), h.convID)

	c := h.controller()
	require.NoError(t, c.Open(context.Background()))
	<-events

	c.Close()
	close(gate)

	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, []string{"cached"}, contents(c.Messages()))
	select {
	case ev := <-events:
		t.Fatalf("no events after close, got %s", ev.Kind)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSend_ConfirmAfterCloseIsDiscarded(t *testing.T) {
	h := newHarness(t)
	c := h.opened()

	gate := make(chan struct{})
	h.fake.set(func(f *fakeBackend) { f.sendGates["bye"] = gate })
	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "bye")
		done <- err
	}()
	require.Eventually(t, func() bool { return h.fake.count("send") == 1 }, time.Second, 5*time.Millisecond)

	c.Close()
	close(gate)
	require.NoError(t, <-done)

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsProvisional(), "closed controllers are not mutated")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "state(9)", State(9).String())
	assert.True(t, errors.Is(ErrNotReady, ErrNotReady))
}

func TestOpen_OnLoadedRunsAfterFirstFetch(t *testing.T) {
	h := newHarness(t)
	h.peerSays("hello")
	var calls atomic.Int32
	onLoaded := func(o *Options) { o.OnLoaded = func(context.Context) { calls.Add(1) } }

	h.opened(onLoaded)
	assert.Equal(t, int32(1), calls.Load(), "runs before Open returns on a cache miss")

	c := h.controller(onLoaded)
	require.NoError(t, c.Open(context.Background()))
	c.bg.Wait()
	assert.Equal(t, int32(2), calls.Load(), "runs after the background fetch on a cache hit")

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, int32(2), calls.Load(), "later refreshes do not run it")
}

func TestOpen_OnLoadedSkippedWhenFetchFails(t *testing.T) {
	h := newHarness(t)
	h.fake.set(func(f *fakeBackend) { f.listErr = errors.New("connection reset") })
	var calls atomic.Int32

	c := h.controller(func(o *Options) { o.OnLoaded = func(context.Context) { calls.Add(1) } })
	require.Error(t, c.Open(context.Background()))
	assert.Zero(t, calls.Load())
}

func TestRefresh_RejectedConversationClearsCache(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			h := newHarness(t)
			h.peerSays("hello")
			h.cache.Write(context.Background(), h.convID, h.serverMessages())
			h.fake.set(func(f *fakeBackend) {
				f.listErr = &backend.APIError{Status: status, Message: "conversation not available"}
			})

			c := h.controller()
			require.NoError(t, c.Open(context.Background()))
			c.bg.Wait()

			_, ok := h.cache.Read(context.Background(), h.convID)
			assert.False(t, ok, "the next open must not paint a rejected conversation")
			assert.Equal(t, []string{"hello"}, contents(c.Messages()))
		})
	}
}

func TestRefresh_TransientFailureKeepsCache(t *testing.T) {
	h := newHarness(t)
	h.peerSays("hello")
	h.cache.Write(context.Background(), h.convID, h.serverMessages())
	h.fake.set(func(f *fakeBackend) { f.listErr = errors.New("connection reset") })

	c := h.controller()
	require.NoError(t, c.Open(context.Background()))
	c.bg.Wait()

	cached, ok := h.cache.Read(context.Background(), h.convID)
	require.True(t, ok)
	assert.Equal(t, []string{"hello"}, contents(cached))
}
