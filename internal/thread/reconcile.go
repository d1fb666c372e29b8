// ABOUTME: Merges server snapshots into local state without losing in-flight optimistic edits
// ABOUTME: Snapshots carry the mutation sequence at fetch time so stale ones cannot undo newer local state

package thread

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/alumni-dm/internal/backend"
	"github.com/2389/alumni-dm/internal/chat"
)

// Ticket stamps a fetch with the local state it was issued against.
type Ticket struct {
	seq   uint64
	fetch uint64
}

// BeginFetch returns the ticket for a fetch about to be issued. Pass it to
// Reconcile together with the fetched messages.
func (c *Controller) BeginFetch() Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchSeq++
	return Ticket{seq: c.seq, fetch: c.fetchSeq}
}

// Refresh fetches the latest confirmed messages and reconciles them. On
// failure local state is left as it was.
func (c *Controller) Refresh(ctx context.Context) error {
	t := c.BeginFetch()
	msgs, err := c.opts.Backend.ListMessages(ctx, c.id, c.opts.HistoryLimit)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusForbidden) {
			c.logger.Warn("backend rejected conversation, clearing cached messages", "status", apiErr.Status)
			c.opts.Cache.Clear(context.WithoutCancel(ctx), c.id)
		}
		return fmt.Errorf("list messages: %w", err)
	}
	c.Reconcile(t, msgs)
	return nil
}

// Reconcile merges a server snapshot. The snapshot is authoritative for
// confirmed messages with three exceptions: messages confirmed locally after
// the fetch was issued are kept, messages deleted locally stay hidden until
// their delete settles, and pending provisional messages stay at the tail.
//
// It reports whether local state changed. Snapshots arriving after Close or
// older than an already applied snapshot are discarded, and a snapshot that
// has not grown and ends on the same message is a no-op when nothing is pending.
func (c *Controller) Reconcile(t Ticket, server []chat.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed || c.state == StateEmpty {
		c.logger.Debug("discarding snapshot", "state", c.state)
		return false
	}
	if t.fetch < c.appliedFetch {
		c.logger.Debug("discarding out-of-order snapshot", "fetch", t.fetch, "applied", c.appliedFetch)
		return false
	}
	c.appliedFetch = t.fetch

	server = chat.CloneMessages(server)
	chat.SortMessages(server)
	c.dropSettledTombstonesLocked(t, server)

	if c.state == StateReady &&
		c.pending.Len() == 0 &&
		len(c.recovered) == 0 &&
		len(server) <= len(c.confirmed) &&
		tailID(server) == tailID(c.confirmed) {
		return false
	}

	prevTail := tailID(c.confirmed)
	next := make([]chat.Message, 0, len(server)+len(c.confirmSeq))
	seen := make(map[string]bool, len(server))
	for _, m := range server {
		if m.IsProvisional() || seen[m.ID] {
			continue
		}
		if tomb, ok := c.tombstones[m.ID]; ok {
			if !tomb.settled || t.seq < tomb.settledSeq {
				continue
			}
			delete(c.tombstones, m.ID)
			c.logger.Warn("restoring message whose delete did not take effect", "message_id", m.ID)
		}
		seen[m.ID] = true
		next = append(next, m)
	}

	for _, m := range c.confirmed {
		if s, ok := c.confirmSeq[m.ID]; ok && s > t.seq && !seen[m.ID] {
			next = append(next, m)
		}
	}
	for id, s := range c.confirmSeq {
		if s <= t.seq {
			delete(c.confirmSeq, id)
		}
	}

	chat.SortMessages(next)
	c.confirmed = next
	c.resolveRecoveredLocked()
	c.state = StateReady

	c.persistLocked()
	if tail := tailID(c.confirmed); tail != prevTail && tail != "" && c.pending.Len() == 0 {
		c.updatePreviewLocked(false)
	}
	return true
}

// dropSettledTombstonesLocked forgets deletes that a snapshot issued after
// their settlement confirms: the message is no longer on the server.
func (c *Controller) dropSettledTombstonesLocked(t Ticket, server []chat.Message) {
	for id, tomb := range c.tombstones {
		if tomb.settled && t.seq >= tomb.settledSeq && !containsID(server, id) {
			delete(c.tombstones, id)
		}
	}
}

// resolveRecoveredLocked settles provisional messages recovered from the
// cache against the first snapshot.
func (c *Controller) resolveRecoveredLocked() {
	if len(c.recovered) == 0 {
		return
	}

	used := make(map[string]bool)
	undelivered := 0
	for _, r := range c.recovered {
		if id := c.matchRecoveredLocked(r, used); id != "" {
			used[id] = true
			c.logger.Debug("recovered message was delivered", "provisional_id", r.ID, "message_id", id)
			continue
		}
		undelivered++
	}
	c.recovered = nil

	if undelivered > 0 {
		c.logger.Info("recovered messages were not delivered", "count", undelivered)
		c.notify(chat.NoticeWarning, fmt.Sprintf("%d message(s) from an earlier session were not delivered.", undelivered))
	}
}

func (c *Controller) matchRecoveredLocked(r chat.Message, used map[string]bool) string {
	for _, m := range c.confirmed {
		if used[m.ID] || m.Sender.ID != c.opts.Viewer.ID || m.Content != r.Content {
			continue
		}
		d := m.CreatedAt.Sub(r.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= recoveryMatchWindow {
			return m.ID
		}
	}
	return ""
}
