// ABOUTME: Author-only delete within the delete window, optimistic or confirmed
// ABOUTME: Optimistic deletes leave a tombstone so stale snapshots cannot resurrect them

package thread

import (
	"context"
	"fmt"

	"github.com/2389/alumni-dm/internal/chat"
	"github.com/2389/alumni-dm/internal/optimistic"
)

// Delete removes one of the viewer's own messages. It is rejected without a
// network call when the message is not the viewer's (ErrNotAuthor) or is
// older than the delete window (ErrDeleteWindowExpired).
//
// Under DeleteOptimistic the message disappears at once and Delete returns
// nil; the request runs in the background and a failure is only logged and
// announced, since the next reconcile restores the message. Under
// DeleteConfirmed the message is removed after the backend acknowledges and
// a failure is returned.
func (c *Controller) Delete(ctx context.Context, messageID string) error {
	c.mu.Lock()
	if err := c.checkDeletableLocked(messageID); err != nil {
		c.mu.Unlock()
		return err
	}

	if c.opts.DeletePolicy == DeleteConfirmed {
		c.mu.Unlock()
		if err := c.opts.Backend.DeleteMessage(ctx, messageID); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == StateClosed {
			return nil
		}
		c.seq++
		c.tombstones[messageID] = &tombstone{settled: true, settledSeq: c.seq}
		c.removeConfirmedLocked(messageID)
		return nil
	}

	c.seq++
	c.tombstones[messageID] = &tombstone{}
	c.removeConfirmedLocked(messageID)
	defer c.mu.Unlock()

	// The request outlives Close so a delete is not lost by closing the thread.
	reqCtx := context.WithoutCancel(c.bgCtx)
	c.goLocked(func() {
		err := c.opts.Backend.DeleteMessage(reqCtx, messageID)

		c.mu.Lock()
		c.seq++
		if tomb, ok := c.tombstones[messageID]; ok {
			tomb.settled = true
			tomb.settledSeq = c.seq
		}
		closed := c.state == StateClosed
		c.mu.Unlock()

		if err != nil {
			c.logger.Warn("optimistic delete failed on the server; next sync will restore the message",
				"message_id", messageID,
				"error", err)
			if !closed {
				c.notify(chat.NoticeWarning, "A message could not be deleted and may reappear.")
			}
		}
	})
	return nil
}

func (c *Controller) checkDeletableLocked(messageID string) error {
	switch c.state {
	case StateClosed:
		return ErrClosed
	case StateEmpty, StateLoading:
		return ErrNotReady
	}

	i := indexOf(c.confirmed, messageID)
	if i < 0 {
		if c.pending.IsPending(optimistic.Token(messageID)) || containsID(c.recovered, messageID) {
			return ErrMessagePending
		}
		return ErrMessageNotFound
	}

	msg := c.confirmed[i]
	if msg.Sender.ID != c.opts.Viewer.ID {
		return ErrNotAuthor
	}
	if c.now().Sub(msg.CreatedAt) > c.opts.DeleteWindow {
		return ErrDeleteWindowExpired
	}
	return nil
}

func (c *Controller) removeConfirmedLocked(messageID string) {
	i := indexOf(c.confirmed, messageID)
	if i < 0 {
		return
	}
	wasTail := i == len(c.confirmed)-1
	c.confirmed = append(c.confirmed[:i], c.confirmed[i+1:]...)
	delete(c.confirmSeq, messageID)

	c.persistLocked()
	if wasTail && c.pending.Len() == 0 && len(c.recovered) == 0 {
		c.updatePreviewLocked(true)
	}
}
