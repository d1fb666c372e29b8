// ABOUTME: Optimistic send: provisional message first, then confirm or roll back
// ABOUTME: Sends in one conversation reach the backend in call order

package thread

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/alumni-dm/internal/chat"
	"github.com/2389/alumni-dm/internal/moderation"
	"github.com/2389/alumni-dm/internal/optimistic"
)

// Send validates text, shows it immediately as a provisional message, and
// sends it. On success the provisional message is replaced by the server copy
// and the confirmed message is returned. On failure it is removed and the
// error is returned; nothing is retried.
//
// Empty text and moderation rejections fail before any state change or
// network call with ErrEmptyMessage or moderation.ErrRejected.
func (c *Controller) Send(ctx context.Context, text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, ErrEmptyMessage
	}
	if res := c.opts.Gate.Check(text); !res.Allowed {
		c.logger.Info("send blocked by moderation")
		return chat.Message{}, moderation.ErrRejected
	}

	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return chat.Message{}, ErrClosed
	case StateEmpty:
		c.mu.Unlock()
		return chat.Message{}, ErrNotReady
	}

	now := c.now()
	provisional := chat.Message{
		ID:             chat.NewProvisionalID(now),
		ConversationID: c.id,
		Sender:         c.opts.Viewer,
		Content:        text,
		CreatedAt:      now,
	}
	tok := c.pending.Apply(provisional)
	c.persistLocked()
	c.updatePreviewLocked(false)

	prev := c.sendTail
	done := make(chan struct{})
	c.sendTail = done
	c.mu.Unlock()
	defer close(done)

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			c.rollback(tok)
			return chat.Message{}, fmt.Errorf("send message: %w", ctx.Err())
		}
	}

	msg, err := c.opts.Backend.SendMessage(ctx, c.id, text)
	if err != nil {
		c.logger.Warn("send failed, removing provisional message", "error", err)
		c.rollback(tok)
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}

	c.confirm(tok, msg)
	return msg, nil
}

// confirm swaps the provisional message for the server copy. A racing
// reconcile may already have added the server copy; it is never added twice.
func (c *Controller) confirm(tok optimistic.Token, msg chat.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		c.logger.Debug("send confirmed after close", "message_id", msg.ID)
		return
	}
	if _, ok := c.pending.Confirm(tok); !ok {
		return
	}

	c.seq++
	c.confirmSeq[msg.ID] = c.seq
	if !containsID(c.confirmed, msg.ID) {
		c.confirmed = append(c.confirmed, msg)
		chat.SortMessages(c.confirmed)
	}
	c.persistLocked()
	c.updatePreviewLocked(false)
}

func (c *Controller) rollback(tok optimistic.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending.Rollback(tok); !ok || c.state == StateClosed {
		return
	}
	c.persistLocked()
	c.updatePreviewLocked(true)
}

// updatePreviewLocked pushes the displayed tail to the conversation list.
// removal is set when the old tail went away rather than a new one arriving.
func (c *Controller) updatePreviewLocked(removal bool) {
	if c.opts.Conversations == nil {
		return
	}
	view := c.viewLocked()
	if !removal {
		if len(view) > 0 {
			c.opts.Conversations.ApplyMessageSent(c.id, view[len(view)-1])
		}
		return
	}
	if len(view) == 0 && c.state != StateReady {
		return
	}
	var last *chat.LastMessage
	if len(view) > 0 {
		last = chat.Preview(view[len(view)-1])
	}
	c.opts.Conversations.ApplyMessageDeleted(c.id, last)
}

func containsID(msgs []chat.Message, id string) bool {
	return indexOf(msgs, id) >= 0
}

func indexOf(msgs []chat.Message, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}
