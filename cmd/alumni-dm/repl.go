// ABOUTME: Interactive command loop and event rendering for the terminal client.
// ABOUTME: Slash commands drive the session manager; plain lines send to the open conversation.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/2389/alumni-dm/internal/chat"
	"github.com/2389/alumni-dm/internal/conversation"
	"github.com/2389/alumni-dm/internal/moderation"
	"github.com/2389/alumni-dm/internal/session"
	"github.com/2389/alumni-dm/internal/thread"
)

// command is one parsed input line.
type command struct {
	name string // empty for a plain message
	arg  string
}

func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{arg: line}
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}
}

type repl struct {
	mgr *session.Manager
	in  io.Reader
	out *renderer
}

func newREPL(mgr *session.Manager, in io.Reader, out io.Writer) *repl {
	return &repl{
		mgr: mgr,
		in:  in,
		out: newRenderer(out, mgr.Viewer().ID),
	}
}

func (r *repl) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, subID := r.mgr.Events().Subscribe(ctx, conversation.AllEvents)

	var wg sync.WaitGroup
	wg.Go(func() {
		for ev := range events {
			r.out.handle(ev)
		}
	})
	defer func() {
		r.mgr.Events().Unsubscribe(conversation.AllEvents, subID)
		wg.Wait()
	}()

	if err := r.mgr.RefreshConversations(ctx); err != nil {
		r.out.errorf("loading conversations: %v", err)
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
			return
		}
		readErr <- io.EOF
	}()

	for {
		r.out.prompt(r.mgr)

		var line string
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case line = <-lines:
		}

		cmd := parseCommand(line)
		if cmd.name == "" && cmd.arg == "" {
			continue
		}
		if cmd.name == "quit" || cmd.name == "exit" || cmd.name == "q" {
			return nil
		}
		r.dispatch(ctx, cmd)
	}
}

func (r *repl) dispatch(ctx context.Context, cmd command) {
	switch cmd.name {
	case "":
		if _, err := r.mgr.Send(ctx, cmd.arg); err != nil {
			r.out.errorf("%s", describeError(err))
		}

	case "list":
		if err := r.mgr.RefreshConversations(ctx); err != nil {
			r.out.errorf("refreshing conversations: %v", err)
		}
		r.out.conversations(r.mgr.Conversations().List())

	case "dm":
		if cmd.arg == "" {
			r.out.errorf("usage: /dm <userId>")
			return
		}
		conv, err := r.mgr.MessageUser(ctx, cmd.arg)
		r.opened(conv, err)

	case "open":
		if cmd.arg == "" {
			r.out.errorf("usage: /open <conversationId|userId>")
			return
		}
		conv, err := r.mgr.OpenConversation(ctx, cmd.arg)
		r.opened(conv, err)

	case "history":
		msgs, err := r.mgr.Messages()
		if err != nil {
			r.out.errorf("%s", describeError(err))
			return
		}
		r.out.history(msgs)

	case "delete":
		if cmd.arg == "" {
			r.out.errorf("usage: /delete <messageId>")
			return
		}
		if err := r.mgr.Delete(ctx, cmd.arg); err != nil {
			r.out.errorf("%s", describeError(err))
		}

	case "close":
		r.mgr.CloseActive()
		r.out.setActive("", nil)

	case "help":
		r.out.help()

	default:
		r.out.errorf("unknown command /%s (try /help)", cmd.name)
	}
}

// opened reports the result of /dm or /open. A failed initial load still
// leaves the conversation active; the poller keeps retrying.
func (r *repl) opened(conv chat.Conversation, err error) {
	if conv.ID == "" {
		r.out.errorf("%s", describeError(err))
		return
	}
	if err != nil {
		r.out.errorf("loading messages: %s", describeError(err))
	}

	var msgs []chat.Message
	if active, t, ok := r.mgr.Active(); ok && active.ID == conv.ID {
		msgs = t.Messages()
	}
	r.out.setActive(conv.ID, msgs)
	r.out.infof("now messaging %s (%s)", displayName(conv.Participant), conv.ID)
}

func describeError(err error) string {
	switch {
	case errors.Is(err, thread.ErrEmptyMessage):
		return "message is empty"
	case errors.Is(err, moderation.ErrRejected):
		return "message was blocked by moderation"
	case errors.Is(err, session.ErrSelfMessage):
		return "you cannot message yourself"
	case errors.Is(err, session.ErrNoActiveConversation):
		return "no conversation open (use /dm or /open)"
	case errors.Is(err, thread.ErrNotAuthor):
		return "you can only delete your own messages"
	case errors.Is(err, thread.ErrDeleteWindowExpired):
		return "that message is too old to delete"
	case errors.Is(err, thread.ErrMessagePending):
		return "that message is still sending"
	default:
		return err.Error()
	}
}

func displayName(u chat.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

// renderer prints events for the active conversation. It remembers which
// confirmed message ids it has shown so each snapshot prints only what is new.
type renderer struct {
	mu       sync.Mutex
	w        io.Writer
	viewerID string
	activeID string
	seen     map[string]struct{}
	unread   map[string]int
}

func newRenderer(w io.Writer, viewerID string) *renderer {
	return &renderer{
		w:        w,
		viewerID: viewerID,
		seen:     make(map[string]struct{}),
		unread:   make(map[string]int),
	}
}

func (r *renderer) setActive(conversationID string, msgs []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.activeID = conversationID
	r.seen = make(map[string]struct{})
	for _, m := range msgs {
		if m.IsProvisional() {
			continue
		}
		r.seen[m.ID] = struct{}{}
		r.printMessageLocked(m, false)
	}
}

func (r *renderer) handle(ev chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case chat.EventNotice:
		if ev.Notice == nil || (ev.ConversationID != "" && ev.ConversationID != r.activeID) {
			return
		}
		r.noticeLocked(*ev.Notice)

	case chat.EventMessagesChanged:
		if ev.ConversationID == "" || ev.ConversationID != r.activeID {
			return
		}
		present := make(map[string]struct{}, len(ev.Messages))
		for _, m := range ev.Messages {
			if m.IsProvisional() {
				continue
			}
			present[m.ID] = struct{}{}
			if _, ok := r.seen[m.ID]; !ok {
				r.seen[m.ID] = struct{}{}
				r.printMessageLocked(m, false)
			}
		}
		for id := range r.seen {
			if _, ok := present[id]; !ok {
				delete(r.seen, id)
				fmt.Fprintln(r.w, color.HiBlackString("  [message %s deleted]", id))
			}
		}

	case chat.EventConversationsChanged:
		for _, c := range ev.Conversations {
			prev := r.unread[c.ID]
			r.unread[c.ID] = c.UnreadCount
			if c.ID != r.activeID && c.UnreadCount > prev {
				fmt.Fprintln(r.w, color.CyanString("  [new message from %s in %s]", displayName(c.Participant), c.ID))
			}
		}
	}
}

func (r *renderer) printMessageLocked(m chat.Message, withID bool) {
	who := color.GreenString(displayName(m.Sender))
	if m.Sender.ID == r.viewerID {
		who = color.BlueString("you")
	}
	ts := color.HiBlackString(m.CreatedAt.Local().Format("Jan 2 15:04"))

	line := fmt.Sprintf("  %s %s: %s", ts, who, m.Content)
	if m.IsProvisional() {
		line += color.HiBlackString(" (sending)")
	}
	if withID {
		line += color.HiBlackString(" [%s]", m.ID)
	}
	fmt.Fprintln(r.w, line)
}

func (r *renderer) noticeLocked(n chat.Notice) {
	switch n.Level {
	case chat.NoticeError:
		fmt.Fprintln(r.w, color.RedString("  [error] %s", n.Text))
	case chat.NoticeWarning:
		fmt.Fprintln(r.w, color.YellowString("  [warning] %s", n.Text))
	default:
		fmt.Fprintln(r.w, color.CyanString("  [info] %s", n.Text))
	}
}

func (r *renderer) history(msgs []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(msgs) == 0 {
		fmt.Fprintln(r.w, "No messages yet")
		return
	}
	fmt.Fprintln(r.w, strings.Repeat("-", 60))
	for _, m := range msgs {
		r.printMessageLocked(m, true)
	}
	fmt.Fprintln(r.w, strings.Repeat("-", 60))
}

func (r *renderer) conversations(convs []chat.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(convs) == 0 {
		fmt.Fprintln(r.w, "No conversations yet (start one with /dm <userId>)")
		return
	}
	fmt.Fprintln(r.w, "Conversations:")
	for _, c := range convs {
		preview := ""
		when := ""
		if c.LastMessage != nil {
			preview = truncate(c.LastMessage.Content, 50)
			when = c.LastMessage.CreatedAt.Local().Format(time.DateTime)
		}
		unread := ""
		if c.UnreadCount > 0 {
			unread = color.YellowString(" (%d unread)", c.UnreadCount)
		}
		fmt.Fprintf(r.w, "  %s  %s%s  %s %s\n",
			color.HiBlackString(c.ID),
			displayName(c.Participant),
			unread,
			color.HiBlackString(when),
			preview)
	}
}

func (r *renderer) help() {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintln(r.w, "Commands:")
	fmt.Fprintln(r.w, "  /list             List conversations")
	fmt.Fprintln(r.w, "  /dm <userId>      Message a user (creates the conversation if needed)")
	fmt.Fprintln(r.w, "  /open <id>        Open an existing conversation by its id or the other user's id")
	fmt.Fprintln(r.w, "  /history          Show messages with their ids")
	fmt.Fprintln(r.w, "  /delete <msgId>   Delete one of your recent messages")
	fmt.Fprintln(r.w, "  /close            Close the open conversation")
	fmt.Fprintln(r.w, "  /help             Show this help")
	fmt.Fprintln(r.w, "  /quit             Exit")
	fmt.Fprintln(r.w, "Anything else is sent to the open conversation.")
}

func (r *renderer) prompt(mgr *session.Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conv, _, ok := mgr.Active(); ok {
		fmt.Fprintf(r.w, "[%s]> ", displayName(conv.Participant))
		return
	}
	fmt.Fprint(r.w, "> ")
}

func (r *renderer) errorf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, color.RedString("[error] "+format, args...))
}

func (r *renderer) infof(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, color.CyanString(format, args...))
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
