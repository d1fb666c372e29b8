// ABOUTME: Tests for the terminal client's command parsing, rendering and command loop
// ABOUTME: The loop test drives a real session manager over the in-memory backend

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/alumni-dm/internal/backend"
	"github.com/2389/alumni-dm/internal/chat"
	"github.com/2389/alumni-dm/internal/config"
	"github.com/2389/alumni-dm/internal/moderation"
	"github.com/2389/alumni-dm/internal/msgcache"
	"github.com/2389/alumni-dm/internal/session"
	"github.com/2389/alumni-dm/internal/thread"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want command
	}{
		{"hello there", command{arg: "hello there"}},
		{"  /dm   grace ", command{name: "dm", arg: "grace"}},
		{"/HELP", command{name: "help"}},
		{"/delete m_1", command{name: "delete", arg: "m_1"}},
		{"   ", command{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseCommand(tt.in), "input %q", tt.in)
	}
}

func TestMessagingFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Messaging.DeletePolicy = "confirmed"
	cfg.Messaging.RecoveredProvisional = "match"
	cfg.Messaging.PollInterval = 3 * time.Second

	m := messagingFromConfig(cfg.Messaging)
	assert.Equal(t, thread.DeleteConfirmed, m.DeletePolicy)
	assert.Equal(t, thread.RecoverMatch, m.RecoveryPolicy)
	assert.Equal(t, 3*time.Second, m.PollInterval)
	assert.Equal(t, 50, m.HistoryLimit)
	assert.True(t, m.RefreshConversations)
}

func TestDescribeError(t *testing.T) {
	assert.Equal(t, "message was blocked by moderation", describeError(moderation.ErrRejected))
	assert.Equal(t, "you cannot message yourself", describeError(session.ErrSelfMessage))
	assert.Contains(t, describeError(session.ErrNoActiveConversation), "/dm")
}

func TestRenderer_PrintsOnlyNewConfirmedMessages(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, "ada")

	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	first := chat.Message{ID: "m_1", ConversationID: "c1", Sender: chat.User{ID: "grace", Name: "Grace"}, Content: "hi", CreatedAt: t0}
	r.setActive("c1", []chat.Message{first})
	assert.Contains(t, buf.String(), "Grace: hi")
	buf.Reset()

	pending := chat.Message{ID: chat.NewProvisionalID(t0), ConversationID: "c1", Sender: chat.User{ID: "ada"}, Content: "on its way", CreatedAt: t0}
	r.handle(chat.Event{Kind: chat.EventMessagesChanged, ConversationID: "c1", Messages: []chat.Message{first, pending}})
	assert.Empty(t, buf.String(), "provisional messages wait for confirmation")

	confirmed := pending
	confirmed.ID = "m_2"
	r.handle(chat.Event{Kind: chat.EventMessagesChanged, ConversationID: "c1", Messages: []chat.Message{first, confirmed}})
	assert.Contains(t, buf.String(), "you: on its way")
	assert.NotContains(t, buf.String(), "Grace: hi")
	buf.Reset()

	r.handle(chat.Event{Kind: chat.EventMessagesChanged, ConversationID: "c1", Messages: []chat.Message{confirmed}})
	assert.Contains(t, buf.String(), "[message m_1 deleted]")
	buf.Reset()

	r.handle(chat.Event{Kind: chat.EventMessagesChanged, ConversationID: "other", Messages: []chat.Message{first}})
	assert.Empty(t, buf.String(), "other conversations are not rendered")
}

func TestRenderer_Notices(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, "ada")
	r.setActive("c1", nil)

	r.handle(chat.Event{Kind: chat.EventNotice, ConversationID: "c1", Notice: &chat.Notice{Level: chat.NoticeWarning, Text: "delete failed"}})
	r.handle(chat.Event{Kind: chat.EventNotice, ConversationID: "c2", Notice: &chat.Notice{Level: chat.NoticeError, Text: "elsewhere"}})
	r.handle(chat.Event{Kind: chat.EventNotice, Notice: &chat.Notice{Level: chat.NoticeInfo, Text: "global"}})

	out := buf.String()
	assert.Contains(t, out, "[warning] delete failed")
	assert.NotContains(t, out, "elsewhere")
	assert.Contains(t, out, "[info] global")
}

func TestRenderer_UnreadInOtherConversation(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, "ada")
	r.setActive("c1", nil)

	convs := []chat.Conversation{
		{ID: "c1", Participant: chat.User{ID: "grace", Name: "Grace"}, UnreadCount: 2},
		{ID: "c2", Participant: chat.User{ID: "alan", Name: "Alan"}, UnreadCount: 1},
	}
	r.handle(chat.Event{Kind: chat.EventConversationsChanged, Conversations: convs})
	r.handle(chat.Event{Kind: chat.EventConversationsChanged, Conversations: convs})

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "new message from Alan"))
	assert.NotContains(t, out, "new message from Grace")
}

func TestREPL_CommandLoop(t *testing.T) {
	mem := backend.NewMemory()
	mem.AddUser(chat.User{ID: "ada", Name: "Ada Lovelace"})
	mem.AddUser(chat.User{ID: "grace", Name: "Grace Hopper"})

	mgr := session.New(session.Options{
		Viewer:    chat.User{ID: "ada", Name: "Ada Lovelace"},
		Backend:   mem.ForViewer("ada"),
		Cache:     msgcache.New(nil, 0, nil),
		Gate:      moderation.Default(),
		Messaging: session.Messaging{PollInterval: time.Hour},
	})
	defer mgr.Close()

	input := strings.Join([]string{
		"hello?",
		"/dm ada",
		"/dm grace",
		"hello grace",
		"/history",
		"/delete missing",
		"/bogus",
		"/quit",
		"never sent",
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, newREPL(mgr, strings.NewReader(input), &out).run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "no conversation open")
	assert.Contains(t, text, "you cannot message yourself")
	assert.Contains(t, text, "now messaging Grace Hopper")
	assert.Contains(t, text, "you: hello grace")
	assert.Contains(t, text, "unknown command /bogus")

	conv, _, ok := mgr.Active()
	require.True(t, ok)
	msgs, err := mem.ForViewer("grace").ListMessages(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello grace", msgs[0].Content)
}

func TestGetToken(t *testing.T) {
	dir := t.TempDir()
	configPath := dir + "/config.yaml"

	t.Setenv("ALUMNI_TOKEN", "")
	assert.Equal(t, "flag", getToken(" flag ", "cfg", configPath))
	assert.Equal(t, "cfg", getToken("", "cfg", configPath))

	t.Setenv("ALUMNI_TOKEN", "env")
	assert.Equal(t, "env", getToken("", "", configPath))

	t.Setenv("ALUMNI_TOKEN", "")
	assert.Empty(t, getToken("", "", configPath))
}
