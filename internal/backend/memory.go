// ABOUTME: In-memory Backend holding users, conversations, and messages for all viewers
// ABOUTME: Backs the dev server and tests; re-enforces the author and delete-window rules

package backend

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/alumni-dm/internal/chat"
)

// DefaultDeleteWindow is how long after sending an author may delete a message.
const DefaultDeleteWindow = 24 * time.Hour

type memConversation struct {
	id    string
	users [2]string
}

type memMessage struct {
	id             string
	conversationID string
	senderID       string
	content        string
	createdAt      time.Time
	read           bool
}

// Memory is a thread-safe in-memory backend shared by every viewer. Use
// ForViewer to get the Backend a particular user sees.
type Memory struct {
	mu            sync.RWMutex
	users         map[string]chat.User
	conversations map[string]*memConversation
	pairIndex     map[string]string        // pairKey -> conversation id
	messages      map[string][]*memMessage // conversation id -> messages in send order
	messageIndex  map[string]*memMessage   // message id -> message
	now           func() time.Time
	deleteWindow  time.Duration
}

// NewMemory creates an empty backend.
func NewMemory() *Memory {
	return &Memory{
		users:         make(map[string]chat.User),
		conversations: make(map[string]*memConversation),
		pairIndex:     make(map[string]string),
		messages:      make(map[string][]*memMessage),
		messageIndex:  make(map[string]*memMessage),
		now:           time.Now,
		deleteWindow:  DefaultDeleteWindow,
	}
}

// SetClock replaces the time source used to stamp messages and check delete windows.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// AddUser registers or replaces a directory user.
func (m *Memory) AddUser(u chat.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// User returns a directory user.
func (m *Memory) User(id string) (chat.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok
}

// ConversationCount returns the number of conversations across all viewers.
func (m *Memory) ConversationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

// ForViewer returns the Backend as seen by viewerID.
func (m *Memory) ForViewer(viewerID string) Backend {
	return &MemoryView{mem: m, viewerID: viewerID}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

// MemoryView is one viewer's window onto a Memory backend.
type MemoryView struct {
	mem      *Memory
	viewerID string
}

var _ Backend = (*MemoryView)(nil)

// GetOrCreateConversation returns the conversation between the viewer and
// userID, creating it on first contact. It is idempotent per pair.
func (v *MemoryView) GetOrCreateConversation(ctx context.Context, userID string) (chat.Conversation, error) {
	m := v.mem
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return chat.Conversation{}, badRequest("userId is required")
	}
	if userID == v.viewerID {
		return chat.Conversation{}, badRequest("cannot start a conversation with yourself")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return chat.Conversation{}, notFound("user")
	}

	key := pairKey(v.viewerID, userID)
	id, ok := m.pairIndex[key]
	if !ok {
		id = "c_" + uuid.New().String()
		m.conversations[id] = &memConversation{id: id, users: [2]string{v.viewerID, userID}}
		m.pairIndex[key] = id
	}
	return v.conversationLocked(m.conversations[id]), nil
}

// ListConversations returns the viewer's conversations, most recent first.
func (v *MemoryView) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	m := v.mem
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]chat.Conversation, 0)
	for _, c := range m.conversations {
		if c.users[0] == v.viewerID || c.users[1] == v.viewerID {
			out = append(out, v.conversationLocked(c))
		}
	}
	// Map iteration is random; fix the order before the stable time sort.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	chat.SortConversations(out)
	return out, nil
}

// ListMessages returns the newest limit messages, oldest first.
func (v *MemoryView) ListMessages(ctx context.Context, conversationID string, limit int) ([]chat.Message, error) {
	m := v.mem
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := v.memberConversationLocked(conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	msgs := m.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]chat.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = m.toChatLocked(msg)
	}
	return out, nil
}

// SendMessage appends a message from the viewer.
func (v *MemoryView) SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error) {
	m := v.mem
	if strings.TrimSpace(content) == "" {
		return chat.Message{}, badRequest("content is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := v.memberConversationLocked(conversationID); err != nil {
		return chat.Message{}, err
	}

	createdAt := m.now()
	if existing := m.messages[conversationID]; len(existing) > 0 {
		// Server order is send order even if the clock stalls.
		if last := existing[len(existing)-1].createdAt; createdAt.Before(last) {
			createdAt = last
		}
	}

	msg := &memMessage{
		id:             "m_" + uuid.New().String(),
		conversationID: conversationID,
		senderID:       v.viewerID,
		content:        content,
		createdAt:      createdAt,
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	m.messageIndex[msg.id] = msg
	return m.toChatLocked(msg), nil
}

// DeleteMessage removes a message authored by the viewer within the delete window.
func (v *MemoryView) DeleteMessage(ctx context.Context, messageID string) error {
	m := v.mem
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messageIndex[messageID]
	if !ok {
		return notFound("message")
	}
	if _, err := v.memberConversationLocked(msg.conversationID); err != nil {
		return err
	}
	if msg.senderID != v.viewerID {
		return forbidden("only the author can delete a message")
	}
	if m.now().Sub(msg.createdAt) > m.deleteWindow {
		return forbidden("message is too old to delete")
	}

	list := m.messages[msg.conversationID]
	for i, candidate := range list {
		if candidate.id == messageID {
			m.messages[msg.conversationID] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	delete(m.messageIndex, messageID)
	return nil
}

// MarkConversationRead marks every message addressed to the viewer as read.
func (v *MemoryView) MarkConversationRead(ctx context.Context, conversationID string) error {
	m := v.mem
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := v.memberConversationLocked(conversationID); err != nil {
		return err
	}
	for _, msg := range m.messages[conversationID] {
		if msg.senderID != v.viewerID {
			msg.read = true
		}
	}
	return nil
}

// memberConversationLocked returns the conversation if the viewer belongs to it.
func (v *MemoryView) memberConversationLocked(id string) (*memConversation, error) {
	c, ok := v.mem.conversations[id]
	if !ok || (c.users[0] != v.viewerID && c.users[1] != v.viewerID) {
		return nil, notFound("conversation")
	}
	return c, nil
}

func (v *MemoryView) conversationLocked(c *memConversation) chat.Conversation {
	m := v.mem
	otherID := c.users[0]
	if otherID == v.viewerID {
		otherID = c.users[1]
	}

	conv := chat.Conversation{ID: c.id, Participant: m.userLocked(otherID)}
	msgs := m.messages[c.id]
	if len(msgs) > 0 {
		conv.LastMessage = chat.Preview(m.toChatLocked(msgs[len(msgs)-1]))
	}
	for _, msg := range msgs {
		if msg.senderID != v.viewerID && !msg.read {
			conv.UnreadCount++
		}
	}
	return conv
}

func (m *Memory) userLocked(id string) chat.User {
	if u, ok := m.users[id]; ok {
		return u
	}
	return chat.User{ID: id, Name: id}
}

func (m *Memory) toChatLocked(msg *memMessage) chat.Message {
	return chat.Message{
		ID:             msg.id,
		ConversationID: msg.conversationID,
		Sender:         m.userLocked(msg.senderID),
		Content:        msg.content,
		CreatedAt:      msg.createdAt,
		Read:           msg.read,
	}
}
