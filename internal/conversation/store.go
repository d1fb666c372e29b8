// ABOUTME: ConversationStore keeps the viewer's conversation list sorted by last activity
// ABOUTME: Optimistic previews, get-or-create, and list refresh all funnel through here

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/alumni-dm/internal/backend"
	"github.com/2389/alumni-dm/internal/chat"
)

// ConversationBackend is what the store needs from the backend.
type ConversationBackend interface {
	GetOrCreateConversation(ctx context.Context, userID string) (chat.Conversation, error)
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
}

var _ ConversationBackend = (backend.Backend)(nil)

// Store is the in-memory ordered conversation list. The list is always sorted
// descending by LastMessageTime; every mutation re-sorts and publishes an
// EventConversationsChanged snapshot.
type Store struct {
	mu      sync.Mutex
	backend ConversationBackend
	convs   []chat.Conversation
	events  *Broadcaster
	logger  *slog.Logger
}

// NewStore creates an empty store. events may be nil.
func NewStore(b ConversationBackend, events *Broadcaster, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: b,
		events:  events,
		logger:  logger.With("component", "conversation_store"),
	}
}

// List returns a copy of the conversation list in display order.
func (s *Store) List() []chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneConversations(s.convs)
}

// Get returns the conversation with id.
func (s *Store) Get(id string) (chat.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return cloneConversation(s.convs[i]), true
	}
	return chat.Conversation{}, false
}

// FindByParticipant returns the conversation whose other party is userID.
func (s *Store) FindByParticipant(userID string) (chat.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.participantIndexLocked(strings.TrimSpace(userID)); i >= 0 {
		return cloneConversation(s.convs[i]), true
	}
	return chat.Conversation{}, false
}

// Upsert inserts conv or merges it into the entry with the same id. A merge
// replaces the participant when conv carries one and the last message when
// conv has one; the unread count always comes from conv.
func (s *Store) Upsert(conv chat.Conversation) {
	s.mu.Lock()
	s.upsertLocked(conv)
	snapshot := s.sortLocked()
	s.mu.Unlock()

	s.publish(snapshot)
}

func (s *Store) upsertLocked(conv chat.Conversation) {
	conv = cloneConversation(conv)
	i := s.indexLocked(conv.ID)
	if i < 0 {
		s.convs = append(s.convs, conv)
		return
	}

	existing := &s.convs[i]
	if conv.Participant.ID != "" {
		existing.Participant = conv.Participant
	}
	if conv.LastMessage != nil {
		existing.LastMessage = conv.LastMessage
	}
	existing.UnreadCount = conv.UnreadCount
}

// ApplyMessageSent makes msg the conversation's last message preview. The
// conversation moves to the front before the stable re-sort, so it lands at
// index 0 exactly when its new LastMessageTime is the maximum.
func (s *Store) ApplyMessageSent(conversationID string, msg chat.Message) {
	s.mu.Lock()
	i := s.indexLocked(conversationID)
	if i < 0 {
		s.mu.Unlock()
		s.logger.Debug("message for unknown conversation", "conversation_id", conversationID)
		return
	}

	conv := s.convs[i]
	conv.LastMessage = chat.Preview(msg)
	s.convs = append(s.convs[:i], s.convs[i+1:]...)
	s.convs = append([]chat.Conversation{conv}, s.convs...)
	snapshot := s.sortLocked()
	s.mu.Unlock()

	s.publish(snapshot)
}

// ApplyMessageDeleted replaces the conversation's preview after its latest
// message went away. newLast is the preview of the message now at the tail,
// or nil when the thread is empty.
func (s *Store) ApplyMessageDeleted(conversationID string, newLast *chat.LastMessage) {
	s.mu.Lock()
	i := s.indexLocked(conversationID)
	if i < 0 {
		s.mu.Unlock()
		return
	}

	if newLast != nil {
		cp := *newLast
		newLast = &cp
	}
	s.convs[i].LastMessage = newLast
	snapshot := s.sortLocked()
	s.mu.Unlock()

	s.publish(snapshot)
}

// MarkRead zeroes the local unread count for a conversation.
func (s *Store) MarkRead(conversationID string) {
	s.mu.Lock()
	i := s.indexLocked(conversationID)
	if i < 0 || s.convs[i].UnreadCount == 0 {
		s.mu.Unlock()
		return
	}
	s.convs[i].UnreadCount = 0
	snapshot := cloneConversations(s.convs)
	s.mu.Unlock()

	s.publish(snapshot)
}

// GetOrCreateWithUser resolves the conversation with userID through the
// backend's get-or-create and upserts the result. Repeated calls for the same
// user never add a second local entry, even if the backend hands back a
// different id for the pair.
func (s *Store) GetOrCreateWithUser(ctx context.Context, userID string) (chat.Conversation, error) {
	userID = strings.TrimSpace(userID)
	conv, err := s.backend.GetOrCreateConversation(ctx, userID)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("get or create conversation with %s: %w", userID, err)
	}

	s.mu.Lock()
	if s.indexLocked(conv.ID) < 0 {
		if i := s.participantIndexLocked(conv.Participant.ID); i >= 0 {
			s.logger.Warn("backend returned a new id for an existing participant",
				"participant_id", conv.Participant.ID,
				"local_id", s.convs[i].ID,
				"backend_id", conv.ID)
			s.convs = append(s.convs[:i], s.convs[i+1:]...)
		}
	}
	s.upsertLocked(conv)
	snapshot := s.sortLocked()
	i := s.indexLocked(conv.ID)
	result := cloneConversation(s.convs[i])
	s.mu.Unlock()

	s.publish(snapshot)
	return result, nil
}

// Refresh replaces the list with the backend's. A local conversation whose
// last message is newer than the server's keeps its local preview, since an
// optimistic send may not be reflected yet. On failure the list is untouched.
func (s *Store) Refresh(ctx context.Context) error {
	fresh, err := s.backend.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	s.mu.Lock()
	local := make(map[string]chat.Conversation, len(s.convs))
	for _, c := range s.convs {
		local[c.ID] = c
	}

	next := make([]chat.Conversation, 0, len(fresh))
	for _, c := range fresh {
		c = cloneConversation(c)
		if prev, ok := local[c.ID]; ok && prev.LastMessageTime().After(c.LastMessageTime()) {
			c.LastMessage = prev.LastMessage
		}
		next = append(next, c)
	}
	s.convs = next
	snapshot := s.sortLocked()
	s.mu.Unlock()

	s.logger.Debug("conversations refreshed", "count", len(snapshot))
	s.publish(snapshot)
	return nil
}

func (s *Store) indexLocked(id string) int {
	for i, c := range s.convs {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) participantIndexLocked(userID string) int {
	if userID == "" {
		return -1
	}
	for i, c := range s.convs {
		if c.Participant.ID == userID {
			return i
		}
	}
	return -1
}

// sortLocked re-sorts the list and returns a snapshot for publishing.
func (s *Store) sortLocked() []chat.Conversation {
	chat.SortConversations(s.convs)
	return cloneConversations(s.convs)
}

func (s *Store) publish(snapshot []chat.Conversation) {
	if s.events == nil {
		return
	}
	s.events.Publish(chat.Event{
		Kind:          chat.EventConversationsChanged,
		Conversations: snapshot,
	})
}

func cloneConversation(c chat.Conversation) chat.Conversation {
	if c.LastMessage != nil {
		lm := *c.LastMessage
		c.LastMessage = &lm
	}
	return c
}

func cloneConversations(convs []chat.Conversation) []chat.Conversation {
	out := make([]chat.Conversation, len(convs))
	for i, c := range convs {
		out[i] = cloneConversation(c)
	}
	return out
}
