// ABOUTME: Core direct-messaging types: User, Message, Conversation, LastMessage
// ABOUTME: Includes provisional id generation and ordering helpers

package chat

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProvisionalPrefix marks a message id as locally generated and unconfirmed.
const ProvisionalPrefix = "temp_"

// User is a participant as supplied by the user directory.
type User struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	AvatarURL       string `json:"avatarUrl,omitempty"`
	CurrentPosition string `json:"currentPosition,omitempty"`
}

// Message is a single direct message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         User      `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Read           bool      `json:"read"`
}

// IsProvisional reports whether the message is still awaiting server confirmation.
func (m Message) IsProvisional() bool {
	return IsProvisionalID(m.ID)
}

// LastMessage is the preview shown in the conversation list.
type LastMessage struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	SenderID  string    `json:"senderId"`
	Read      bool      `json:"read"`
}

// Conversation is a one-to-one thread as seen by the current viewer.
type Conversation struct {
	ID          string       `json:"id"`
	Participant User         `json:"participant"`
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
	UnreadCount int          `json:"unreadCount,omitempty"`
}

// LastMessageTime is derived from LastMessage; the zero time when there is none.
func (c Conversation) LastMessageTime() time.Time {
	if c.LastMessage == nil {
		return time.Time{}
	}
	return c.LastMessage.CreatedAt
}

// Preview builds the LastMessage summary for a message.
func Preview(m Message) *LastMessage {
	return &LastMessage{
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		SenderID:  m.Sender.ID,
		Read:      m.Read,
	}
}

// IsProvisionalID reports whether id was produced by NewProvisionalID.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// NewProvisionalID returns a locally unique id of the form temp_<unix-millis>_<suffix>.
func NewProvisionalID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s%d_%s", ProvisionalPrefix, now.UnixMilli(), suffix)
}

// SortMessages orders messages non-decreasing by CreatedAt, keeping the
// relative order of equal timestamps.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// SortConversations orders conversations descending by LastMessageTime.
// Conversations without messages sink to the end; ties keep their order.
func SortConversations(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessageTime().After(convs[j].LastMessageTime())
	})
}

// CloneMessages returns a copy of msgs that callers may mutate freely.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
