// ABOUTME: Event and notice types published to views when messaging state changes
// ABOUTME: Notices carry the user-visible transient notifications for failures

package chat

// EventKind identifies what changed.
type EventKind string

const (
	// EventConversationsChanged fires after the conversation list is mutated or re-sorted.
	EventConversationsChanged EventKind = "conversations_changed"
	// EventMessagesChanged fires after the open thread's message array changes.
	EventMessagesChanged EventKind = "messages_changed"
	// EventNotice carries a transient notification for the user.
	EventNotice EventKind = "notice"
)

// NoticeLevel is the severity of a Notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient, user-visible notification.
type Notice struct {
	Level NoticeLevel
	Text  string
}

// Event is published through the conversation broadcaster.
type Event struct {
	Kind           EventKind
	ConversationID string
	Messages       []Message      // EventMessagesChanged: snapshot of the thread
	Conversations  []Conversation // EventConversationsChanged: snapshot of the list
	Notice         *Notice        // EventNotice
}
