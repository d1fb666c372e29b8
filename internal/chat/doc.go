// Package chat defines the direct-messaging data model shared by the
// client components: participants, messages, conversations, and the events
// views subscribe to.
//
// # Provisional messages
//
// A message created locally before the backend has acknowledged it carries
// a provisional id (see NewProvisionalID). It is replaced by the server copy
// when the send is confirmed, or removed when the send fails. A message is
// never present in both forms at once.
//
// # Ordering
//
// Message lists are kept non-decreasing by CreatedAt. Conversation lists are
// kept descending by LastMessageTime, recomputed whenever a LastMessage
// changes.
package chat
