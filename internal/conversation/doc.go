// Package conversation holds the viewer's conversation list and the event
// broadcaster that tells views when messaging state changes.
//
// # Store
//
// Store is the source of the conversation list UI. It is kept sorted
// descending by each conversation's last message time, and the order is
// recomputed after every mutation:
//
//   - Upsert(conv): insert or merge by id
//   - ApplyMessageSent / ApplyMessageDeleted: optimistic preview updates
//   - GetOrCreateWithUser(ctx, userID): backend get-or-create, then upsert
//   - Refresh(ctx): replace from the backend, keeping newer local previews
//   - MarkRead(id): zero the unread count after a server mark-read
//
// # Broadcaster
//
// Broadcaster fans chat.Events out to subscribers. A subscriber picks a
// conversation id or AllEvents:
//
//	ch, _ := events.Subscribe(ctx, conversation.AllEvents)
//	for ev := range ch {
//		render(ev)
//	}
//
// Publishing never blocks; a subscriber whose buffer is full misses events
// and should re-read state from the store or thread controller.
package conversation
