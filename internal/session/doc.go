// Package session is the entry point for "message this user" intents.
//
// A Manager resolves a target user to a conversation (creating it on first
// contact), makes it the active conversation, opens its thread controller,
// and starts a poller for it. Switching conversations stops the previous
// poller and closes the previous thread first, so a late response for a
// conversation that is no longer open is discarded.
//
//	mgr := session.New(session.Options{Viewer: me, Backend: api, Cache: cache})
//	defer mgr.Close()
//	conv, err := mgr.MessageUser(ctx, "u_42")
//
// Self-messaging is rejected with ErrSelfMessage before any network call.
package session
