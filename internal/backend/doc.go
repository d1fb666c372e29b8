// Package backend defines the REST operations the messaging client consumes
// and provides two implementations:
//
//   - REST: the HTTP client used by the application
//   - Memory: an in-process backend shared by all viewers, served over HTTP
//     by NewHandler for local development and used directly in tests
//
// Every response is an Envelope. A transport error and a success=false
// envelope are both failures and both match ErrRequestFailed:
//
//	if errors.Is(err, backend.ErrRequestFailed) { ... }
//
// # Routes
//
//	POST   /api/conversations                 getOrCreateConversation
//	GET    /api/conversations                 listConversations
//	GET    /api/conversations/{id}/messages   listMessages (?limit=N)
//	POST   /api/conversations/{id}/messages   sendMessage
//	POST   /api/conversations/{id}/read       markConversationRead
//	DELETE /api/messages/{id}                 deleteMessage
package backend
