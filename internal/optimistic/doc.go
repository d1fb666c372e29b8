// Package optimistic implements the apply/confirm/rollback protocol shared by
// every optimistic UI mutation (message sends, deletes, votes, saves).
//
//	tok := tracker.Apply(provisional)      // visible immediately
//	...
//	tracker.Confirm(tok)                    // server accepted
//	tracker.Rollback(tok)                   // server rejected
//
// The tracker only answers "is this mutation still pending"; callers own the
// state the mutation touches. Because settling is keyed by token and happens
// at most once, a late confirmation for a rolled-back mutation is a no-op.
package optimistic
