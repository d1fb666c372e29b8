// Package thread implements the message thread controller for the open
// conversation.
//
// A Controller moves Empty -> Loading -> Ready -> Closed. Open paints from a
// fresh cache entry when there is one and fetches in the background;
// otherwise it fetches before becoming Ready.
//
// Sends and deletes are optimistic. Send shows a provisional message
// (id "temp_<millis>_<hex>") at once, keeps it at the tail of the list, and
// swaps it for the server copy when the backend confirms, or removes it when
// the backend fails. Sends for one conversation reach the backend in call
// order. Delete is limited to the author within the delete window.
//
// Reconcile merges server snapshots. Each fetch is stamped by BeginFetch so a
// snapshot that predates a local confirm or delete cannot undo it:
//
//	t := c.BeginFetch()
//	msgs, err := backend.ListMessages(ctx, id, limit)
//	if err == nil {
//		c.Reconcile(t, msgs)
//	}
//
// Refresh does exactly that and is what the poller calls.
package thread
