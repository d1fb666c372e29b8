// Package poller keeps the open conversation in sync by polling.
//
// A Scheduler is tied to one open thread. Start begins a fixed-interval loop
// (two seconds by default); every tick re-fetches the thread through its
// Refresh method and, after a successful fetch, marks the conversation read
// on the server. A tick that fires while the previous poll is still running
// is skipped, so reconciliation never sees out-of-order results from this
// scheduler. Stop cancels the in-flight poll and waits for every goroutine
// to exit.
package poller
