// Package moderation provides the pre-send content gate. Every outgoing
// message is checked before any optimistic mutation or network call; a
// rejection aborts the action and is never retried.
package moderation
