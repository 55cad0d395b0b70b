// Package chatsession establishes a live chat session for a local user:
// fetch a provider token, connect, resolve the two-party channel and watch it.
package chatsession

import (
	"slices"
	"strings"
)

// State is a bootstrap stage
type State string

const (
	StateIdle             State = "idle"
	StateTokenPending     State = "token_pending"
	StateConnecting       State = "connecting"
	StateChannelResolving State = "channel_resolving"
	StateWatching         State = "watching"
	StateReady            State = "ready"
	StateFailed           State = "failed"
)

// Loading reports whether a loader should be shown in this state
func (s State) Loading() bool {
	return s != StateIdle && s != StateReady && s != StateFailed
}

func (s State) String() string { return string(s) }

// DeriveChannelID returns the channel id shared by two users. The result
// does not depend on argument order.
func DeriveChannelID(a, b string) string {
	ids := []string{a, b}
	slices.Sort(ids)
	return strings.Join(ids, "-")
}
