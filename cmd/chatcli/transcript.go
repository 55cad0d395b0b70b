package main

import (
	"slices"
	"sync"

	"chatbridge/pkg/stream/types"
)

// transcript is the ordered message list of the watched channel, kept in
// sync with realtime events
type transcript struct {
	mu       sync.RWMutex
	cid      string
	messages []types.Message
}

func newTranscript(cid string, initial []types.Message) *transcript {
	t := &transcript{cid: cid}
	for _, m := range initial {
		if m.DeletedAt == nil {
			t.messages = append(t.messages, m)
		}
	}
	return t
}

// apply folds a realtime event into the list; it reports whether anything changed
func (t *transcript) apply(ev types.Event) bool {
	if ev.CID != "" && ev.CID != t.cid {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case types.EventMessageNew:
		if ev.Message == nil || t.indexLocked(ev.Message.ID) >= 0 {
			return false
		}
		t.messages = append(t.messages, *ev.Message)
		return true
	case types.EventMessageDeleted:
		if ev.Message == nil {
			return false
		}
		i := t.indexLocked(ev.Message.ID)
		if i < 0 {
			return false
		}
		t.messages = slices.Delete(t.messages, i, i+1)
		return true
	case types.EventChannelTruncated:
		t.messages = nil
		return true
	}
	return false
}

// add records a message sent by this client if the event has not arrived yet
func (t *transcript) add(m types.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.indexLocked(m.ID) < 0 {
		t.messages = append(t.messages, m)
	}
}

func (t *transcript) snapshot() []types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.messages)
}

func (t *transcript) indexLocked(id string) int {
	return slices.IndexFunc(t.messages, func(m types.Message) bool { return m.ID == id })
}
