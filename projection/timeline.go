// Package projection builds local timelines from observed events.
// Handles ordering, deduplication, and reconciliation by id. It never
// emits events of its own.
package projection

import (
	"context"
	"sort"
	"sync"

	"chat-core/domain"
	"chat-core/domain/event"
	"chat-core/errors"
)

// Timeline folds the event stream into one ordered log per target plus
// typing and read views. Arrival order is untrusted: inserts sort by
// (timestamp, id), so jittered delivery converges to the same log.
type Timeline struct {
	mu    sync.RWMutex
	logs  map[string][]domain.Message
	index map[domain.MessageID]string

	typing map[domain.ChannelID]domain.IdentitySet

	// pendingReads buffers receipts that arrived before their message.
	pendingReads map[domain.MessageID]domain.IdentitySet
}

func NewTimeline() *Timeline {
	return &Timeline{
		logs:         make(map[string][]domain.Message),
		index:        make(map[domain.MessageID]string),
		typing:       make(map[domain.ChannelID]domain.IdentitySet),
		pendingReads: make(map[domain.MessageID]domain.IdentitySet),
	}
}

func (t *Timeline) Consume(_ context.Context, e event.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch evt := e.(type) {
	case event.MessagePosted:
		t.upsert(evt.Message)
	case event.MessageUpdated:
		t.upsert(evt.Message)
	case event.MessageDeleted:
		t.remove(evt.ID)
	case event.TypingChanged:
		t.setTyping(evt)
	case event.MessageRead:
		t.markRead(evt)
	}
	return nil
}

// upsert replaces in place when the id is already known, preserving the
// position an edit must never change; otherwise it inserts in timestamp
// order with id as tiebreaker.
func (t *Timeline) upsert(msg domain.Message) {
	msg = msg.Clone()
	if msg.ReadBy == nil {
		// Events from foreign producers may omit the read-by set.
		msg.ReadBy = domain.NewIdentitySet()
	}
	key := msg.Target.Key()

	if pending, ok := t.pendingReads[msg.ID]; ok {
		for reader := range pending {
			msg.ReadBy.Add(reader)
		}
		delete(t.pendingReads, msg.ID)
	}

	log := t.logs[key]
	for i := range log {
		if log[i].ID == msg.ID {
			msg.CreatedAt = log[i].CreatedAt
			for reader := range log[i].ReadBy {
				msg.ReadBy.Add(reader)
			}
			log[i] = msg
			return
		}
	}

	at := sort.Search(len(log), func(i int) bool { return msg.Before(log[i]) })
	log = append(log, domain.Message{})
	copy(log[at+1:], log[at:])
	log[at] = msg
	t.logs[key] = log
	t.index[msg.ID] = key
}

func (t *Timeline) remove(id domain.MessageID) {
	key, ok := t.index[id]
	if !ok {
		return
	}
	delete(t.index, id)
	log := t.logs[key]
	for i := range log {
		if log[i].ID == id {
			t.logs[key] = append(log[:i:i], log[i+1:]...)
			return
		}
	}
}

func (t *Timeline) setTyping(evt event.TypingChanged) {
	who := t.typing[evt.Channel]
	if who == nil {
		who = domain.NewIdentitySet()
		t.typing[evt.Channel] = who
	}
	if evt.IsTyping {
		who.Add(evt.Identity)
	} else {
		who.Remove(evt.Identity)
	}
}

func (t *Timeline) markRead(evt event.MessageRead) {
	key, known := t.index[evt.MessageID]
	if !known {
		if t.pendingReads[evt.MessageID] == nil {
			t.pendingReads[evt.MessageID] = domain.NewIdentitySet()
		}
		t.pendingReads[evt.MessageID].Add(evt.Reader)
		return
	}
	log := t.logs[key]
	for i := range log {
		if log[i].ID == evt.MessageID {
			log[i].ReadBy.Add(evt.Reader)
			return
		}
	}
}

// Messages returns a copy of the target's ordered log.
func (t *Timeline) Messages(target domain.Target) []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	log := t.logs[target.Key()]
	out := make([]domain.Message, len(log))
	for i := range log {
		out[i] = log[i].Clone()
	}
	return out
}

// MessageByID resolves a message across all projected logs. Deleted or
// never-seen ids fail with ErrNotFound.
func (t *Timeline) MessageByID(id domain.MessageID) (domain.Message, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	key, ok := t.index[id]
	if !ok {
		return domain.Message{}, errors.ErrNotFound
	}
	for _, msg := range t.logs[key] {
		if msg.ID == id {
			return msg.Clone(), nil
		}
	}
	return domain.Message{}, errors.ErrNotFound
}

// TypingIn lists the identities currently typing in a channel, sorted.
func (t *Timeline) TypingIn(channel domain.ChannelID) []domain.IdentityID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	who := t.typing[channel]
	out := make([]domain.IdentityID, 0, len(who))
	for id := range who {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReadBy lists the identities that marked the message read, sorted.
func (t *Timeline) ReadBy(id domain.MessageID) []domain.IdentityID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	key, ok := t.index[id]
	if !ok {
		return nil
	}
	for _, msg := range t.logs[key] {
		if msg.ID == id {
			out := make([]domain.IdentityID, 0, len(msg.ReadBy))
			for reader := range msg.ReadBy {
				out = append(out, reader)
			}
			sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
			return out
		}
	}
	return nil
}
