// Package delivery accepts outbound message, typing, and read-receipt
// requests, assigns identifiers and timestamps, and fans them out on the
// bus. One coordinator is owned by one session lifecycle and is explicitly
// constructed, never a shared module-level singleton.
package delivery

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chat-core/bus"
	"chat-core/domain"
	"chat-core/domain/event"
	"chat-core/errors"
	"chat-core/mentions"
	"chat-core/session"

	"github.com/google/uuid"
)

type typingKey struct {
	identity domain.IdentityID
	channel  domain.ChannelID
}

type Coordinator struct {
	mu       sync.Mutex
	log      *slog.Logger
	bus      *bus.Bus
	session  *session.State
	latency  Latency
	scanner  *mentions.Scanner
	typingTTL time.Duration

	// index is this session's view of the messages it has delivered,
	// keyed by id so edit/delete/read can resolve their target.
	index map[domain.MessageID]domain.Message

	typing    map[typingKey]*time.Timer
	suspended bool
	outbox    []event.Event
}

// NewCoordinator wires a delivery coordinator to a session and a bus.
// scanner may be nil when mention extraction is not wanted. typingTTL is
// the typing-indicator inactivity window (3s in production).
func NewCoordinator(log *slog.Logger, b *bus.Bus, st *session.State,
	latency Latency, scanner *mentions.Scanner, typingTTL time.Duration) *Coordinator {
	return &Coordinator{
		log:       log,
		bus:       b,
		session:   st,
		latency:   latency,
		scanner:   scanner,
		typingTTL: typingTTL,
		index:     make(map[domain.MessageID]domain.Message),
		typing:    make(map[typingKey]*time.Timer),
	}
}

// SendChannelMessage delivers a message to a channel. The coordinator, not
// the caller, assigns the id and the UTC timestamp. A send counts as
// typing activity ceasing, so any pending indicator for the channel stops.
func (c *Coordinator) SendChannelMessage(ctx context.Context, channelID domain.ChannelID,
	body string, attachments []domain.Attachment, replyTo *domain.ReplyRef) (domain.Message, error) {

	ident, err := c.session.Current()
	if err != nil {
		return domain.Message{}, err
	}
	if strings.TrimSpace(body) == "" && len(attachments) == 0 {
		return domain.Message{}, errors.ErrEmptyMessage
	}

	c.cancelTyping(ctx, ident.ID, channelID, true)

	msg := c.newMessage(ident, domain.ChannelTarget(channelID), body, attachments, replyTo)
	return msg, c.deliver(ctx, msg)
}

// SendDirectMessage delivers a message to the canonical conversation of
// (current identity, recipient).
func (c *Coordinator) SendDirectMessage(ctx context.Context, recipientID domain.IdentityID,
	body string, attachments []domain.Attachment, replyTo *domain.ReplyRef) (domain.Message, error) {

	ident, err := c.session.Current()
	if err != nil {
		return domain.Message{}, err
	}
	if strings.TrimSpace(body) == "" && len(attachments) == 0 {
		return domain.Message{}, errors.ErrEmptyMessage
	}

	key := domain.ConversationOf(ident.ID, recipientID)
	msg := c.newMessage(ident, domain.DirectTarget(key), body, attachments, replyTo)
	return msg, c.deliver(ctx, msg)
}

func (c *Coordinator) newMessage(author domain.Identity, target domain.Target,
	body string, attachments []domain.Attachment, replyTo *domain.ReplyRef) domain.Message {
	return domain.Message{
		ID:          domain.MessageID(uuid.NewString()),
		AuthorID:    author.ID,
		Target:      target,
		Content:     strings.TrimSpace(body),
		Attachments: attachments,
		ReplyTo:     replyTo,
		Reactions:   make(map[string]domain.IdentitySet),
		ReadBy:      domain.NewIdentitySet(author.ID),
		Mentions:    c.scanner.Scan(body),
		CreatedAt:   time.Now().UTC(),
	}
}

func (c *Coordinator) deliver(ctx context.Context, msg domain.Message) error {
	c.mu.Lock()
	c.index[msg.ID] = msg
	if c.suspended {
		// Paused: keep the send, FIFO, until the connection resumes.
		c.outbox = append(c.outbox, event.MessagePosted{Message: msg})
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.latency.Wait(ctx); err != nil {
		return err
	}
	c.bus.Publish(ctx, event.MessagePosted{Message: msg})
	return nil
}

// EditMessage replaces the content of a previously delivered message and
// re-publishes the full copy on its original stream. Projectors reconcile
// by id; the edit never moves the message in their logs.
func (c *Coordinator) EditMessage(ctx context.Context, id domain.MessageID, newBody string) error {
	if _, err := c.session.Current(); err != nil {
		return err
	}
	if strings.TrimSpace(newBody) == "" {
		return errors.ErrEmptyMessage
	}

	c.mu.Lock()
	msg, ok := c.index[id]
	if !ok {
		c.mu.Unlock()
		return errors.ErrNotFound
	}
	msg.Content = strings.TrimSpace(newBody)
	msg.Edited = true
	msg.Mentions = c.scanner.Scan(newBody)
	c.index[id] = msg
	c.mu.Unlock()

	c.bus.Publish(ctx, event.MessageUpdated{Message: msg})
	return nil
}

// DeleteMessage broadcasts a tombstone on the message's original stream.
// The id is forgotten locally, so any further operation on it fails with
// ErrNotFound.
func (c *Coordinator) DeleteMessage(ctx context.Context, id domain.MessageID) error {
	if _, err := c.session.Current(); err != nil {
		return err
	}

	c.mu.Lock()
	msg, ok := c.index[id]
	if !ok {
		c.mu.Unlock()
		return errors.ErrNotFound
	}
	delete(c.index, id)
	c.mu.Unlock()

	c.bus.Publish(ctx, event.MessageDeleted{ID: id, Target: msg.Target})
	return nil
}

// React adds the current identity to the emoji's reactor set and publishes
// the upserted copy. The edited flag is untouched: only content mutations
// mark a message edited.
func (c *Coordinator) React(ctx context.Context, id domain.MessageID, emoji string) error {
	return c.mutateReaction(ctx, id, emoji, true)
}

func (c *Coordinator) Unreact(ctx context.Context, id domain.MessageID, emoji string) error {
	return c.mutateReaction(ctx, id, emoji, false)
}

func (c *Coordinator) mutateReaction(ctx context.Context, id domain.MessageID, emoji string, add bool) error {
	ident, err := c.session.Current()
	if err != nil {
		return err
	}

	c.mu.Lock()
	msg, ok := c.index[id]
	if !ok {
		c.mu.Unlock()
		return errors.ErrNotFound
	}
	msg = msg.Clone()
	if add {
		if msg.Reactions[emoji] == nil {
			msg.Reactions[emoji] = domain.NewIdentitySet()
		}
		msg.Reactions[emoji].Add(ident.ID)
	} else if who, exists := msg.Reactions[emoji]; exists {
		who.Remove(ident.ID)
		if len(who) == 0 {
			delete(msg.Reactions, emoji)
		}
	}
	c.index[id] = msg
	c.mu.Unlock()

	c.bus.Publish(ctx, event.MessageUpdated{Message: msg})
	return nil
}

// MarkAsRead records the current identity in the message's read-by set and
// publishes the receipt on the stream the message was delivered on, which
// is where its subscribers already listen. The target resolves the stream
// when the message came from another session and is absent from the local
// index. Read-by has set semantics: repeated calls by the same identity
// publish nothing new and never duplicate an entry.
func (c *Coordinator) MarkAsRead(ctx context.Context, id domain.MessageID, target domain.Target) error {
	ident, err := c.session.Current()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if msg, ok := c.index[id]; ok {
		if msg.ReadBy.Has(ident.ID) {
			c.mu.Unlock()
			return nil
		}
		msg = msg.Clone()
		msg.ReadBy.Add(ident.ID)
		c.index[id] = msg
	}
	c.mu.Unlock()

	c.bus.Publish(ctx, event.MessageRead{MessageID: id, Reader: ident.ID, Target: target})
	return nil
}

// StartTyping publishes a typing indicator and (re)arms the inactivity
// timer. Every keystroke resets the deadline (debounce, not throttle); the
// stop is auto-published only after typingTTL of silence.
func (c *Coordinator) StartTyping(ctx context.Context, channelID domain.ChannelID) error {
	ident, err := c.session.Current()
	if err != nil {
		return err
	}
	key := typingKey{identity: ident.ID, channel: channelID}

	c.mu.Lock()
	if timer, alive := c.typing[key]; alive {
		timer.Reset(c.typingTTL)
		c.mu.Unlock()
		return nil
	}
	c.typing[key] = time.AfterFunc(c.typingTTL, func() {
		c.expireTyping(key)
	})
	c.mu.Unlock()

	c.bus.Publish(ctx, event.TypingChanged{Identity: ident.ID, Channel: channelID, IsTyping: true})
	return nil
}

// StopTyping cancels the pending timer and publishes the stop. Without an
// active indicator it is a no-op, so no stale stop ever fires.
func (c *Coordinator) StopTyping(ctx context.Context, channelID domain.ChannelID) error {
	ident, err := c.session.Current()
	if err != nil {
		return err
	}
	c.cancelTyping(ctx, ident.ID, channelID, true)
	return nil
}

func (c *Coordinator) cancelTyping(ctx context.Context, identity domain.IdentityID,
	channelID domain.ChannelID, publishStop bool) {
	key := typingKey{identity: identity, channel: channelID}

	c.mu.Lock()
	timer, alive := c.typing[key]
	if alive {
		timer.Stop()
		delete(c.typing, key)
	}
	c.mu.Unlock()

	if alive && publishStop {
		c.bus.Publish(ctx, event.TypingChanged{Identity: identity, Channel: key.channel, IsTyping: false})
	}
}

func (c *Coordinator) expireTyping(key typingKey) {
	c.mu.Lock()
	if _, alive := c.typing[key]; !alive {
		// Stopped explicitly between the deadline firing and this call.
		c.mu.Unlock()
		return
	}
	delete(c.typing, key)
	c.mu.Unlock()

	c.bus.Publish(context.Background(),
		event.TypingChanged{Identity: key.identity, Channel: key.channel, IsTyping: false})
}

// UpdateStatus publishes a new presence value for the current identity.
func (c *Coordinator) UpdateStatus(ctx context.Context, status domain.Status) error {
	ident, err := c.session.Current()
	if err != nil {
		return err
	}
	ident.Status = status
	ident.LastSeen = time.Now().UTC()
	c.session.SetIdentity(&ident)
	c.bus.Publish(ctx, event.StatusChanged{Identity: ident})
	return nil
}

// Suspend pauses delivery: subsequent sends are queued in call order
// instead of published. Already dispatched publishes are fire-and-forget
// and cannot be recalled.
func (c *Coordinator) Suspend(ctx context.Context) {
	ident, _ := c.session.Current()

	c.mu.Lock()
	c.suspended = true
	c.mu.Unlock()

	c.bus.Publish(ctx, event.Disconnected{Identity: ident.ID})
}

// Resume reconnects delivery and flushes the queued sends in their
// original order, none dropped.
func (c *Coordinator) Resume(ctx context.Context) {
	ident, _ := c.session.Current()

	c.mu.Lock()
	c.suspended = false
	queued := c.outbox
	c.outbox = nil
	c.mu.Unlock()

	c.bus.Publish(ctx, event.Connected{Identity: ident.ID})
	for _, e := range queued {
		c.bus.Publish(ctx, e)
	}
}

// MessageByID returns this session's copy of a delivered message.
func (c *Coordinator) MessageByID(id domain.MessageID) (domain.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.index[id]
	if !ok {
		return domain.Message{}, errors.ErrNotFound
	}
	return msg.Clone(), nil
}
