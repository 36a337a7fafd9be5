// Package event defines the tagged union of events flowing through the bus.
// Every event knows the topic it is published on, which gives consumers
// compile-time exhaustiveness when switching on event kinds instead of
// string-keyed ad hoc listener lists.
package event

import "chat-core/domain"

// Cross-cutting topics. Per-stream topics are derived from the event's
// target (see Topic implementations below).
const (
	TopicConnect    = "connect"
	TopicDisconnect = "disconnect"
	TopicPresence   = "presence"
)

func TypingTopic(id domain.ChannelID) string {
	return "typing:" + string(id)
}

type Event interface {
	Topic() string
}

// MessagePosted announces a newly delivered message on its target stream.
type MessagePosted struct {
	Message domain.Message
}

func (e MessagePosted) Topic() string {
	return e.Message.Target.Key()
}

// MessageUpdated carries the full upserted copy of a message after an edit
// or a reaction change. Consumers reconcile by id, they never append.
type MessageUpdated struct {
	Message domain.Message
}

func (e MessageUpdated) Topic() string {
	return e.Message.Target.Key()
}

// MessageDeleted is the tombstone broadcast on the original stream so every
// subscriber drops the message, not just the deleting session.
type MessageDeleted struct {
	ID     domain.MessageID
	Target domain.Target
}

func (e MessageDeleted) Topic() string {
	return e.Target.Key()
}

type TypingChanged struct {
	Identity domain.IdentityID
	Channel  domain.ChannelID
	IsTyping bool
}

func (e TypingChanged) Topic() string {
	return TypingTopic(e.Channel)
}

// MessageRead travels on the stream the message itself was delivered on,
// so every subscriber's read view converges without extra subscriptions.
type MessageRead struct {
	MessageID domain.MessageID
	Reader    domain.IdentityID
	Target    domain.Target
}

func (e MessageRead) Topic() string {
	return e.Target.Key()
}

// ConversationOpened confirms a direct conversation and carries the
// canonical key the session must use to address or leave it.
type ConversationOpened struct {
	Key   domain.ConversationKey
	Other domain.IdentityID
}

func (e ConversationOpened) Topic() string {
	return "dm:" + string(e.Key)
}

// StatusChanged advertises a new presence value for an identity.
type StatusChanged struct {
	Identity domain.Identity
}

func (e StatusChanged) Topic() string {
	return TopicPresence
}

type Connected struct {
	Identity domain.IdentityID
}

func (e Connected) Topic() string {
	return TopicConnect
}

type Disconnected struct {
	Identity domain.IdentityID
}

func (e Disconnected) Topic() string {
	return TopicDisconnect
}
