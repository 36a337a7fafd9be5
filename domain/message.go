// Package domain contains core concepts of the messaging system.
// This file defines Message and its target addressing rules.
package domain

import "time"

type MessageID string

// Target is the destination of a message: exactly one of Channel or
// Conversation is set, never both.
type Target struct {
	Channel      ChannelID
	Conversation ConversationKey
}

func ChannelTarget(id ChannelID) Target {
	return Target{Channel: id}
}

func DirectTarget(key ConversationKey) Target {
	return Target{Conversation: key}
}

func (t Target) IsDirect() bool {
	return t.Conversation != ""
}

// Key returns the stable stream key of the target. It doubles as the
// publish/subscribe topic for the target's message events.
func (t Target) Key() string {
	if t.IsDirect() {
		return "dm:" + string(t.Conversation)
	}
	return "message:" + string(t.Channel)
}

// ReplyRef snapshots the replied-to message so the reference stays
// displayable even if the original is later edited or deleted.
type ReplyRef struct {
	ID       MessageID  `json:"id"`
	AuthorID IdentityID `json:"authorId"`
	Content  string     `json:"content"`
}

// Message is a chat event addressed to a single target.
// The id and timestamp are assigned by the delivery layer, never by the
// sender. Content mutations are last-write-wins with no version history.
type Message struct {
	ID          MessageID
	AuthorID    IdentityID
	Target      Target
	Content     string
	Attachments []Attachment
	ReplyTo     *ReplyRef
	Edited      bool
	Deleted     bool
	Reactions   map[string]IdentitySet
	ReadBy      IdentitySet
	Mentions    []IdentityID
	CreatedAt   time.Time
}

// Before orders messages by timestamp, ties broken by id lexical order
// so that every consumer sorts identically.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// Clone deep-copies the message so a consumer can mutate its own view
// without sharing reaction or read-by sets with the producer.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Mentions != nil {
		out.Mentions = append([]IdentityID(nil), m.Mentions...)
	}
	if m.ReplyTo != nil {
		ref := *m.ReplyTo
		out.ReplyTo = &ref
	}
	if m.ReadBy != nil {
		out.ReadBy = m.ReadBy.Clone()
	}
	if m.Reactions != nil {
		out.Reactions = make(map[string]IdentitySet, len(m.Reactions))
		for emoji, who := range m.Reactions {
			out.Reactions[emoji] = who.Clone()
		}
	}
	return out
}
