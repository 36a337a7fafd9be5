// Package transport exposes the delivery operations over a bidirectional
// websocket, one JSON object per frame, keyed by the same topics the bus
// uses in-process.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"chat-core/domain"
	"chat-core/domain/event"
	"chat-core/errors"

	"github.com/samber/lo"
)

// Frame is the wire envelope: {type, target, payload}.
type Frame struct {
	Type    string          `json:"type"`
	Target  *TargetRef      `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type TargetRef struct {
	ChannelID       string `json:"channelId,omitempty"`
	ConversationKey string `json:"conversationKey,omitempty"`
}

const (
	FrameMessage    = "message"
	FrameEdit       = "edit"
	FrameDelete     = "delete"
	FrameTyping     = "typing"
	FrameRead       = "read"
	FramePresence   = "presence"
	FrameConnect    = "connect"
	FrameDisconnect = "disconnect"
	FrameJoin       = "join"
	FrameLeave      = "leave"
)

// MessagePayload mirrors the message shape clients render.
type MessagePayload struct {
	ID          string              `json:"id"`
	AuthorID    string              `json:"authorId"`
	Content     string              `json:"content"`
	Timestamp   time.Time           `json:"timestamp"`
	Edited      bool                `json:"edited"`
	Deleted     bool                `json:"deleted"`
	Reactions   map[string][]string `json:"reactions,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	ReadBy      []string            `json:"readBy,omitempty"`
	Mentions    []string            `json:"mentions,omitempty"`
	ReplyTo     *domain.ReplyRef    `json:"replyTo,omitempty"`
}

type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type ReadPayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

type PresencePayload struct {
	UserID   string `json:"userId"`
	Status   string `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// Encode turns a bus event into its wire frame.
func Encode(e event.Event) (Frame, error) {
	switch evt := e.(type) {
	case event.MessagePosted:
		return messageFrame(FrameMessage, evt.Message)
	case event.MessageUpdated:
		return messageFrame(FrameEdit, evt.Message)
	case event.MessageDeleted:
		payload, err := json.Marshal(struct {
			ID string `json:"id"`
		}{ID: string(evt.ID)})
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: FrameDelete, Target: targetRef(evt.Target), Payload: payload}, nil
	case event.TypingChanged:
		payload, err := json.Marshal(TypingPayload{UserID: string(evt.Identity), IsTyping: evt.IsTyping})
		if err != nil {
			return Frame{}, err
		}
		return Frame{
			Type:    FrameTyping,
			Target:  &TargetRef{ChannelID: string(evt.Channel)},
			Payload: payload,
		}, nil
	case event.MessageRead:
		payload, err := json.Marshal(ReadPayload{MessageID: string(evt.MessageID), UserID: string(evt.Reader)})
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: FrameRead, Target: targetRef(evt.Target), Payload: payload}, nil
	case event.ConversationOpened:
		payload, err := json.Marshal(struct {
			RecipientID string `json:"recipientId"`
		}{RecipientID: string(evt.Other)})
		if err != nil {
			return Frame{}, err
		}
		return Frame{
			Type:    FrameJoin,
			Target:  &TargetRef{ConversationKey: string(evt.Key)},
			Payload: payload,
		}, nil
	case event.StatusChanged:
		payload, err := json.Marshal(PresencePayload{
			UserID:   string(evt.Identity.ID),
			Status:   string(evt.Identity.Status),
			LastSeen: evt.Identity.LastSeen,
		})
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: FramePresence, Payload: payload}, nil
	case event.Connected:
		return Frame{Type: FrameConnect}, nil
	case event.Disconnected:
		return Frame{Type: FrameDisconnect}, nil
	default:
		return Frame{}, fmt.Errorf("%w: %T", errors.ErrUnknownFrame, e)
	}
}

func messageFrame(kind string, msg domain.Message) (Frame, error) {
	payload, err := json.Marshal(toMessagePayload(msg))
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: kind, Target: targetRef(msg.Target), Payload: payload}, nil
}

func targetRef(t domain.Target) *TargetRef {
	if t.IsDirect() {
		return &TargetRef{ConversationKey: string(t.Conversation)}
	}
	return &TargetRef{ChannelID: string(t.Channel)}
}

func toMessagePayload(msg domain.Message) MessagePayload {
	payload := MessagePayload{
		ID:          string(msg.ID),
		AuthorID:    string(msg.AuthorID),
		Content:     msg.Content,
		Timestamp:   msg.CreatedAt,
		Edited:      msg.Edited,
		Deleted:     msg.Deleted,
		Attachments: msg.Attachments,
		Mentions: lo.Map(msg.Mentions, func(id domain.IdentityID, _ int) string {
			return string(id)
		}),
		ReplyTo: msg.ReplyTo,
	}
	for reader := range msg.ReadBy {
		payload.ReadBy = append(payload.ReadBy, string(reader))
	}
	if len(msg.Reactions) > 0 {
		payload.Reactions = make(map[string][]string, len(msg.Reactions))
		for emoji, who := range msg.Reactions {
			for id := range who {
				payload.Reactions[emoji] = append(payload.Reactions[emoji], string(id))
			}
		}
	}
	return payload
}
