package services

import (
	"context"
	"sync"

	"chat-core/bus"
	"chat-core/contract"
	"chat-core/delivery"
	"chat-core/domain"
	"chat-core/domain/event"
	"chat-core/projection"
	"chat-core/repositories"
	"chat-core/session"
)

type IChatService interface {
	SendChannelMessage(ctx context.Context, channelID domain.ChannelID, body string,
		attachments []domain.Attachment, replyTo *domain.ReplyRef) (domain.Message, error)
	SendDirectMessage(ctx context.Context, recipientID domain.IdentityID, body string,
		attachments []domain.Attachment, replyTo *domain.ReplyRef) (domain.Message, error)
	EditMessage(ctx context.Context, id domain.MessageID, newBody string) error
	DeleteMessage(ctx context.Context, id domain.MessageID) error
	React(ctx context.Context, id domain.MessageID, emoji string) error
	Unreact(ctx context.Context, id domain.MessageID, emoji string) error
	MarkAsRead(ctx context.Context, id domain.MessageID) error
	StartTyping(ctx context.Context, channelID domain.ChannelID) error
	StopTyping(ctx context.Context, channelID domain.ChannelID) error
	UpdateStatus(ctx context.Context, status domain.Status) error
	JoinChannel(channelID domain.ChannelID, extra ...contract.EventSink) error
	LeaveChannel(channelID domain.ChannelID)
	OpenConversation(other domain.IdentityID, extra ...contract.EventSink) (domain.ConversationKey, error)
	CloseConversation(key domain.ConversationKey)
	History(ctx context.Context, target domain.Target, cursor *string) ([]domain.Message, *string, error)
	Close()
}

// ChatService binds one session's coordinator, projector, and topic
// subscriptions together. Joining a channel subscribes its message and
// typing streams; leaving unsubscribes them, which is the only delivery
// cancellation the core offers (in-flight publishes are fire-and-forget).
type ChatService struct {
	mu          sync.Mutex
	bus         *bus.Bus
	session     *session.State
	coordinator *delivery.Coordinator
	projector   *projection.Timeline
	history     repositories.IMessageRepository
	subs        map[string][]*bus.Subscription
}

func NewChatService(b *bus.Bus, st *session.State, coordinator *delivery.Coordinator,
	projector *projection.Timeline, history repositories.IMessageRepository) *ChatService {
	return &ChatService{
		bus:         b,
		session:     st,
		coordinator: coordinator,
		projector:   projector,
		history:     history,
		subs:        make(map[string][]*bus.Subscription),
	}
}

func (s *ChatService) SendChannelMessage(ctx context.Context, channelID domain.ChannelID, body string,
	attachments []domain.Attachment, replyTo *domain.ReplyRef) (domain.Message, error) {
	return s.coordinator.SendChannelMessage(ctx, channelID, body, attachments, replyTo)
}

func (s *ChatService) SendDirectMessage(ctx context.Context, recipientID domain.IdentityID, body string,
	attachments []domain.Attachment, replyTo *domain.ReplyRef) (domain.Message, error) {
	return s.coordinator.SendDirectMessage(ctx, recipientID, body, attachments, replyTo)
}

func (s *ChatService) EditMessage(ctx context.Context, id domain.MessageID, newBody string) error {
	return s.coordinator.EditMessage(ctx, id, newBody)
}

func (s *ChatService) DeleteMessage(ctx context.Context, id domain.MessageID) error {
	return s.coordinator.DeleteMessage(ctx, id)
}

func (s *ChatService) React(ctx context.Context, id domain.MessageID, emoji string) error {
	return s.coordinator.React(ctx, id, emoji)
}

func (s *ChatService) Unreact(ctx context.Context, id domain.MessageID, emoji string) error {
	return s.coordinator.Unreact(ctx, id, emoji)
}

// MarkAsRead resolves the message's stream from this session's timeline,
// so receipts for messages authored elsewhere still reach every member.
func (s *ChatService) MarkAsRead(ctx context.Context, id domain.MessageID) error {
	ident, err := s.session.Current()
	if err != nil {
		return err
	}
	msg, err := s.projector.MessageByID(id)
	if err != nil {
		return err
	}
	if msg.ReadBy.Has(ident.ID) {
		return nil
	}
	return s.coordinator.MarkAsRead(ctx, id, msg.Target)
}

func (s *ChatService) StartTyping(ctx context.Context, channelID domain.ChannelID) error {
	return s.coordinator.StartTyping(ctx, channelID)
}

func (s *ChatService) StopTyping(ctx context.Context, channelID domain.ChannelID) error {
	return s.coordinator.StopTyping(ctx, channelID)
}

func (s *ChatService) UpdateStatus(ctx context.Context, status domain.Status) error {
	return s.coordinator.UpdateStatus(ctx, status)
}

// JoinChannel registers the membership and subscribes the session's
// projector (plus any extra sinks, typically a connection sink) to the
// channel's message and typing streams.
func (s *ChatService) JoinChannel(channelID domain.ChannelID, extra ...contract.EventSink) error {
	if err := s.session.Join(channelID); err != nil {
		return err
	}
	target := domain.ChannelTarget(channelID)
	s.subscribe(extra, target.Key(), event.TypingTopic(channelID))
	return nil
}

func (s *ChatService) LeaveChannel(channelID domain.ChannelID) {
	s.session.Leave(channelID)
	target := domain.ChannelTarget(channelID)
	s.unsubscribe(target.Key(), event.TypingTopic(channelID))
}

// OpenConversation subscribes the direct stream with the other identity
// and returns its canonical key.
func (s *ChatService) OpenConversation(other domain.IdentityID, extra ...contract.EventSink) (domain.ConversationKey, error) {
	ident, err := s.session.Current()
	if err != nil {
		return "", err
	}
	key := domain.ConversationOf(ident.ID, other)
	s.subscribe(extra, domain.DirectTarget(key).Key())
	return key, nil
}

func (s *ChatService) CloseConversation(key domain.ConversationKey) {
	s.unsubscribe(domain.DirectTarget(key).Key())
}

func (s *ChatService) subscribe(extra []contract.EventSink, topics ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, topic := range topics {
		if _, already := s.subs[topic]; already {
			continue
		}
		sinks := append([]contract.EventSink{s.projector}, extra...)
		for _, sink := range sinks {
			s.subs[topic] = append(s.subs[topic], s.bus.Subscribe(topic, sink))
		}
	}
}

func (s *ChatService) unsubscribe(topics ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, topic := range topics {
		for _, sub := range s.subs[topic] {
			s.bus.Unsubscribe(sub)
		}
		delete(s.subs, topic)
	}
}

// History pages stored messages for a target, oldest first.
func (s *ChatService) History(_ context.Context, target domain.Target, cursor *string) ([]domain.Message, *string, error) {
	return s.history.History(target, cursor)
}

// Close drops every live subscription for this session.
func (s *ChatService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, subs := range s.subs {
		for _, sub := range subs {
			s.bus.Unsubscribe(sub)
		}
		delete(s.subs, topic)
	}
}
