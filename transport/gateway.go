package transport

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"chat-core/attachments"
	"chat-core/bus"
	"chat-core/contract"
	"chat-core/delivery"
	"chat-core/domain"
	"chat-core/domain/event"
	"chat-core/errors"
	"chat-core/mentions"
	"chat-core/projection"
	"chat-core/repositories"
	"chat-core/services"
	"chat-core/session"
	"chat-core/sink"

	"github.com/gorilla/websocket"
)

const (
	writeAttempts  = 4
	writeBaseDelay = 50 * time.Millisecond
	writeMaxDelay  = 800 * time.Millisecond
	readLimit      = 256 * 1024
)

// Gateway upgrades HTTP requests to websocket sessions. Every accepted
// connection gets its own session state and delivery coordinator wired to
// the shared bus, so sessions never share mutable state.
type Gateway struct {
	log       *slog.Logger
	upgrader  websocket.Upgrader
	auth      services.IAuthService
	bus       *bus.Bus
	messages  repositories.IMessageRepository
	files     *attachments.Store
	scanner   *mentions.Scanner
	latency   delivery.Latency
	typingTTL time.Duration
	buffer    int
}

func NewGateway(log *slog.Logger, auth services.IAuthService, b *bus.Bus,
	messages repositories.IMessageRepository, files *attachments.Store,
	scanner *mentions.Scanner, latency delivery.Latency,
	typingTTL time.Duration, bufferSize int) *Gateway {
	return &Gateway{
		log:       log,
		upgrader:  websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		auth:      auth,
		bus:       b,
		messages:  messages,
		files:     files,
		scanner:   scanner,
		latency:   latency,
		typingTTL: typingTTL,
		buffer:    bufferSize,
	}
}

func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("POST /register", g.handleRegister)
	mux.HandleFunc("POST /login", g.handleLogin)
	mux.HandleFunc("POST /files", g.handleUpload)
	mux.HandleFunc("GET /files/{id}", g.handleDownload)
	return mux
}

type credentialsPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token    string `json:"token"`
	ID       string `json:"id"`
	Username string `json:"username"`
}

// handleRegister creates an identity and answers with the token the /ws
// and /files endpoints expect.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload credentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	identity, token, err := g.auth.Register(payload.Username, payload.Email, payload.Password)
	if err != nil {
		switch {
		case stderrors.Is(err, errors.ErrUserAlreadyExists):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	g.writeToken(w, identity, token)
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload credentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	identity, token, err := g.auth.Login(payload.Email, payload.Password)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	g.writeToken(w, identity, token)
}

func (g *Gateway) writeToken(w http.ResponseWriter, identity domain.Identity, token services.Token) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(tokenResponse{
		Token:    string(token),
		ID:       string(identity.ID),
		Username: identity.Username,
	})
	if err != nil {
		g.log.Warn("Token response write failed", "error", err)
	}
}

// handleUpload accepts raw bytes and answers with the attachment
// reference a later message frame can carry.
func (g *Gateway) handleUpload(w http.ResponseWriter, r *http.Request) {
	if _, err := g.auth.Authenticate(r.URL.Query().Get("token")); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, readLimit))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	var duration time.Duration
	if raw := r.URL.Query().Get("duration"); raw != "" {
		duration, _ = time.ParseDuration(raw)
	}

	att, err := g.files.Upload(r.URL.Query().Get("name"), data, duration)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(att); err != nil {
		g.log.Warn("Attachment response write failed", "error", err)
	}
}

func (g *Gateway) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := domain.AttachmentID(r.PathValue("id"))
	att, err := g.files.Get(id)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	data, err := g.files.Bytes(id)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", att.MIME)
	if _, err = w.Write(data); err != nil {
		g.log.Warn("Attachment body write failed", "error", err)
	}
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	identity, err := g.auth.Authenticate(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	st := session.New()
	st.SetIdentity(&identity)
	coordinator := delivery.NewCoordinator(g.log, g.bus, st, g.latency, g.scanner, g.typingTTL)
	connSink := sink.NewConnectionSink(g.log, g.buffer)
	svc := services.NewChatService(g.bus, st, coordinator, projection.NewTimeline(), g.messages)
	defer svc.Close()

	// Cross-cutting streams are pushed to every connection; channel and
	// conversation streams only after an explicit join.
	for _, topic := range []string{event.TopicPresence, event.TopicConnect, event.TopicDisconnect} {
		sub := g.bus.Subscribe(topic, connSink)
		defer g.bus.Unsubscribe(sub)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	coordinator.Resume(ctx)
	go g.writeLoop(ctx, conn, connSink, identity)
	g.readLoop(ctx, conn, svc, connSink)
	coordinator.Suspend(context.Background())
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn,
	svc services.IChatService, connSink contract.EventSink) {
	defer conn.Close()
	conn.SetReadLimit(readLimit)

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			g.log.Debug("Read loop ended", "error", err)
			return
		}
		if err := g.dispatch(ctx, svc, connSink, frame); err != nil {
			g.log.Warn(fmt.Sprintf("Frame %q rejected", frame.Type), "error", err)
		}
	}
}

// dispatch maps one inbound frame onto the corresponding delivery
// operation.
func (g *Gateway) dispatch(ctx context.Context, svc services.IChatService,
	connSink contract.EventSink, frame Frame) error {
	switch frame.Type {
	case FrameMessage:
		var payload struct {
			Content     string              `json:"content"`
			Attachments []domain.Attachment `json:"attachments"`
			ReplyTo     *domain.ReplyRef    `json:"replyTo"`
			RecipientID string              `json:"recipientId"`
		}
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return err
		}
		if frame.Target != nil && frame.Target.ChannelID != "" {
			_, err := svc.SendChannelMessage(ctx, domain.ChannelID(frame.Target.ChannelID),
				payload.Content, payload.Attachments, payload.ReplyTo)
			return err
		}
		_, err := svc.SendDirectMessage(ctx, domain.IdentityID(payload.RecipientID),
			payload.Content, payload.Attachments, payload.ReplyTo)
		return err

	case FrameEdit:
		var payload struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return err
		}
		return svc.EditMessage(ctx, domain.MessageID(payload.ID), payload.Content)

	case FrameDelete:
		var payload struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return err
		}
		return svc.DeleteMessage(ctx, domain.MessageID(payload.ID))

	case FrameTyping:
		var payload TypingPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return err
		}
		if frame.Target == nil || frame.Target.ChannelID == "" {
			return fmt.Errorf("typing frame without channel target")
		}
		channel := domain.ChannelID(frame.Target.ChannelID)
		if payload.IsTyping {
			return svc.StartTyping(ctx, channel)
		}
		return svc.StopTyping(ctx, channel)

	case FramePresence:
		var payload PresencePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return err
		}
		return svc.UpdateStatus(ctx, domain.Status(payload.Status))

	case FrameRead:
		var payload ReadPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return err
		}
		return svc.MarkAsRead(ctx, domain.MessageID(payload.MessageID))

	case FrameJoin:
		if frame.Target == nil {
			return fmt.Errorf("join frame without target")
		}
		if frame.Target.ChannelID != "" {
			return svc.JoinChannel(domain.ChannelID(frame.Target.ChannelID), connSink)
		}
		var payload struct {
			RecipientID string `json:"recipientId"`
		}
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return err
		}
		recipient := domain.IdentityID(payload.RecipientID)
		key, err := svc.OpenConversation(recipient, connSink)
		if err != nil {
			return err
		}
		// Echo the canonical key; leave frames must address the
		// conversation by it, not by the recipient id.
		return connSink.Consume(ctx, event.ConversationOpened{Key: key, Other: recipient})

	case FrameLeave:
		if frame.Target == nil {
			return fmt.Errorf("leave frame without target")
		}
		if frame.Target.ChannelID != "" {
			svc.LeaveChannel(domain.ChannelID(frame.Target.ChannelID))
			return nil
		}
		svc.CloseConversation(domain.ConversationKey(frame.Target.ConversationKey))
		return nil

	default:
		return fmt.Errorf("%q: unsupported", frame.Type)
	}
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn,
	connSink *sink.ConnectionSink, identity domain.Identity) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-connSink.Events:
			frame, err := Encode(evt)
			if err != nil {
				g.log.Warn("Unencodable event skipped", "error", err)
				continue
			}
			err = retryWithBackoff(ctx, writeAttempts, writeBaseDelay, writeMaxDelay, func() error {
				return conn.WriteJSON(frame)
			})
			if err != nil {
				g.log.Error("Failed to push frame",
					"user_id", identity.ID,
					"type", frame.Type,
					"error", err)
				return
			}
		}
	}
}
