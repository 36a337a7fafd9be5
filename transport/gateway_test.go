package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chat-core/attachments"
	"chat-core/auth"
	"chat-core/bus"
	"chat-core/delivery"
	"chat-core/domain"
	"chat-core/errors"
	"chat-core/repositories"
	"chat-core/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// staticAuth resolves tokens from a fixed table, standing in for the jwt
// flow which has its own tests.
type staticAuth map[string]domain.Identity

func (a staticAuth) Register(string, string, string) (domain.Identity, services.Token, error) {
	return domain.Identity{}, "", errors.ErrInvalidCredentials
}

func (a staticAuth) Login(string, string) (domain.Identity, services.Token, error) {
	return domain.Identity{}, "", errors.ErrInvalidCredentials
}

func (a staticAuth) Authenticate(token string) (domain.Identity, error) {
	identity, ok := a[token]
	if !ok {
		return domain.Identity{}, errors.ErrInvalidCredentials
	}
	return identity, nil
}

func newGatewayServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	auth := staticAuth{
		"token-alice": {ID: "alice", Username: "alice", Status: domain.StatusOnline},
		"token-bob":   {ID: "bob", Username: "bob", Status: domain.StatusOnline},
	}
	gateway := NewGateway(slog.Default(), auth, bus.New(slog.Default()),
		repositories.NewMessageRepository(db, slog.Default(), nil),
		attachments.NewStore(""), nil, delivery.Instant{}, time.Second, 16)

	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(server.URL, "http://", "ws://", 1) + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func joinChannel(t *testing.T, conn *websocket.Conn, channel string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Frame{
		Type:   FrameJoin,
		Target: &TargetRef{ChannelID: channel},
	}))
}

// readFrameOfType drains lifecycle frames (connect/disconnect of peers)
// until the wanted frame type arrives.
func readFrameOfType(t *testing.T, conn *websocket.Conn, wanted string) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame Frame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == wanted {
			return frame
		}
	}
}

// newBootstrapServer wires the real auth service, so register and login
// issue tokens the websocket endpoint accepts.
func newBootstrapServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tokens := auth.NewTokenManager("gateway-test-secret", time.Hour)
	authService := services.NewAuthService(repositories.NewUserRepository(db), tokens, nil)
	gateway := NewGateway(slog.Default(), authService, bus.New(slog.Default()),
		repositories.NewMessageRepository(db, slog.Default(), nil),
		attachments.NewStore(""), nil, delivery.Instant{}, time.Second, 16)

	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", strings.NewReader(string(encoded)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestGateway_Register_Issues_A_Usable_Token(t *testing.T) {
	req := require.New(t)
	server := newBootstrapServer(t)

	resp := postJSON(t, server.URL+"/register", credentialsPayload{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "ComplexPass123!",
	})
	req.Equal(http.StatusOK, resp.StatusCode)

	var issued tokenResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&issued))
	req.NotEmpty(issued.Token)
	req.NotEmpty(issued.ID)
	req.Equal("alice", issued.Username)

	// The issued token opens a websocket session
	conn := dial(t, server, issued.Token)
	frame := readFrameOfType(t, conn, FrameConnect)
	req.Equal(FrameConnect, frame.Type)
}

func TestGateway_Login_Round_Trip(t *testing.T) {
	req := require.New(t)
	server := newBootstrapServer(t)

	resp := postJSON(t, server.URL+"/register", credentialsPayload{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "ComplexPass123!",
	})
	req.Equal(http.StatusOK, resp.StatusCode)

	logged := postJSON(t, server.URL+"/login", credentialsPayload{
		Email:    "alice@example.com",
		Password: "ComplexPass123!",
	})
	req.Equal(http.StatusOK, logged.StatusCode)

	var issued tokenResponse
	req.NoError(json.NewDecoder(logged.Body).Decode(&issued))
	req.NotEmpty(issued.Token)
	dial(t, server, issued.Token)

	// Wrong password is a 401, duplicate registration a 409
	denied := postJSON(t, server.URL+"/login", credentialsPayload{
		Email:    "alice@example.com",
		Password: "WrongPass123!!!",
	})
	req.Equal(http.StatusUnauthorized, denied.StatusCode)

	duplicate := postJSON(t, server.URL+"/register", credentialsPayload{
		Username: "impostor",
		Email:    "alice@example.com",
		Password: "OtherComplex456!",
	})
	req.Equal(http.StatusConflict, duplicate.StatusCode)
}

func TestGateway_Rejects_Bad_Token(t *testing.T) {
	req := require.New(t)
	server := newGatewayServer(t)

	url := strings.Replace(server.URL, "http://", "ws://", 1) + "/ws?token=forged"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_Channel_Message_Roundtrip(t *testing.T) {
	req := require.New(t)
	server := newGatewayServer(t)

	alice := dial(t, server, "token-alice")
	bob := dial(t, server, "token-bob")

	joinChannel(t, alice, "general")
	joinChannel(t, bob, "general")
	// Let the server process both joins before publishing
	time.Sleep(100 * time.Millisecond)

	payload, err := json.Marshal(map[string]string{"content": "hello from the wire"})
	req.NoError(err)
	req.NoError(alice.WriteJSON(Frame{
		Type:    FrameMessage,
		Target:  &TargetRef{ChannelID: "general"},
		Payload: payload,
	}))

	frame := readFrameOfType(t, bob, FrameMessage)
	req.Equal("general", frame.Target.ChannelID)

	var received MessagePayload
	req.NoError(json.Unmarshal(frame.Payload, &received))
	req.Equal("alice", received.AuthorID)
	req.Equal("hello from the wire", received.Content)
	req.NotEmpty(received.ID)
}

func TestGateway_Conversation_Join_Echoes_The_Key(t *testing.T) {
	req := require.New(t)
	server := newGatewayServer(t)

	alice := dial(t, server, "token-alice")

	payload, err := json.Marshal(map[string]string{"recipientId": "bob"})
	req.NoError(err)
	req.NoError(alice.WriteJSON(Frame{
		Type:    FrameJoin,
		Target:  &TargetRef{},
		Payload: payload,
	}))

	// The confirmation carries the canonical key a later leave frame
	// must address
	frame := readFrameOfType(t, alice, FrameJoin)
	req.Equal("alice:bob", frame.Target.ConversationKey)
	req.Empty(frame.Target.ChannelID)
	req.JSONEq(`{"recipientId":"bob"}`, string(frame.Payload))
}

func TestGateway_Presence_Broadcast(t *testing.T) {
	req := require.New(t)
	server := newGatewayServer(t)

	alice := dial(t, server, "token-alice")
	bob := dial(t, server, "token-bob")

	payload, err := json.Marshal(PresencePayload{Status: "idle"})
	req.NoError(err)
	req.NoError(alice.WriteJSON(Frame{Type: FramePresence, Payload: payload}))

	frame := readFrameOfType(t, bob, FramePresence)

	var presence PresencePayload
	req.NoError(json.Unmarshal(frame.Payload, &presence))
	req.Equal("alice", presence.UserID)
	req.Equal("idle", presence.Status)
}

func TestGateway_Attachment_Upload_And_Download(t *testing.T) {
	req := require.New(t)
	server := newGatewayServer(t)

	body := strings.NewReader("plain attachment payload")
	resp, err := http.Post(server.URL+"/files?token=token-alice&name=notes.txt", "application/octet-stream", body)
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	var att domain.Attachment
	req.NoError(json.NewDecoder(resp.Body).Decode(&att))
	req.Equal("notes.txt", att.Name)
	req.NotEmpty(att.ID)

	fetched, err := http.Get(server.URL + "/files/" + string(att.ID))
	req.NoError(err)
	defer fetched.Body.Close()
	req.Equal(http.StatusOK, fetched.StatusCode)
	req.Equal(att.MIME, fetched.Header.Get("Content-Type"))

	// An unauthenticated upload is rejected
	rejected, err := http.Post(server.URL+"/files?token=forged&name=x", "application/octet-stream", strings.NewReader("x"))
	req.NoError(err)
	defer rejected.Body.Close()
	req.Equal(http.StatusUnauthorized, rejected.StatusCode)
}

func TestGateway_Typing_Roundtrip(t *testing.T) {
	req := require.New(t)
	server := newGatewayServer(t)

	alice := dial(t, server, "token-alice")
	bob := dial(t, server, "token-bob")

	joinChannel(t, alice, "general")
	joinChannel(t, bob, "general")
	time.Sleep(100 * time.Millisecond)

	payload, err := json.Marshal(TypingPayload{IsTyping: true})
	req.NoError(err)
	req.NoError(alice.WriteJSON(Frame{
		Type:    FrameTyping,
		Target:  &TargetRef{ChannelID: "general"},
		Payload: payload,
	}))

	frame := readFrameOfType(t, bob, FrameTyping)

	var typing TypingPayload
	req.NoError(json.Unmarshal(frame.Payload, &typing))
	req.Equal("alice", typing.UserID)
	req.True(typing.IsTyping)
}
