package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/tutor-realtime/pkg/auth"
	"github.com/mahaj/tutor-realtime/pkg/memstore"
	"github.com/mahaj/tutor-realtime/pkg/model"
	"github.com/mahaj/tutor-realtime/pkg/realtime"
	"github.com/mahaj/tutor-realtime/pkg/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type testGateway struct {
	*httptest.Server
	hub   *realtime.Hub
	store *memstore.Store
	auth  *auth.Authenticator
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	store := memstore.New(
		model.User{ID: "alice", Name: "Alice", Role: "student"},
		model.User{ID: "bob", Name: "Bob", Role: "tutor"},
	)
	hub := realtime.NewHub(realtime.Config{}, store, node, zap.NewNop())
	authn := auth.NewAuthenticator(testSecret)
	srv := NewServer(context.Background(), hub, authn, store, zap.NewNop(), 50)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		hub.Shutdown()
		ts.Close()
	})
	return &testGateway{Server: ts, hub: hub, store: store, auth: authn}
}

func (g *testGateway) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := g.auth.GenerateToken(userID, "", time.Hour)
	require.NoError(t, err)
	return token
}

func (g *testGateway) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.URL, "http") + "/ws?token=" + g.token(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// The hub registers the socket right after the handshake completes.
	require.Eventually(t, func() bool { return g.hub.IsOnline(userID) }, time.Second, 5*time.Millisecond)
	return conn
}

func (g *testGateway) get(t *testing.T, userID, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, g.URL+path, nil)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+g.token(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// expect reads frames until event arrives.
func expect(t *testing.T, conn *websocket.Conn, event string) realtime.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env realtime.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", event)
		if env.Event == event {
			return env
		}
	}
}

func TestGateway_Rejects_Bad_Credentials(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)
	url := "ws" + strings.TrimPrefix(g.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	req.ErrorIs(err, websocket.ErrBadHandshake)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	forged, err := auth.NewAuthenticator("other-secret").GenerateToken("alice", "", time.Hour)
	req.NoError(err)
	_, resp, err = websocket.DefaultDialer.Dial(url+"?token="+forged, nil)
	req.ErrorIs(err, websocket.ErrBadHandshake)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
	req.False(g.hub.IsOnline("alice"))

	req.Equal(http.StatusUnauthorized, g.get(t, "", "/presence/alice").StatusCode)
}

func TestGateway_Message_Read_In_View(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)

	alice := g.dial(t, "alice")
	bob := g.dial(t, "bob")

	send(t, bob, realtime.EventJoinConversation, map[string]string{"recipientId": "alice"})
	expect(t, bob, realtime.EventJoinConversationSuccess)

	send(t, alice, realtime.EventSendMessage, map[string]string{"recipientId": "bob", "content": "Can we move the lesson?"})

	var sent model.Message
	req.NoError(json.Unmarshal(expect(t, alice, realtime.EventMessageSent).Data, &sent))
	var read realtime.MessageReadPayload
	req.NoError(json.Unmarshal(expect(t, alice, realtime.EventMessageRead).Data, &read))
	req.Equal(sent.ID, read.MessageID)

	var incoming model.Message
	req.NoError(json.Unmarshal(expect(t, bob, realtime.EventNewMessage).Data, &incoming))
	req.Equal("Can we move the lesson?", incoming.Content)
	req.Equal("alice:bob", incoming.ConversationID)
}

func TestGateway_Disconnect_Broadcasts_Offline(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)

	alice := g.dial(t, "alice")
	bob := g.dial(t, "bob")
	send(t, bob, realtime.EventTypingStart, map[string]string{"recipientId": "alice"})
	expect(t, alice, realtime.EventUserTyping)

	req.NoError(bob.Close())

	var offline realtime.PresencePayload
	req.NoError(json.Unmarshal(expect(t, alice, realtime.EventUserOffline).Data, &offline))
	req.Equal("bob", offline.UserID)
	req.False(g.hub.IsOnline("bob"))
}

func TestGateway_Presence(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)
	g.hub.Connect(model.Identity{UserID: "bob", Role: "tutor"})

	var one presenceResponse
	req.NoError(json.NewDecoder(g.get(t, "alice", "/presence/bob").Body).Decode(&one))
	req.Equal(presenceResponse{UserID: "bob", Online: true}, one)

	var many map[string]bool
	req.NoError(json.NewDecoder(g.get(t, "alice", "/presence?ids=bob,carol").Body).Decode(&many))
	req.Equal(map[string]bool{"bob": true, "carol": false}, many)

	var online []string
	req.NoError(json.NewDecoder(g.get(t, "alice", "/presence").Body).Decode(&online))
	req.Equal([]string{"bob"}, online)
}

// Fetching the thread over REST is what marks it read.
func TestGateway_Fetching_Conversation_Marks_Read(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)
	ctx := context.Background()

	msg, err := g.hub.SendMessage(ctx, "alice", "bob", "Homework attached", []string{"https://files.example/hw1.pdf"})
	req.NoError(err)

	resp := g.get(t, "bob", "/conversations/alice/messages")
	req.Equal(http.StatusOK, resp.StatusCode)
	var messages []model.Message
	req.NoError(json.NewDecoder(resp.Body).Decode(&messages))
	req.Len(messages, 1)
	req.Equal(msg.ID, messages[0].ID)
	req.True(messages[0].IsRead)
	req.NotNil(messages[0].ReadAt)

	stored, err := g.store.ConversationMessages(ctx, "alice", "bob", 0)
	req.NoError(err)
	req.True(stored[0].IsRead)
	req.True(stored[0].ReadAt.Equal(*messages[0].ReadAt), "response and store disagree on read time")

	// The sender fetching the same thread does not mark anything.
	resp = g.get(t, "alice", "/conversations/bob/messages?limit=10")
	req.Equal(http.StatusOK, resp.StatusCode)

	req.Equal(http.StatusBadRequest, g.get(t, "alice", "/conversations/alice/messages").StatusCode)
	req.Equal(http.StatusBadRequest, g.get(t, "alice", "/conversations/b:c/messages").StatusCode)
	req.Equal(http.StatusBadRequest, g.get(t, "alice", "/conversations/bob/messages?limit=zero").StatusCode)
}

func TestGateway_Conversations_And_Health(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)

	_, err := g.hub.SendMessage(context.Background(), "alice", "bob", "hi", nil)
	req.NoError(err)

	var convs []model.Conversation
	req.NoError(json.NewDecoder(g.get(t, "bob", "/conversations").Body).Decode(&convs))
	req.Len(convs, 1)
	req.Equal("alice", convs[0].OtherUserID)
	req.Equal(int64(1), convs[0].UnreadCount)

	req.Equal(http.StatusOK, g.get(t, "", "/healthz").StatusCode)
	req.Equal(http.StatusOK, g.get(t, "", "/metrics").StatusCode)
}
