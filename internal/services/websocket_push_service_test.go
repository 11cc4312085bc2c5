package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"withdraw-backend/internal/models"
)

func decodePush(t *testing.T, raw []byte) PushMessage {
	t.Helper()
	var msg PushMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestWebSocketPushService_RoutesByUser(t *testing.T) {
	push := NewWebSocketPushService(testLogger())
	alice := &Connection{ID: "c1", UserAddress: "0xAbC0000000000000000000000000000000000001", Send: make(chan []byte, 4)}
	bob := &Connection{ID: "c2", UserAddress: "0xdef0000000000000000000000000000000000002", Send: make(chan []byte, 4)}
	push.RegisterConnection(alice)
	push.RegisterConnection(bob)

	assert.Equal(t, "connection_established", decodePush(t, <-alice.Send).Type)
	<-bob.Send

	push.OnTransition(context.Background(), models.WithdrawalTransition{
		ID:           "t1",
		UserAddress:  "0xabc0000000000000000000000000000000000001",
		FromState:    models.StateRecordingInLedger,
		ToState:      models.StateAwaitingVerification,
		WithdrawalID: "wd-1",
		CreatedAt:    time.Now(),
	})

	require.Len(t, alice.Send, 1)
	assert.Empty(t, bob.Send)

	msg := decodePush(t, <-alice.Send)
	assert.Equal(t, "withdrawal_update", msg.Type)
	assert.Equal(t, "t1", msg.MessageID)
	data := msg.Data.(map[string]interface{})
	assert.Equal(t, "wd-1", data["withdrawal_id"])
	assert.Equal(t, "awaiting_verification", data["new_state"])
	assert.EqualValues(t, 90, data["progress"])
}

func TestWebSocketPushService_DropsWhenFull(t *testing.T) {
	push := NewWebSocketPushService(testLogger())
	conn := &Connection{ID: "c1", UserAddress: "0xabc", Send: make(chan []byte, 1)}
	push.RegisterConnection(conn)

	// buffer already holds the greeting
	push.Broadcast(PushMessage{Type: "withdrawal_update", UserAddress: "0xABC"})
	assert.Len(t, conn.Send, 1)
}

func TestWebSocketPushService_Unregister(t *testing.T) {
	push := NewWebSocketPushService(testLogger())
	conn := &Connection{ID: "c1", UserAddress: "0xabc", Send: make(chan []byte, 2)}
	push.RegisterConnection(conn)
	assert.Equal(t, 1, push.UserConnections("0xABC"))

	push.UnregisterConnection(conn)
	push.UnregisterConnection(conn)
	assert.Equal(t, 0, push.UserConnections("0xabc"))

	<-conn.Send
	_, open := <-conn.Send
	assert.False(t, open)

	// no panic sending to a user without connections
	push.OnTransition(context.Background(), models.WithdrawalTransition{UserAddress: "0xabc", ToState: models.StateIdle})
}

func TestWebSocketPushService_HandleWebSocket(t *testing.T) {
	push := NewWebSocketPushService(testLogger())
	user := "0xabc0000000000000000000000000000000000001"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		push.HandleWebSocket(w, r, user, Snapshot{User: user, State: models.StateIdle})
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

	read := func() PushMessage {
		_, raw, err := ws.ReadMessage()
		require.NoError(t, err)
		return decodePush(t, raw)
	}

	assert.Equal(t, "connection_established", read().Type)
	snapshot := read()
	assert.Equal(t, "withdrawal_snapshot", snapshot.Type)
	assert.Equal(t, "idle", snapshot.Data.(map[string]interface{})["state"])

	push.OnTransition(context.Background(), models.WithdrawalTransition{
		ID:          "t1",
		UserAddress: user,
		FromState:   models.StateIdle,
		ToState:     models.StateValidating,
		CreatedAt:   time.Now(),
	})
	assert.Equal(t, "withdrawal_update", read().Type)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return push.UserConnections(user) == 0 }, 2*time.Second, 5*time.Millisecond)
}
