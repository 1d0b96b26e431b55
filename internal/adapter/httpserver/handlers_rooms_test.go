package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/platform/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialRoom(t *testing.T, env *testEnv, room, query string) *ws.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(env.baseURL, "http") + "/ws/rooms/" + room + "?" + query
	conn, resp, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readChat(t *testing.T, conn *ws.Conn) domain.ChatMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg domain.ChatMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestRoomSocket_JoinMessageLeave(t *testing.T) {
	env := newTestServer(t)

	alice := dialRoom(t, env, "lobby", "user_id=alice&name=Alice")
	snapshot := readChat(t, alice)
	assert.Equal(t, domain.ChatTypeMembers, snapshot.Type)
	require.Len(t, snapshot.Members, 1)
	assert.Equal(t, "Alice", snapshot.Members[0].DisplayName)

	bob := dialRoom(t, env, "lobby", "user_id=bob")
	bobSnapshot := readChat(t, bob)
	assert.Len(t, bobSnapshot.Members, 2)

	join := readChat(t, alice)
	assert.Equal(t, domain.ChatTypeJoin, join.Type)
	assert.Equal(t, domain.UserID("bob"), join.UserID)
	assert.Equal(t, "bob", join.DisplayName)

	require.NoError(t, bob.WriteMessage(ws.TextMessage, []byte(`{"type":"message","text":"hello"}`)))
	for _, conn := range []*ws.Conn{alice, bob} {
		msg := readChat(t, conn)
		assert.Equal(t, domain.ChatTypeMessage, msg.Type)
		assert.Equal(t, "hello", msg.Text)
		assert.Equal(t, domain.UserID("bob"), msg.UserID)
	}

	require.NoError(t, bob.Close())
	leave := readChat(t, alice)
	assert.Equal(t, domain.ChatTypeLeave, leave.Type)
	assert.Equal(t, domain.UserID("bob"), leave.UserID)

	require.Eventually(t, func() bool {
		return env.rooms.RoomSize("lobby") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRoomSocket_InvalidFrameGetsErrorReply(t *testing.T) {
	env := newTestServer(t)

	alice := dialRoom(t, env, "lobby", "user_id=alice")
	readChat(t, alice)

	require.NoError(t, alice.WriteMessage(ws.TextMessage, []byte(`{"type":"message"}`)))

	reply := readChat(t, alice)
	assert.Equal(t, domain.ChatTypeError, reply.Type)
	assert.Contains(t, reply.Text, "invalid message")
}

func TestRoomSocket_RoomFullClosesWithReason(t *testing.T) {
	env := newTestServer(t, withConfig(func(cfg *config.Config) {
		cfg.MaxClientsPerRoom = 1
	}))

	alice := dialRoom(t, env, "lobby", "user_id=alice")
	readChat(t, alice)

	bob := dialRoom(t, env, "lobby", "user_id=bob")
	require.NoError(t, bob.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := bob.ReadMessage()

	var closeErr *ws.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close error, got %v", err)
	assert.Equal(t, "room full", closeErr.Text)
	assert.Equal(t, 1, env.rooms.RoomSize("lobby"))
}

func TestRoomSocket_MissingUserRejectedBeforeUpgrade(t *testing.T) {
	env := newTestServer(t)

	url := "ws" + strings.TrimPrefix(env.baseURL, "http") + "/ws/rooms/lobby"
	_, resp, err := ws.DefaultDialer.Dial(url, nil)

	require.ErrorIs(t, err, ws.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRoomSocket_ForeignOriginRejected(t *testing.T) {
	env := newTestServer(t)

	url := "ws" + strings.TrimPrefix(env.baseURL, "http") + "/ws/rooms/lobby?user_id=alice"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := ws.DefaultDialer.Dial(url, header)

	require.ErrorIs(t, err, ws.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Eventually(t, func() bool {
		return env.srv.admission.current() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRoomSocket_ShutdownClosesConnections(t *testing.T) {
	env := newTestServer(t)

	alice := dialRoom(t, env, "lobby", "user_id=alice")
	readChat(t, alice)

	env.rooms.Stop("server shutting down")

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := alice.ReadMessage()
	var closeErr *ws.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close error, got %v", err)
	assert.Equal(t, "server shutting down", closeErr.Text)
}

func TestHandleRoomMembers(t *testing.T) {
	env := newTestServer(t)

	alice := dialRoom(t, env, "lobby", "user_id=alice&name=Alice")
	readChat(t, alice)

	resp, body := env.do(t, http.MethodGet, "/rooms/lobby/members", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		RoomID  string          `json:"room_id"`
		Count   int             `json:"count"`
		Members []domain.Member `json:"members"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	assert.Equal(t, "lobby", payload.RoomID)
	assert.Equal(t, 1, payload.Count)
	assert.Equal(t, domain.UserID("alice"), payload.Members[0].UserID)
}

func TestHandleRoomMembers_EmptyRoom(t *testing.T) {
	env := newTestServer(t)

	resp, body := env.do(t, http.MethodGet, "/rooms/ghost/members", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"room_id":"ghost","count":0,"members":[]}`, body)
}
