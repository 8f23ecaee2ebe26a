package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokendra-hiteshi/chat-app-web/internal/models"
	"github.com/lokendra-hiteshi/chat-app-web/internal/protocol"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// chatServer is an in-process stand-in for the chat backend: the REST
// snapshot endpoints plus the event channel socket.
type chatServer struct {
	t   *testing.T
	srv *httptest.Server

	mu           sync.Mutex
	conn         *websocket.Conn
	rooms        []models.Room
	users        []models.User
	nextUserID   int64
	historyFor   func(q url.Values) []models.Message
	historyCalls []url.Values
	failRooms    bool
	failMessages bool

	commands chan protocol.Envelope
}

func newChatServer(t *testing.T) *chatServer {
	ts := &chatServer{
		t:          t,
		nextUserID: 1,
		commands:   make(chan protocol.Envelope, 32),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rooms", ts.handleRooms)
	mux.HandleFunc("/users", ts.handleUsers)
	mux.HandleFunc("/messages", ts.handleMessages)
	mux.HandleFunc("/ws", ts.handleWS)

	ts.srv = httptest.NewServer(mux)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *chatServer) handleRooms(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if r.Method == http.MethodPost {
		var req struct {
			Name string `json:"name"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		room := models.Room{ID: int64(len(ts.rooms) + 100), Name: req.Name}
		ts.rooms = append(ts.rooms, room)
		json.NewEncoder(w).Encode(room)
		return
	}
	if ts.failRooms {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(ts.rooms)
}

func (ts *chatServer) handleUsers(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if r.Method == http.MethodPost {
		var req struct {
			UserID   int64  `json:"userId"`
			Name     string `json:"name"`
			SocketID string `json:"socketId"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		id := req.UserID
		if id == 0 {
			id = ts.nextUserID
			ts.nextUserID++
		}
		json.NewEncoder(w).Encode(models.Identity{ID: id, Name: req.Name})
		return
	}
	json.NewEncoder(w).Encode(ts.users)
}

func (ts *chatServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ts.mu.Lock()
	ts.historyCalls = append(ts.historyCalls, q)
	fn := ts.historyFor
	fail := ts.failMessages
	ts.mu.Unlock()

	if fail {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}

	msgs := []models.Message{}
	if fn != nil {
		msgs = fn(q)
	}
	json.NewEncoder(w).Encode(msgs)
}

func (ts *chatServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ts.mu.Lock()
	ts.conn = conn
	ts.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			continue
		}
		ts.commands <- *env
	}
}

// dropConnection closes the server side of the event channel.
func (ts *chatServer) dropConnection() {
	ts.t.Helper()
	ts.mu.Lock()
	conn := ts.conn
	ts.mu.Unlock()
	require.NotNil(ts.t, conn, "no event channel connection to drop")
	conn.Close()
}

func (ts *chatServer) setFailRooms(v bool) {
	ts.mu.Lock()
	ts.failRooms = v
	ts.mu.Unlock()
}

func (ts *chatServer) setFailMessages(v bool) {
	ts.mu.Lock()
	ts.failMessages = v
	ts.mu.Unlock()
}

// push delivers an event to the connected client.
func (ts *chatServer) push(msgType protocol.MessageType, payload interface{}) {
	ts.t.Helper()
	env, err := protocol.NewEnvelope(msgType, payload)
	require.NoError(ts.t, err)
	data, err := json.Marshal(env)
	require.NoError(ts.t, err)

	ts.mu.Lock()
	conn := ts.conn
	ts.mu.Unlock()
	require.NotNil(ts.t, conn, "no event channel connection")
	require.NoError(ts.t, conn.WriteMessage(websocket.TextMessage, data))
}

// waitCommand returns the next command of the wanted type, skipping
// others.
func (ts *chatServer) waitCommand(want protocol.MessageType) protocol.Envelope {
	ts.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-ts.commands:
			if env.Type == want {
				return env
			}
		case <-deadline:
			ts.t.Fatalf("timed out waiting for %s command", want)
			return protocol.Envelope{}
		}
	}
}

// nextCommand returns the next command of any type.
func (ts *chatServer) nextCommand() protocol.Envelope {
	ts.t.Helper()
	select {
	case env := <-ts.commands:
		return env
	case <-time.After(2 * time.Second):
		ts.t.Fatal("timed out waiting for a command")
		return protocol.Envelope{}
	}
}

func (ts *chatServer) noCommand() bool {
	select {
	case env := <-ts.commands:
		ts.t.Errorf("unexpected command: %s", env.Type)
		return false
	case <-time.After(150 * time.Millisecond):
		return true
	}
}

type memIdentityStore struct {
	mu    sync.Mutex
	ident *models.Identity
}

func (m *memIdentityStore) LoadIdentity() (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ident, nil
}

func (m *memIdentityStore) SaveIdentity(ident models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ident = &ident
	return nil
}

func startSession(t *testing.T, ts *chatServer, ids IdentityStore, name string) *Session {
	t.Helper()
	sess := NewSession(Config{BaseURL: ts.srv.URL, Echo: DefaultEchoPolicy()}, ids)
	require.NoError(t, sess.Start(context.Background(), name))
	t.Cleanup(sess.Close)
	return sess
}

func TestSessionRoomScenario(t *testing.T) {
	ts := newChatServer(t)
	ts.rooms = []models.Room{{ID: 9, Name: "General"}}

	sess := startSession(t, ts, nil, "Ann")
	assert.Equal(t, models.Identity{ID: 1, Name: "Ann"}, sess.Self())

	var reg protocol.RegisterUserMessage
	env := ts.waitCommand(protocol.TypeRegisterUser)
	require.NoError(t, json.Unmarshal(env.Data, &reg))
	assert.Equal(t, protocol.RegisterUserMessage{ID: 1, Name: "Ann"}, reg)

	require.Len(t, sess.Rooms(), 1)

	sess.Select(context.Background(), models.Target{Kind: models.TargetRoom, ID: 9, Name: "General"})

	var join protocol.JoinRoomMessage
	env = ts.waitCommand(protocol.TypeJoinRoom)
	require.NoError(t, json.Unmarshal(env.Data, &join))
	assert.Equal(t, protocol.JoinRoomMessage{RoomID: 9, UserID: 1}, join)

	// Empty history resolves.
	require.Eventually(t, func() bool {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		return len(ts.historyCalls) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sess.Send("hello")

	var sent models.Message
	env = ts.waitCommand(protocol.TypeSendRoom)
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.Equal(t, int64(1), sent.SenderID)
	assert.Equal(t, int64(9), sent.RoomID)
	assert.Equal(t, "hello", sent.Content)

	// No optimistic echo for room sends; the list fills only once the
	// server broadcast comes back.
	assert.Empty(t, sess.Messages())

	ts.push(protocol.TypeReceiveRoom, models.Message{
		SenderID:   1,
		SenderInfo: &models.User{ID: 1, Name: "Ann"},
		RoomID:     9,
		Content:    "hello",
	})
	require.Eventually(t, func() bool {
		return len(sess.Messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "hello", sess.Messages()[0].Content)
}

func TestSessionDirectMessageEcho(t *testing.T) {
	ts := newChatServer(t)
	ts.users = []models.User{{ID: 2, Name: "Bob"}}

	sess := startSession(t, ts, nil, "Ann")
	ts.waitCommand(protocol.TypeRegisterUser)

	sess.Select(context.Background(), models.Target{Kind: models.TargetUser, ID: 2, Name: "Bob"})
	sess.Send("hi")

	// No join_room for a user target; the first command is the send.
	env := ts.nextCommand()
	require.Equal(t, protocol.TypeSendPrivate, env.Type)
	var sent models.Message
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.Equal(t, int64(2), sent.RecipientID)
	assert.Equal(t, "hi", sent.Content)

	// Private sends are echoed locally with full sender info.
	msgs := sess.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
	require.NotNil(t, msgs[0].SenderInfo)
	assert.Equal(t, "Ann", msgs[0].SenderInfo.Name)
}

func TestSessionSendGuards(t *testing.T) {
	ts := newChatServer(t)

	sess := startSession(t, ts, nil, "Ann")
	ts.waitCommand(protocol.TypeRegisterUser)

	// No active target.
	sess.Send("hi")
	assert.True(t, ts.noCommand())
	assert.Empty(t, sess.Messages())

	// Whitespace-only content.
	sess.Select(context.Background(), models.Target{Kind: models.TargetUser, ID: 2, Name: "Bob"})
	sess.Send("   ")
	assert.True(t, ts.noCommand())
	assert.Empty(t, sess.Messages())
}

func TestSessionReselectSameTargetNoop(t *testing.T) {
	ts := newChatServer(t)
	ts.rooms = []models.Room{{ID: 9, Name: "General"}}

	sess := startSession(t, ts, nil, "Ann")
	ts.waitCommand(protocol.TypeRegisterUser)

	target := models.Target{Kind: models.TargetRoom, ID: 9, Name: "General"}
	sess.Select(context.Background(), target)
	ts.waitCommand(protocol.TypeJoinRoom)

	ts.push(protocol.TypeReceiveRoom, models.Message{SenderID: 2, RoomID: 9, Content: "hello"})
	require.Eventually(t, func() bool {
		return len(sess.Messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Reselecting must neither clear the list nor re-join.
	sess.Select(context.Background(), target)
	assert.Len(t, sess.Messages(), 1)
	assert.True(t, ts.noCommand())
}

func TestSessionStaleHistoryDiscarded(t *testing.T) {
	ts := newChatServer(t)
	ts.historyFor = func(q url.Values) []models.Message {
		if q.Get("recipient_id") == "2" {
			// The direct conversation's history resolves slowly.
			time.Sleep(300 * time.Millisecond)
			return []models.Message{{SenderID: 2, RecipientID: 1, Content: "stale dm"}}
		}
		return []models.Message{{SenderID: 3, RoomID: 9, Content: "room history"}}
	}

	sess := startSession(t, ts, nil, "Ann")
	ts.waitCommand(protocol.TypeRegisterUser)

	sess.Select(context.Background(), models.Target{Kind: models.TargetUser, ID: 2, Name: "Bob"})
	sess.Select(context.Background(), models.Target{Kind: models.TargetRoom, ID: 9, Name: "General"})

	require.Eventually(t, func() bool {
		return len(sess.Messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Wait out the slow load; the stale response must not land.
	time.Sleep(400 * time.Millisecond)
	msgs := sess.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "room history", msgs[0].Content)
}

func TestSessionRosterEvents(t *testing.T) {
	ts := newChatServer(t)

	sess := startSession(t, ts, nil, "Ann")
	ts.waitCommand(protocol.TypeRegisterUser)

	ts.push(protocol.TypeNewUser, models.User{ID: 3, Name: "Carol"})
	ts.push(protocol.TypeNewRoom, models.Room{ID: 9, Name: "General"})
	// Duplicate delivery is harmless.
	ts.push(protocol.TypeNewUser, models.User{ID: 3, Name: "Carol"})

	require.Eventually(t, func() bool {
		return len(sess.Users()) == 1 && len(sess.Rooms()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Carol", sess.Users()[0].Name)
}

func TestSessionReusesPersistedIdentity(t *testing.T) {
	ts := newChatServer(t)
	ids := &memIdentityStore{ident: &models.Identity{ID: 42, Name: "Zed"}}

	sess := startSession(t, ts, ids, "ignored")
	assert.Equal(t, models.Identity{ID: 42, Name: "Zed"}, sess.Self())

	var reg protocol.RegisterUserMessage
	env := ts.waitCommand(protocol.TypeRegisterUser)
	require.NoError(t, json.Unmarshal(env.Data, &reg))
	assert.Equal(t, int64(42), reg.ID)
}

func TestSessionPersistsFreshIdentity(t *testing.T) {
	ts := newChatServer(t)
	ids := &memIdentityStore{}

	startSession(t, ts, ids, "Ann")

	saved, err := ids.LoadIdentity()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, models.Identity{ID: 1, Name: "Ann"}, *saved)
}

func TestSessionReconnectReregistersAndRejoins(t *testing.T) {
	ts := newChatServer(t)
	ts.rooms = []models.Room{{ID: 9, Name: "General"}}

	sess := startSession(t, ts, nil, "Ann")
	ts.waitCommand(protocol.TypeRegisterUser)

	sess.Select(context.Background(), models.Target{Kind: models.TargetRoom, ID: 9, Name: "General"})
	ts.waitCommand(protocol.TypeJoinRoom)

	ts.dropConnection()

	// Room subscriptions are connection-scoped: the session must
	// re-bind its identity and re-join the active room over the new
	// connection, in that order.
	var reg protocol.RegisterUserMessage
	env := ts.waitCommand(protocol.TypeRegisterUser)
	require.NoError(t, json.Unmarshal(env.Data, &reg))
	assert.Equal(t, protocol.RegisterUserMessage{ID: 1, Name: "Ann"}, reg)

	var join protocol.JoinRoomMessage
	env = ts.waitCommand(protocol.TypeJoinRoom)
	require.NoError(t, json.Unmarshal(env.Data, &join))
	assert.Equal(t, protocol.JoinRoomMessage{RoomID: 9, UserID: 1}, join)
}

func TestSessionSurfacesSnapshotFailures(t *testing.T) {
	ts := newChatServer(t)
	ts.users = []models.User{{ID: 2, Name: "Bob"}}

	sess := startSession(t, ts, nil, "Ann")
	ts.waitCommand(protocol.TypeRegisterUser)
	require.Len(t, sess.Users(), 1)

	var mu sync.Mutex
	var errs []error
	sess.SetErrorHandler(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	// A failing room snapshot is reported; the surviving user snapshot
	// still merges and the roster keeps its last-good entries.
	ts.setFailRooms(true)
	sess.RefreshRoster(context.Background())

	mu.Lock()
	require.Len(t, errs, 1)
	mu.Unlock()
	assert.Len(t, sess.Users(), 1)
	assert.Empty(t, sess.Rooms())

	// A failing history load is reported too, leaving the cleared
	// message list as is.
	ts.setFailMessages(true)
	sess.Select(context.Background(), models.Target{Kind: models.TargetUser, ID: 2, Name: "Bob"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, sess.Messages())
}

func TestSessionCreateRoom(t *testing.T) {
	ts := newChatServer(t)

	sess := startSession(t, ts, nil, "Ann")
	ts.waitCommand(protocol.TypeRegisterUser)

	room, err := sess.CreateRoom(context.Background(), "Lobby")
	require.NoError(t, err)
	assert.Equal(t, "Lobby", room.Name)
	require.Len(t, sess.Rooms(), 1)

	// The broadcast copy of the same room merges idempotently.
	ts.push(protocol.TypeNewRoom, room)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, sess.Rooms(), 1)
}
