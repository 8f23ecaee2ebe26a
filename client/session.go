package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/lokendra-hiteshi/chat-app-web/internal/models"
	"github.com/lokendra-hiteshi/chat-app-web/internal/protocol"
)

// IdentityStore persists the local identity between sessions. A
// failing or absent store only means registration runs again.
type IdentityStore interface {
	LoadIdentity() (*models.Identity, error)
	SaveIdentity(models.Identity) error
}

// Config configures a Session.
type Config struct {
	// BaseURL is the chat server's HTTP address, e.g. "http://host:5000".
	BaseURL string
	// SocketURL is the event channel endpoint. Defaults to BaseURL with
	// a ws scheme and path /ws.
	SocketURL string
	// Echo is the optimistic echo policy; zero value means no echo at
	// all, use DefaultEchoPolicy for the standard asymmetry.
	Echo EchoPolicy
	// HTTPClient overrides the snapshot loader's HTTP client.
	HTTPClient *http.Client
}

func (c Config) socketURL() string {
	if c.SocketURL != "" {
		return c.SocketURL
	}
	u := strings.TrimSuffix(c.BaseURL, "/")
	u = strings.Replace(u, "http://", "ws://", 1)
	u = strings.Replace(u, "https://", "wss://", 1)
	return u + "/ws"
}

// Session ties the reconciliation core to its collaborators: the
// identity store, the snapshot API, and the event channel. It holds
// the conversation selector and routes all state changes through the
// store.
type Session struct {
	store *Store
	api   *SnapshotClient
	ch    *EventChannel
	ids   IdentityStore

	onRoster   func()
	onMessages func()
	onError    func(error)
}

// NewSession creates a session. ids may be nil, in which case the
// identity is registered fresh every session.
func NewSession(cfg Config, ids IdentityStore) *Session {
	s := &Session{
		store: NewStore(cfg.Echo),
		api:   NewSnapshotClient(cfg.BaseURL, cfg.HTTPClient),
		ids:   ids,
	}
	s.ch = NewEventChannel(cfg.socketURL(), Handlers{
		OnNewUser:        s.handleNewUser,
		OnNewRoom:        s.handleNewRoom,
		OnPrivateMessage: s.handleIncoming,
		OnRoomMessage:    s.handleIncoming,
		OnConnect:        s.handleConnect,
	})
	return s
}

// SetRosterHandler sets the callback invoked after any roster change.
func (s *Session) SetRosterHandler(fn func()) { s.onRoster = fn }

// SetMessagesHandler sets the callback invoked after the active
// message list changes.
func (s *Session) SetMessagesHandler(fn func()) { s.onMessages = fn }

// SetErrorHandler sets the callback for recoverable failures
// (snapshot loads, re-registration). State stays at its last-good
// value; the embedding layer may offer a retry affordance.
func (s *Session) SetErrorHandler(fn func(error)) { s.onError = fn }

// Start resolves the local identity, connects the event channel,
// registers, and loads the initial roster snapshot. A missing
// persisted identity is registered under name.
func (s *Session) Start(ctx context.Context, name string) error {
	ident := s.loadIdentity()
	if ident != nil {
		name = ident.Name
	} else if strings.TrimSpace(name) == "" {
		return errors.New("no persisted identity and no name to register")
	}

	if err := s.ch.Connect(ctx); err != nil {
		return err
	}

	var userID int64
	if ident != nil {
		userID = ident.ID
	}
	reg, err := s.api.RegisterIdentity(ctx, userID, name, s.ch.ConnectionID())
	if err != nil {
		s.ch.Close()
		return fmt.Errorf("failed to register identity: %w", err)
	}
	s.store.SetSelf(reg)
	s.saveIdentity(reg)

	if err := s.ch.Emit(protocol.TypeRegisterUser, protocol.RegisterUserMessage(reg)); err != nil {
		log.Printf("register_user not sent: %v", err)
	}

	s.RefreshRoster(ctx)
	return nil
}

// Close tears down the event channel.
func (s *Session) Close() {
	s.ch.Close()
}

// RefreshRoster fetches the room and user snapshots and unions them
// into the roster. A failed call leaves that part of the roster at its
// last-known state.
func (s *Session) RefreshRoster(ctx context.Context) {
	rooms, roomsErr := s.api.ListRooms(ctx)
	if roomsErr != nil {
		s.reportError(fmt.Errorf("room snapshot failed: %w", roomsErr))
	}
	users, usersErr := s.api.ListUsers(ctx)
	if usersErr != nil {
		s.reportError(fmt.Errorf("user snapshot failed: %w", usersErr))
	}
	if roomsErr == nil || usersErr == nil {
		s.store.MergeRosterSnapshot(rooms, users)
		s.notifyRoster()
	}
}

// Select makes target the active conversation. Reselecting the current
// target is a no-op. The message list is cleared synchronously; for a
// room target a join_room command is emitted; history loads
// asynchronously and is discarded if the target changes again before
// it resolves.
func (s *Session) Select(ctx context.Context, target models.Target) {
	if s.store.Target().Same(target) {
		return
	}

	token := s.store.SelectTarget(target)
	s.notifyMessages()

	self := s.store.Self()
	if target.Kind == models.TargetRoom {
		if err := s.ch.Emit(protocol.TypeJoinRoom, protocol.JoinRoomMessage{RoomID: target.ID, UserID: self.ID}); err != nil {
			log.Printf("join_room not sent: %v", err)
		}
	}

	if self.ID == 0 {
		return
	}
	go func() {
		msgs, err := s.api.LoadHistory(ctx, target, self.ID)
		if err != nil {
			s.reportError(fmt.Errorf("history load failed: %w", err))
			return
		}
		if s.store.CompleteHistory(token, msgs) {
			s.notifyMessages()
		}
	}()
}

// Send sends content to the active conversation. Empty or
// whitespace-only content, or no active target, is a silent no-op.
// Direct sends are echoed locally per the echo policy; room sends wait
// for the server's receive_room_message broadcast.
func (s *Session) Send(content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	target := s.store.Target()
	if target.IsZero() {
		return
	}

	self := s.store.Self()
	msg := models.Message{
		SenderID:   self.ID,
		SenderInfo: &models.User{ID: self.ID, Name: self.Name},
		Content:    content,
	}

	policy := s.store.Echo()
	var msgType protocol.MessageType
	var echo bool
	switch target.Kind {
	case models.TargetRoom:
		msg.RoomID = target.ID
		msgType = protocol.TypeSendRoom
		echo = policy.RoomMessages
	case models.TargetUser:
		msg.RecipientID = target.ID
		msgType = protocol.TypeSendPrivate
		echo = policy.DirectMessages
	}

	if err := s.ch.Emit(msgType, msg); err != nil {
		s.reportError(fmt.Errorf("send failed: %w", err))
		return
	}
	if echo {
		s.store.AppendLocalEcho(msg)
		s.notifyMessages()
	}
}

// CreateRoom asks the server to create a room. The roster entry also
// comes back through the new_room broadcast, which merges idempotently.
func (s *Session) CreateRoom(ctx context.Context, name string) (models.Room, error) {
	room, err := s.api.CreateRoom(ctx, name)
	if err != nil {
		return models.Room{}, fmt.Errorf("failed to create room: %w", err)
	}
	if s.store.ApplyRoom(room) {
		s.notifyRoster()
	}
	return room, nil
}

// Self returns the resolved local identity, zero before Start.
func (s *Session) Self() models.Identity { return s.store.Self() }

// Target returns the active conversation target.
func (s *Session) Target() models.Target { return s.store.Target() }

// Users returns the user roster sorted by name.
func (s *Session) Users() []models.User { return s.store.Users() }

// Rooms returns the room roster sorted by name.
func (s *Session) Rooms() []models.Room { return s.store.Rooms() }

// Messages returns the active conversation's message list.
func (s *Session) Messages() []models.Message { return s.store.Messages() }

func (s *Session) handleNewUser(u models.User) {
	if s.store.ApplyUser(u) {
		s.notifyRoster()
	}
}

func (s *Session) handleNewRoom(r models.Room) {
	if s.store.ApplyRoom(r) {
		s.notifyRoster()
	}
}

func (s *Session) handleIncoming(m models.Message) {
	if s.store.ApplyIncoming(m) {
		s.notifyMessages()
	}
}

// handleConnect runs after every dial. On the initial connect the
// identity is still unresolved and Start drives registration; on a
// reconnect the identity is re-bound to the new connection and the
// active room re-joined, since room subscriptions are
// connection-scoped.
func (s *Session) handleConnect() {
	self := s.store.Self()
	if self.ID == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.api.RegisterIdentity(ctx, self.ID, self.Name, s.ch.ConnectionID()); err != nil {
		s.reportError(fmt.Errorf("failed to re-register identity: %w", err))
	}
	if err := s.ch.Emit(protocol.TypeRegisterUser, protocol.RegisterUserMessage(self)); err != nil {
		log.Printf("register_user not sent: %v", err)
	}

	if t := s.store.Target(); t.Kind == models.TargetRoom {
		if err := s.ch.Emit(protocol.TypeJoinRoom, protocol.JoinRoomMessage{RoomID: t.ID, UserID: self.ID}); err != nil {
			log.Printf("join_room not sent: %v", err)
		}
	}
}

func (s *Session) loadIdentity() *models.Identity {
	if s.ids == nil {
		return nil
	}
	ident, err := s.ids.LoadIdentity()
	if err != nil {
		log.Printf("identity store unavailable, registering fresh: %v", err)
		return nil
	}
	return ident
}

func (s *Session) saveIdentity(ident models.Identity) {
	if s.ids == nil {
		return
	}
	if err := s.ids.SaveIdentity(ident); err != nil {
		log.Printf("failed to persist identity: %v", err)
	}
}

func (s *Session) reportError(err error) {
	log.Printf("session: %v", err)
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Session) notifyRoster() {
	if s.onRoster != nil {
		s.onRoster()
	}
}

func (s *Session) notifyMessages() {
	if s.onMessages != nil {
		s.onMessages()
	}
}
