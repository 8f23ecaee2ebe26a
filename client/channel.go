package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lokendra-hiteshi/chat-app-web/internal/models"
	"github.com/lokendra-hiteshi/chat-app-web/internal/protocol"
)

// ErrNotConnected is returned by Emit while the transport is down.
// Commands are fire-and-forget and are not queued across outages.
var ErrNotConnected = errors.New("event channel not connected")

// Handlers carry the EventChannel's callbacks. Nil handlers drop the
// corresponding event. OnConnect fires after every successful dial,
// including redials, so the owner can re-register and re-join.
type Handlers struct {
	OnNewUser        func(u models.User)
	OnNewRoom        func(r models.Room)
	OnPrivateMessage func(m models.Message)
	OnRoomMessage    func(m models.Message)
	OnConnect        func()
}

// EventChannel is the persistent push connection to the chat server.
// It delivers inbound roster and message events in transport order and
// accepts outbound commands. On connection loss it redials with
// exponential backoff until Close is called.
type EventChannel struct {
	url      string
	dialer   *websocket.Dialer
	handlers Handlers

	mu     sync.RWMutex
	conn   *websocket.Conn
	connID string
	send   chan []byte
	done   chan struct{}
	closed bool
}

// NewEventChannel creates a channel for the given websocket URL,
// e.g. "ws://localhost:5000/ws".
func NewEventChannel(wsURL string, handlers Handlers) *EventChannel {
	return &EventChannel{
		url:      wsURL,
		dialer:   websocket.DefaultDialer,
		handlers: handlers,
	}
}

// Connect dials the server and starts the read/write pumps.
func (c *EventChannel) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	c.start(conn)
	return nil
}

// ConnectionID returns an id identifying the current connection. A new
// id is minted on every (re)connect, mirroring transport session ids.
func (c *EventChannel) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connID
}

// Connected reports whether the transport is currently up.
func (c *EventChannel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Emit sends a fire-and-forget command to the server. Returns
// ErrNotConnected while the transport is down; the command is dropped.
func (c *EventChannel) Emit(msgType protocol.MessageType, payload interface{}) error {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.RLock()
	send, done, connected := c.send, c.done, c.conn != nil
	c.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}

	select {
	case send <- data:
		return nil
	case <-done:
		return ErrNotConnected
	}
}

// Close tears down the connection and stops reconnecting.
func (c *EventChannel) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	if conn != nil {
		close(c.done)
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (c *EventChannel) start(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.connID = uuid.New().String()
	c.send = make(chan []byte, 256)
	c.done = make(chan struct{})
	send, done := c.send, c.done
	c.mu.Unlock()

	go c.writePump(conn, send, done)
	go c.readPump(conn)

	if c.handlers.OnConnect != nil {
		c.handlers.OnConnect()
	}
}

func (c *EventChannel) readPump(conn *websocket.Conn) {
	defer func() {
		c.teardown(conn)
		if !c.isClosed() {
			go c.reconnectLoop()
		}
	}()

	conn.SetReadLimit(65536)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("event channel error: %v", err)
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *EventChannel) writePump(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

func (c *EventChannel) reconnectLoop() {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Second * time.Duration(1<<min(attempt, 5)))
		}
		if c.isClosed() {
			return
		}

		conn, _, err := c.dialer.Dial(c.url, nil)
		if err != nil {
			log.Printf("reconnect failed (attempt %d): %v", attempt+1, err)
			continue
		}

		log.Printf("event channel reconnected to %s", c.url)
		c.start(conn)
		return
	}
}

func (c *EventChannel) teardown(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		close(c.done)
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *EventChannel) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *EventChannel) dispatch(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		log.Printf("failed to parse event: %v", err)
		return
	}

	switch env.Type {
	case protocol.TypeNewUser:
		u, err := protocol.DecodeUser(env)
		if err != nil {
			log.Printf("failed to parse new_user: %v", err)
			return
		}
		if c.handlers.OnNewUser != nil {
			c.handlers.OnNewUser(u)
		}

	case protocol.TypeNewRoom:
		r, err := protocol.DecodeRoom(env)
		if err != nil {
			log.Printf("failed to parse new_room: %v", err)
			return
		}
		if c.handlers.OnNewRoom != nil {
			c.handlers.OnNewRoom(r)
		}

	case protocol.TypeReceivePrivate:
		m, err := protocol.DecodeMessage(env)
		if err != nil {
			log.Printf("failed to parse receive_private_message: %v", err)
			return
		}
		if c.handlers.OnPrivateMessage != nil {
			c.handlers.OnPrivateMessage(m)
		}

	case protocol.TypeReceiveRoom:
		m, err := protocol.DecodeMessage(env)
		if err != nil {
			log.Printf("failed to parse receive_room_message: %v", err)
			return
		}
		if c.handlers.OnRoomMessage != nil {
			c.handlers.OnRoomMessage(m)
		}
	}
}
