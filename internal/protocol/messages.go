package protocol

import (
	"encoding/json"

	"github.com/lokendra-hiteshi/chat-app-web/internal/models"
)

// MessageType identifies the type of event channel message.
type MessageType string

const (
	// Client -> Server
	TypeRegisterUser MessageType = "register_user"
	TypeJoinRoom     MessageType = "join_room"
	TypeSendPrivate  MessageType = "send_private_message"
	TypeSendRoom     MessageType = "send_room_message"

	// Server -> Client
	TypeNewUser        MessageType = "new_user"
	TypeNewRoom        MessageType = "new_room"
	TypeReceivePrivate MessageType = "receive_private_message"
	TypeReceiveRoom    MessageType = "receive_room_message"
)

// Envelope wraps all event channel messages with a type field.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RegisterUserMessage binds a registered identity to this connection
// so the server can route private messages to it.
type RegisterUserMessage struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// JoinRoomMessage subscribes this connection to a room's broadcasts.
// Room subscriptions are connection-scoped and must be re-sent after
// a reconnect.
type JoinRoomMessage struct {
	RoomID int64 `json:"roomId"`
	UserID int64 `json:"userId"`
}

// Send payloads and inbound message deliveries are models.Message;
// inbound roster additions are models.User and models.Room.

// NewEnvelope creates an envelope with the given type and data.
func NewEnvelope(msgType MessageType, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type: msgType,
		Data: raw,
	}, nil
}

// ParseEnvelope parses a JSON message into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// DecodeUser decodes a new_user payload.
func DecodeUser(env *Envelope) (models.User, error) {
	var u models.User
	err := json.Unmarshal(env.Data, &u)
	return u, err
}

// DecodeRoom decodes a new_room payload.
func DecodeRoom(env *Envelope) (models.Room, error) {
	var r models.Room
	err := json.Unmarshal(env.Data, &r)
	return r, err
}

// DecodeMessage decodes a receive_private_message or
// receive_room_message payload.
func DecodeMessage(env *Envelope) (models.Message, error) {
	var m models.Message
	err := json.Unmarshal(env.Data, &m)
	return m, err
}
