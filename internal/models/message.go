package models

// Message is a chat message. Exactly one of RecipientID and RoomID is
// set, matching the kind of conversation it belongs to. The server
// assigns no id or timestamp; ordering is by arrival.
type Message struct {
	SenderID    int64  `json:"sender_id"`
	SenderInfo  *User  `json:"sender_info,omitempty"`
	RecipientID int64  `json:"recipient_id,omitempty"`
	RoomID      int64  `json:"room_id,omitempty"`
	Content     string `json:"content"`
}
