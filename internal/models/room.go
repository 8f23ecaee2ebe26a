package models

// Room is a roster entry for a chat room. Rooms are never removed
// within a session.
type Room struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
