package models

// User is a roster entry for a known chat user. Users are never
// removed within a session.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
