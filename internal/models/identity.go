package models

// Identity is the local user's registered identity. It is created once
// through registration, immutable for the session, and persisted so a
// later session can re-bind to the same server-side user.
type Identity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
