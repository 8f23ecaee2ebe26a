package models

// TargetKind discriminates the two kinds of conversation target.
type TargetKind string

const (
	TargetUser TargetKind = "user"
	TargetRoom TargetKind = "room"
)

// Target identifies the active conversation: a specific user or room.
// The zero value means no conversation is selected.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   int64      `json:"id"`
	Name string     `json:"name"`
}

// IsZero reports whether no conversation is selected.
func (t Target) IsZero() bool {
	return t.Kind == ""
}

// Same reports whether other refers to the same user or room,
// ignoring the display name.
func (t Target) Same(other Target) bool {
	return t.Kind == other.Kind && t.ID == other.ID
}
