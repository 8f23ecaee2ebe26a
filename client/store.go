package client

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/lokendra-hiteshi/chat-app-web/internal/models"
)

// EchoPolicy controls optimistic local echo of sent messages. The
// server broadcasts room messages back to the sender but does not echo
// private sends, so the defaults differ by target kind.
type EchoPolicy struct {
	DirectMessages bool
	RoomMessages   bool
}

// DefaultEchoPolicy echoes direct messages locally and lets the server
// echo room messages, matching the observed server behavior.
func DefaultEchoPolicy() EchoPolicy {
	return EchoPolicy{DirectMessages: true}
}

// Store is the single source of truth for roster state and the active
// conversation's message list. All mutation goes through its methods;
// readers get copies. Roster membership only grows within a session.
type Store struct {
	mu sync.RWMutex

	self  models.Identity
	users map[int64]models.User
	rooms map[int64]models.Room

	target    models.Target
	loadToken string
	messages  []models.Message
	seen      map[string]struct{}

	echo EchoPolicy
}

// NewStore creates an empty store with the given echo policy.
func NewStore(echo EchoPolicy) *Store {
	return &Store{
		users: make(map[int64]models.User),
		rooms: make(map[int64]models.Room),
		seen:  make(map[string]struct{}),
		echo:  echo,
	}
}

// SetSelf records the resolved local identity.
func (s *Store) SetSelf(ident models.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = ident
}

// Self returns the local identity, zero if not yet resolved.
func (s *Store) Self() models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// MergeRosterSnapshot unions a REST roster snapshot into the known
// roster. Entries already learned from events are kept; a snapshot
// never removes anything, so an event arriving before the snapshot
// resolves is not lost.
func (s *Store) MergeRosterSnapshot(rooms []models.Room, users []models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rooms {
		s.rooms[r.ID] = r
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
}

// ApplyUser records a user learned from a new_user event. Returns
// false if the user was already known, making duplicate delivery
// (e.g. reconnect replay) harmless.
func (s *Store) ApplyUser(u models.User) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return false
	}
	s.users[u.ID] = u
	return true
}

// ApplyRoom records a room learned from a new_room event. Returns
// false if the room was already known.
func (s *Store) ApplyRoom(r models.Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[r.ID]; ok {
		return false
	}
	s.rooms[r.ID] = r
	return true
}

// SelectTarget makes target the active conversation, clearing the
// message list before any history load can resolve. The returned token
// must be presented to CompleteHistory; a token minted by an earlier
// selection no longer matches, so its history is dropped.
func (s *Store) SelectTarget(target models.Target) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = target
	s.loadToken = uuid.New().String()
	s.messages = nil
	s.seen = make(map[string]struct{})
	return s.loadToken
}

// Target returns the active conversation target, zero if none.
func (s *Store) Target() models.Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}

// CompleteHistory installs a resolved history load. Returns false if
// the token is stale, i.e. the target changed while the load was in
// flight. Messages that arrived live while the load was pending are
// kept after the history, minus any the history already contains.
func (s *Store) CompleteHistory(token string, history []models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.loadToken {
		return false
	}

	live := s.messages
	s.messages = append([]models.Message(nil), history...)
	s.seen = make(map[string]struct{}, len(history)+len(live))
	for _, m := range history {
		s.seen[fingerprint(m)] = struct{}{}
	}
	for _, m := range live {
		fp := fingerprint(m)
		if _, dup := s.seen[fp]; dup {
			continue
		}
		s.seen[fp] = struct{}{}
		s.messages = append(s.messages, m)
	}
	return true
}

// ApplyIncoming appends a message delivered by the event channel, in
// arrival order. Messages addressed to a conversation other than the
// active one are discarded, as are duplicates of messages already in
// the list. Returns true if the message was appended.
func (s *Store) ApplyIncoming(m models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.addressesActive(m) {
		return false
	}
	fp := fingerprint(m)
	if _, dup := s.seen[fp]; dup {
		return false
	}
	s.seen[fp] = struct{}{}
	s.messages = append(s.messages, m)
	return true
}

// AppendLocalEcho appends an optimistic echo of a locally sent
// message. Its fingerprint is recorded so an unexpected server echo of
// the same send is suppressed.
func (s *Store) AppendLocalEcho(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[fingerprint(m)] = struct{}{}
	s.messages = append(s.messages, m)
}

// Echo returns the store's optimistic echo policy.
func (s *Store) Echo() EchoPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.echo
}

// Users returns the user roster sorted by name.
func (s *Store) Users() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Rooms returns the room roster sorted by name.
func (s *Store) Rooms() []models.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Messages returns a copy of the active conversation's message list.
func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Message(nil), s.messages...)
}

// addressesActive reports whether m belongs to the active
// conversation. For a user target the private exchange may run in
// either direction between self and that user.
func (s *Store) addressesActive(m models.Message) bool {
	switch s.target.Kind {
	case models.TargetRoom:
		return m.RoomID == s.target.ID
	case models.TargetUser:
		if m.RoomID != 0 {
			return false
		}
		return (m.SenderID == s.target.ID && m.RecipientID == s.self.ID) ||
			(m.SenderID == s.self.ID && m.RecipientID == s.target.ID)
	default:
		return false
	}
}

// fingerprint identifies a message for duplicate suppression. The
// server assigns no message id, so sender, addressing, and content are
// the only equality signal; two legitimately identical sends within
// one conversation collapse to one entry.
func fingerprint(m models.Message) string {
	return fmt.Sprintf("%d|%d|%d|%s", m.SenderID, m.RecipientID, m.RoomID, m.Content)
}
