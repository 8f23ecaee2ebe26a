package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lokendra-hiteshi/chat-app-web/internal/models"
)

// SnapshotClient fetches point-in-time roster and history state from
// the chat server's REST API. Failures are returned to the caller;
// there is no automatic retry.
type SnapshotClient struct {
	baseURL string
	http    *http.Client
}

// NewSnapshotClient creates a snapshot client for the given base URL,
// e.g. "http://localhost:5000".
func NewSnapshotClient(baseURL string, httpClient *http.Client) *SnapshotClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SnapshotClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
	}
}

// ListRooms returns the current room roster.
func (s *SnapshotClient) ListRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	if err := s.get(ctx, "/rooms", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// ListUsers returns the current user roster.
func (s *SnapshotClient) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.get(ctx, "/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// LoadHistory returns the message history for a conversation target,
// in chronological order as returned by the server. The unused
// dimension (recipient vs room) is sent as an empty parameter.
func (s *SnapshotClient) LoadHistory(ctx context.Context, target models.Target, selfID int64) ([]models.Message, error) {
	q := url.Values{}
	q.Set("sender_id", strconv.FormatInt(selfID, 10))
	switch target.Kind {
	case models.TargetUser:
		q.Set("recipient_id", strconv.FormatInt(target.ID, 10))
		q.Set("room_id", "")
	case models.TargetRoom:
		q.Set("recipient_id", "")
		q.Set("room_id", strconv.FormatInt(target.ID, 10))
	default:
		return nil, fmt.Errorf("cannot load history without a target")
	}

	var msgs []models.Message
	if err := s.get(ctx, "/messages", q, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

type registerRequest struct {
	UserID   int64  `json:"userId,omitempty"`
	Name     string `json:"name"`
	SocketID string `json:"socketId"`
}

// RegisterIdentity registers or re-binds an identity on the server.
// The call is an idempotent upsert: passing an existing userID returns
// the same identity, bound to the given connection id.
func (s *SnapshotClient) RegisterIdentity(ctx context.Context, userID int64, name, socketID string) (models.Identity, error) {
	var ident models.Identity
	err := s.post(ctx, "/users", registerRequest{
		UserID:   userID,
		Name:     name,
		SocketID: socketID,
	}, &ident)
	return ident, err
}

// CreateRoom creates a room on the server. The new room is also
// announced to all clients through a new_room broadcast.
func (s *SnapshotClient) CreateRoom(ctx context.Context, name string) (models.Room, error) {
	var room models.Room
	err := s.post(ctx, "/rooms", map[string]string{"name": name}, &room)
	return room, err
}

func (s *SnapshotClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := s.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return s.do(req, path, out)
}

func (s *SnapshotClient) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, path, out)
}

func (s *SnapshotClient) do(req *http.Request, path string, out interface{}) error {
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
