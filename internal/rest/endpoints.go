package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nfrund/chatlink/internal/domain"
)

// LoginRequest is the credential pair for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest is the payload for POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is the backend's answer to both auth endpoints.
type AuthResponse struct {
	Token    string    `json:"token"`
	Username string    `json:"username"`
	UserID   domain.ID `json:"userId"`
	Message  string    `json:"message,omitempty"`
}

// CreateRoomRequest is the payload for POST /rooms.
type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SendMessageRequest is the payload for POST /messages.
type SendMessageRequest struct {
	RoomID  domain.ID `json:"roomId"`
	Content string    `json:"content"`
}

// Login exchanges a credential pair for a bearer token.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates an account and returns a bearer token for it.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Rooms lists every room on the server.
func (c *Client) Rooms(ctx context.Context) ([]domain.RoomRef, error) {
	var rooms []domain.RoomRef
	if err := c.do(ctx, http.MethodGet, "/rooms", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// Room fetches a single room by id.
func (c *Client) Room(ctx context.Context, id domain.ID) (*domain.RoomRef, error) {
	var room domain.RoomRef
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/rooms/%d", id), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateRoom creates a room and returns the server's projection of it.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*domain.RoomRef, error) {
	var room domain.RoomRef
	if err := c.do(ctx, http.MethodPost, "/rooms", req, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// JoinRoom persists membership for the current user.
func (c *Client) JoinRoom(ctx context.Context, id domain.ID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/rooms/%d/join", id), nil, nil)
}

// LeaveRoom removes the current user's membership.
func (c *Client) LeaveRoom(ctx context.Context, id domain.ID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/rooms/%d/leave", id), nil, nil)
}

// RoomMessages returns the full message history for a room, in server order.
func (c *Client) RoomMessages(ctx context.Context, id domain.ID) ([]domain.Message, error) {
	var wire []domain.MessageReceived
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/messages/room/%d/all", id), nil, &wire); err != nil {
		return nil, err
	}
	messages := make([]domain.Message, 0, len(wire))
	for _, m := range wire {
		messages = append(messages, m.Message())
	}
	return messages, nil
}

// SendMessage persists a message over REST. The realtime send_message event
// is the primary path; this endpoint exists for clients without a socket.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*domain.Message, error) {
	var wire domain.MessageReceived
	if err := c.do(ctx, http.MethodPost, "/messages", req, &wire); err != nil {
		return nil, err
	}
	msg := wire.Message()
	return &msg, nil
}
