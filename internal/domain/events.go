package domain

import (
	"encoding/json"
	"fmt"
)

// Realtime event names, as spoken on the socket. Outbound events are emitted
// by the client; inbound events arrive from the server.
const (
	// Outbound.
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
	EventSendMessage = "send_message"

	// Inbound.
	EventMessageReceived   = "message_received"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventUserJoinedRoom    = "user_joined_room"
	EventUserLeftRoom      = "user_left_room"
	EventRoomJoined        = "room_joined"
	EventRoomLeft          = "room_left"
	EventError             = "error"
)

// Event is the tagged union of inbound realtime payloads. Decoding happens
// once, at the channel boundary, so downstream components never probe raw
// JSON for field presence.
type Event interface {
	// EventName reports the wire name this payload arrived under.
	EventName() string
}

// MessageReceived carries a server-confirmed chat message.
type MessageReceived struct {
	ID        ID        `json:"id"`
	RoomID    ID        `json:"roomId"`
	UserID    ID        `json:"userId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"createdAt"`
}

func (MessageReceived) EventName() string { return EventMessageReceived }

// Message converts the wire payload into a view entry.
func (e MessageReceived) Message() Message {
	return Message{
		ID:        e.ID.String(),
		RoomID:    e.RoomID,
		UserID:    e.UserID,
		Username:  e.Username,
		Content:   e.Content,
		CreatedAt: e.CreatedAt,
		Kind:      KindNormal,
	}
}

// UserTyping announces that another user started typing in the room the
// client is subscribed to.
type UserTyping struct {
	UserID   ID     `json:"userId"`
	Username string `json:"username"`
}

func (UserTyping) EventName() string { return EventUserTyping }

// UserStoppedTyping clears a typing indicator.
type UserStoppedTyping struct {
	UserID ID `json:"userId"`
}

func (UserStoppedTyping) EventName() string { return EventUserStoppedTyping }

// UserJoinedRoom and UserLeftRoom are membership broadcasts for the
// subscribed room. The client synthesizes system notifications from them.
type UserJoinedRoom struct {
	UserID   ID     `json:"userId"`
	Username string `json:"username"`
}

func (UserJoinedRoom) EventName() string { return EventUserJoinedRoom }

type UserLeftRoom struct {
	UserID   ID     `json:"userId"`
	Username string `json:"username"`
}

func (UserLeftRoom) EventName() string { return EventUserLeftRoom }

// RoomJoined confirms a join signal. It is informational: membership is
// already established by the REST call, so handling it must be idempotent.
type RoomJoined struct {
	RoomID  ID     `json:"roomId"`
	Message string `json:"message,omitempty"`
}

func (RoomJoined) EventName() string { return EventRoomJoined }

// RoomLeft confirms a leave signal.
type RoomLeft struct {
	RoomID  ID     `json:"roomId"`
	Message string `json:"message,omitempty"`
}

func (RoomLeft) EventName() string { return EventRoomLeft }

// ErrorEvent is a server-reported realtime failure.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) EventName() string { return EventError }

// Unauthorized reports whether the error means the credential was rejected.
func (e ErrorEvent) Unauthorized() bool {
	return e.Message == "Unauthorized"
}

// DecodeEvent parses an inbound payload into its tagged variant. Unknown
// event names are an error; the caller decides whether to drop or log them.
func DecodeEvent(name string, payload []byte) (Event, error) {
	var ev Event
	switch name {
	case EventMessageReceived:
		ev = &MessageReceived{}
	case EventUserTyping:
		ev = &UserTyping{}
	case EventUserStoppedTyping:
		ev = &UserStoppedTyping{}
	case EventUserJoinedRoom:
		ev = &UserJoinedRoom{}
	case EventUserLeftRoom:
		ev = &UserLeftRoom{}
	case EventRoomJoined:
		ev = &RoomJoined{}
	case EventRoomLeft:
		ev = &RoomLeft{}
	case EventError:
		ev = &ErrorEvent{}
	default:
		return nil, fmt.Errorf("unknown event %q", name)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	return ev, nil
}

// Outbound payload shapes.

// JoinRoomPayload is sent with join_room and leave_room.
type JoinRoomPayload struct {
	RoomID ID `json:"roomId"`
}

// TypingPayload is sent with typing_start and typing_stop.
type TypingPayload struct {
	RoomID ID `json:"roomId"`
}

// SendMessagePayload is sent with send_message.
type SendMessagePayload struct {
	RoomID  ID     `json:"roomId"`
	Content string `json:"content"`
}
