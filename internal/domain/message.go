package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is a server-assigned numeric identifier. The backend serializes ids
// inconsistently (sometimes JSON numbers, sometimes strings), so ID accepts
// both wire forms and normalizes them to int64.
type ID int64

// UnmarshalJSON accepts both 7 and "7".
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", data, err)
	}
	*id = ID(n)
	return nil
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Timestamp wraps time.Time with tolerant decoding. The backend emits
// RFC3339 in some payloads and a zoneless layout in others.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999", // Java LocalDateTime.toString()
	"2006-01-02T15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("invalid timestamp %q: %w", s, lastErr)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`null`), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// Now returns the current time as a Timestamp, in UTC.
func Now() Timestamp {
	return Timestamp{Time: time.Now().UTC()}
}

// MessageKind distinguishes the three message representations the merged
// view can hold.
type MessageKind int

const (
	// KindNormal is a server-confirmed message with a canonical id.
	KindNormal MessageKind = iota
	// KindSystem is a locally synthesized notification (user joined/left).
	// System messages have no canonical counterpart on the server.
	KindSystem
	// KindOptimistic is a locally created placeholder shown before the
	// server confirms the send. Exactly one canonical message supersedes it.
	KindOptimistic
)

// Message is one entry in a room's merged view. ID is a string so that
// server-assigned numeric ids, optimistic placeholders, and system
// notifications share a single key space for deduplication.
type Message struct {
	ID        string      `json:"id"`
	RoomID    ID          `json:"roomId"`
	UserID    ID          `json:"userId"`
	Username  string      `json:"username"`
	Content   string      `json:"content"`
	CreatedAt Timestamp   `json:"createdAt"`
	Kind      MessageKind `json:"-"`
}

// Confirmed reports whether the message carries a server-assigned id.
func (m Message) Confirmed() bool {
	return m.Kind == KindNormal
}

// TypingUser is one entry in a room's typing set.
type TypingUser struct {
	UserID   ID     `json:"userId"`
	Username string `json:"username"`
}
