package domain

// RoomRef is a read-only projection of server-side room state. The client
// never mutates rooms locally; the list is refreshed from the REST API.
type RoomRef struct {
	ID          ID        `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   Timestamp `json:"createdAt,omitempty"`
	MemberCount int       `json:"memberCount"`
}
