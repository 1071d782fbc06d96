package domain

// Identity is the authenticated user as the client knows it. It is owned
// exclusively by the session store: created on login or registration,
// destroyed on logout. A non-nil Identity always carries a non-expired
// credential.
type Identity struct {
	UserID     ID     `json:"userId"`
	Username   string `json:"username"`
	Credential string `json:"-"`
}

// ConnectionState describes the realtime channel's transport state. It is
// owned by the channel manager and transitions only on transport events.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}
