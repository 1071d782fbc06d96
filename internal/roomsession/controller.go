// Package roomsession tracks which room is active and orchestrates join and
// leave across the REST API (membership persistence) and the realtime
// channel (live subscription). At most one room subscription is live at a
// time, and at most one join/leave sequence is in flight: a newer SelectRoom
// supersedes an older one, last caller wins.
package roomsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/chatlink/internal/domain"
)

// ErrSuperseded is returned to a SelectRoom or LeaveCurrentRoom caller whose
// sequence was overtaken by a newer call. Its remaining effects were skipped.
var ErrSuperseded = errors.New("room selection superseded by a newer call")

// State is the controller's position in the join/leave lifecycle.
type State int

const (
	NoRoom State = iota
	Joining
	Active
	Leaving
)

func (s State) String() string {
	switch s {
	case Joining:
		return "joining"
	case Active:
		return "active"
	case Leaving:
		return "leaving"
	default:
		return "no-room"
	}
}

// ActiveRoomSession is the client's live subscription to one room. It exists
// only between a completed join and the start of a leave or switch.
type ActiveRoomSession struct {
	Room     domain.RoomRef
	JoinedAt time.Time
}

// Channel is the realtime surface the controller signals on.
type Channel interface {
	Emit(event string, payload any) error
	IsConnected() bool
	OnceConnected(fn func()) (cancel func())
	OnStateChange(fn func(domain.ConnectionState)) (cancel func())
}

// MembershipAPI is the REST surface for membership persistence. The backend
// stays authoritative on membership; the realtime signal is best-effort.
type MembershipAPI interface {
	JoinRoom(ctx context.Context, id domain.ID) error
	LeaveRoom(ctx context.Context, id domain.ID) error
}

// Controller is the room session state machine.
type Controller struct {
	api    MembershipAPI
	ch     Channel
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	active      *ActiveRoomSession
	seq         uint64
	pendingJoin func() // cancels a deferred join-on-connect, if any

	stopRejoin func()
}

// New creates the controller and registers the reconnect replay: whenever
// the channel transitions to Connected while a room is active, the join
// signal for that room is re-emitted so a reconnect never leaves the session
// desynchronized from its last known room.
func New(api MembershipAPI, ch Channel) *Controller {
	c := &Controller{
		api:    api,
		ch:     ch,
		logger: slog.Default().With("service", "roomsession"),
	}

	c.stopRejoin = ch.OnStateChange(func(s domain.ConnectionState) {
		if s != domain.Connected {
			return
		}
		c.mu.Lock()
		var roomID domain.ID
		rejoin := c.state == Active && c.active != nil
		if rejoin {
			roomID = c.active.Room.ID
		}
		c.mu.Unlock()

		if rejoin {
			c.logger.Info("Reconnected, replaying room join", "room_id", roomID)
			c.emitJoin(roomID)
		}
	})

	return c
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active returns the live room session, or nil.
func (c *Controller) Active() *ActiveRoomSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SelectRoom makes room the active session. If another room was active, its
// leave signal is emitted best-effort first. Success is defined by the REST
// join resolving; the realtime join signal is fire-and-forget and, when the
// channel is not yet connected, deferred to the next Connected transition
// rather than dropped.
func (c *Controller) SelectRoom(ctx context.Context, room domain.RoomRef) error {
	c.mu.Lock()
	c.seq++
	my := c.seq
	c.cancelPendingJoinLocked()
	prev := c.active
	c.active = nil
	c.state = Joining
	c.mu.Unlock()

	if prev != nil {
		// Best-effort, not awaited. A failed leave signal is harmless: the
		// backend drops the membership on the REST path and stale realtime
		// leaves are idempotent server-side.
		if err := c.ch.Emit(domain.EventLeaveRoom, domain.JoinRoomPayload{RoomID: prev.Room.ID}); err != nil {
			c.logger.Debug("Leave signal for previous room not sent", "room_id", prev.Room.ID, "error", err)
		}
	}

	err := c.api.JoinRoom(ctx, room.ID)

	c.mu.Lock()
	if c.seq != my {
		c.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		c.state = NoRoom
		c.mu.Unlock()
		return fmt.Errorf("join room %d: %w", room.ID, err)
	}

	c.state = Active
	c.active = &ActiveRoomSession{Room: room, JoinedAt: time.Now()}

	if c.ch.IsConnected() {
		c.mu.Unlock()
		c.emitJoin(room.ID)
		return nil
	}

	// The user selected a room before the handshake finished. Defer the join
	// signal via a one-shot listener; the deferred emit re-checks that this
	// sequence is still the current one before firing.
	c.pendingJoin = c.ch.OnceConnected(func() {
		c.mu.Lock()
		stale := c.seq != my || c.state != Active
		c.pendingJoin = nil
		c.mu.Unlock()
		if !stale {
			c.emitJoin(room.ID)
		}
	})
	c.mu.Unlock()
	return nil
}

// LeaveCurrentRoom ends the active session. The REST leave error is reported
// to the caller but never blocks clearing local state: the backend remaining
// authoritative on membership is independent of local UI state.
func (c *Controller) LeaveCurrentRoom(ctx context.Context) error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return nil
	}
	c.seq++
	my := c.seq
	c.cancelPendingJoinLocked()
	room := c.active.Room
	c.state = Leaving
	c.mu.Unlock()

	err := c.api.LeaveRoom(ctx, room.ID)

	if emitErr := c.ch.Emit(domain.EventLeaveRoom, domain.JoinRoomPayload{RoomID: room.ID}); emitErr != nil {
		c.logger.Debug("Leave signal not sent", "room_id", room.ID, "error", emitErr)
	}

	c.mu.Lock()
	if c.seq == my {
		c.active = nil
		c.state = NoRoom
	}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("leave room %d: %w", room.ID, err)
	}
	return nil
}

// Close unregisters the controller's channel listeners.
func (c *Controller) Close() {
	c.mu.Lock()
	c.cancelPendingJoinLocked()
	stop := c.stopRejoin
	c.stopRejoin = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (c *Controller) emitJoin(roomID domain.ID) {
	if err := c.ch.Emit(domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: roomID}); err != nil {
		// Recoverable: the reconnect replay re-emits the join once the
		// channel comes back.
		c.logger.Warn("Join signal not sent", "room_id", roomID, "error", err)
	}
}

func (c *Controller) cancelPendingJoinLocked() {
	if c.pendingJoin != nil {
		c.pendingJoin()
		c.pendingJoin = nil
	}
}
