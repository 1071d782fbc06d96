// Package reconcile merges locally originated (optimistic) messages with
// server-confirmed messages and locally synthesized system notifications
// into one ordered, deduplicated view per room. It also tracks the transient
// typing-indicator state for the room being viewed.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/chatlink/internal/channel"
	"github.com/nfrund/chatlink/internal/domain"
)

// Channel is the realtime surface the engine uses: inbound event
// subscriptions plus outbound send/typing signals. The engine takes the
// single ordered inbound stream, not per-event subscriptions, because a
// room's view must apply events in the order the transport delivered them.
type Channel interface {
	Emit(event string, payload any) error
	IsConnected() bool
	OnceConnected(fn func()) (cancel func())
	OnInbound(handler func(domain.Event)) *channel.Subscription
}

// HistoryAPI loads a room's persisted message history.
type HistoryAPI interface {
	RoomMessages(ctx context.Context, id domain.ID) ([]domain.Message, error)
}

// IdentitySource reports who the local user is, or nil when logged out. The
// engine uses it to author optimistic messages and to exclude the local user
// from typing sets.
type IdentitySource func() *domain.Identity

// Engine is the message reconciliation engine.
type Engine struct {
	api    HistoryAPI
	ch     Channel
	self   IdentitySource
	logger *slog.Logger

	typingTimeout time.Duration

	mu            sync.Mutex
	current       domain.ID                      // the room whose events are being viewed
	views         map[domain.ID][]domain.Message // append-ordered per room
	seen          map[domain.ID]map[string]bool  // per-room id sets for dedupe
	typing        map[domain.ID]map[domain.ID]domain.TypingUser
	local         map[domain.ID]*time.Timer // one inactivity timer per local typing session
	subs          channel.SubscriptionSet
	onViewChanged func(domain.ID)
}

// Option configures an Engine.
type Option func(*Engine)

// WithTypingTimeout overrides the local typing inactivity window (tests
// shrink it).
func WithTypingTimeout(d time.Duration) Option {
	return func(e *Engine) { e.typingTimeout = d }
}

// OnViewChanged registers the redraw hook called (with the affected room)
// after any view or typing-set mutation.
func OnViewChanged(fn func(domain.ID)) Option {
	return func(e *Engine) { e.onViewChanged = fn }
}

// New creates the engine and subscribes it to the inbound realtime events it
// reconciles. Close releases the subscriptions.
func New(api HistoryAPI, ch Channel, self IdentitySource, opts ...Option) *Engine {
	e := &Engine{
		api:           api,
		ch:            ch,
		self:          self,
		logger:        slog.Default().With("service", "reconcile"),
		typingTimeout: 2 * time.Second,
		views:         make(map[domain.ID][]domain.Message),
		seen:          make(map[domain.ID]map[string]bool),
		typing:        make(map[domain.ID]map[domain.ID]domain.TypingUser),
		local:         make(map[domain.ID]*time.Timer),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.subs.Add(ch.OnInbound(e.ApplyInbound))

	return e
}

// Close releases the engine's event subscriptions and stops local timers.
func (e *Engine) Close() {
	e.subs.CancelAll()
	e.mu.Lock()
	for id, timer := range e.local {
		timer.Stop()
		delete(e.local, id)
	}
	e.mu.Unlock()
}

// SetCurrentRoom declares which room's events the user is viewing.
// Membership and typing broadcasts carry no room id on the wire, so they are
// attributed to this room. Switching resets the typing set for both rooms.
func (e *Engine) SetCurrentRoom(roomID domain.ID) {
	e.mu.Lock()
	if e.current != roomID {
		delete(e.typing, e.current)
		delete(e.typing, roomID)
	}
	e.current = roomID
	e.mu.Unlock()
}

// LoadHistory fetches the room's persisted history and replaces the entire
// view for that room. This is the only operation that may shrink a view:
// live events for the room always apply on top of a freshly loaded history.
func (e *Engine) LoadHistory(ctx context.Context, roomID domain.ID) ([]domain.Message, error) {
	messages, err := e.api.RoomMessages(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load history for room %d: %w", roomID, err)
	}

	e.mu.Lock()
	view := make([]domain.Message, len(messages))
	copy(view, messages)
	e.views[roomID] = view

	ids := make(map[string]bool, len(view))
	for _, m := range view {
		ids[m.ID] = true
	}
	e.seen[roomID] = ids
	e.mu.Unlock()

	e.viewChanged(roomID)
	return messages, nil
}

// ApplyOptimistic appends a locally created placeholder. It is visible
// immediately, before any server confirmation, and will be superseded by its
// canonical counterpart when that arrives.
func (e *Engine) ApplyOptimistic(m domain.Message) {
	m.Kind = domain.KindOptimistic

	e.mu.Lock()
	e.appendLocked(m)
	e.mu.Unlock()

	e.viewChanged(m.RoomID)
}

// ApplyInbound folds one decoded realtime event into the engine's state.
// Duplicate confirmed messages are dropped silently; everything else is
// applied in arrival order.
func (e *Engine) ApplyInbound(ev domain.Event) {
	switch ev := ev.(type) {
	case *domain.MessageReceived:
		e.applyConfirmed(ev.Message())
	case *domain.UserTyping:
		e.applyTypingStart(domain.TypingUser{UserID: ev.UserID, Username: ev.Username})
	case *domain.UserStoppedTyping:
		e.applyTypingStop(ev.UserID)
	case *domain.UserJoinedRoom:
		name := ev.Username
		if name == "" {
			name = "Someone"
		}
		e.appendSystem(fmt.Sprintf("%s joined the room", name))
	case *domain.UserLeftRoom:
		name := ev.Username
		if name == "" {
			name = fmt.Sprintf("User ID %s", ev.UserID)
		}
		e.appendSystem(fmt.Sprintf("%s left the room", name))
	default:
		e.logger.Debug("Ignoring event", "event", ev.EventName())
	}
}

// applyConfirmed reconciles a server-confirmed message into its room's view.
func (e *Engine) applyConfirmed(m domain.Message) {
	e.mu.Lock()
	roomID := m.RoomID

	if e.seen[roomID][m.ID] {
		// Already represented; the event is a duplicate delivery.
		e.mu.Unlock()
		return
	}

	// Supersede the optimistic placeholder for this send, if one exists.
	// Matching is by content and author because the placeholder was created
	// before the server assigned an id.
	view := e.views[roomID]
	filtered := view[:0]
	for _, existing := range view {
		if existing.Kind == domain.KindOptimistic &&
			existing.Content == m.Content &&
			existing.UserID == m.UserID {
			delete(e.seen[roomID], existing.ID)
			continue
		}
		filtered = append(filtered, existing)
	}
	e.views[roomID] = filtered

	e.appendLocked(m)
	e.mu.Unlock()

	e.viewChanged(roomID)
}

// appendSystem synthesizes a system notification for the room being viewed.
// System messages get a locally generated unique id and are appended
// directly, never deduplicated against other kinds: they have no canonical
// counterpart.
func (e *Engine) appendSystem(text string) {
	e.mu.Lock()
	roomID := e.current
	m := domain.Message{
		ID:        "system-" + uuid.NewString(),
		RoomID:    roomID,
		Username:  "System",
		Content:   text,
		CreatedAt: domain.Now(),
		Kind:      domain.KindSystem,
	}
	e.appendLocked(m)
	e.mu.Unlock()

	e.viewChanged(roomID)
}

// appendLocked adds a message to its room's view and records its id.
func (e *Engine) appendLocked(m domain.Message) {
	e.views[m.RoomID] = append(e.views[m.RoomID], m)
	if e.seen[m.RoomID] == nil {
		e.seen[m.RoomID] = make(map[string]bool)
	}
	e.seen[m.RoomID][m.ID] = true
}

// CurrentView returns the room's merged view in arrival order.
func (e *Engine) CurrentView(roomID domain.ID) []domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	view := make([]domain.Message, len(e.views[roomID]))
	copy(view, e.views[roomID])
	return view
}

// TypingUsers returns who is typing in the room, self excluded, ordered by
// user id for stable rendering.
func (e *Engine) TypingUsers(roomID domain.ID) []domain.TypingUser {
	e.mu.Lock()
	defer e.mu.Unlock()

	users := make([]domain.TypingUser, 0, len(e.typing[roomID]))
	for _, u := range e.typing[roomID] {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

func (e *Engine) applyTypingStart(user domain.TypingUser) {
	if id := e.self(); id != nil && id.UserID == user.UserID {
		// The local user's own typing echoes back from the broadcast;
		// never show it.
		return
	}

	e.mu.Lock()
	roomID := e.current
	if e.typing[roomID] == nil {
		e.typing[roomID] = make(map[domain.ID]domain.TypingUser)
	}
	if _, exists := e.typing[roomID][user.UserID]; exists {
		e.mu.Unlock()
		return
	}
	e.typing[roomID][user.UserID] = user
	e.mu.Unlock()

	e.viewChanged(roomID)
}

func (e *Engine) applyTypingStop(userID domain.ID) {
	e.mu.Lock()
	roomID := e.current
	if _, exists := e.typing[roomID][userID]; !exists {
		e.mu.Unlock()
		return
	}
	delete(e.typing[roomID], userID)
	e.mu.Unlock()

	e.viewChanged(roomID)
}

func (e *Engine) viewChanged(roomID domain.ID) {
	if e.onViewChanged != nil {
		e.onViewChanged(roomID)
	}
}
