// Package channel owns the single realtime connection to the chat backend.
// The Manager is a transport, not a protocol implementation: it moves framed
// events in both directions and reports connection-state transitions, but
// never interprets payloads beyond decoding them at the boundary.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nfrund/chatlink/internal/domain"
	"github.com/nfrund/chatlink/internal/pubsub"
)

// frame is the wire envelope for every realtime event, both directions.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// All inbound frames go out on one bus topic, in the order the transport
// delivered them. A topic per event name would give each event kind its own
// consumer goroutine and lose cross-event ordering within a room's view.
const (
	topicInbound = "realtime.inbound"
	metaKeyEvent = "event"
)

// Conn is the subset of the websocket connection the manager uses. Tests
// substitute an in-memory implementation.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a realtime connection. The default dials a websocket with the
// credential in the token query parameter, the way the backend authenticates
// the handshake.
type Dialer func(ctx context.Context, socketURL, credential string) (Conn, error)

func defaultDialer(ctx context.Context, socketURL, credential string) (Conn, error) {
	u, err := url.Parse(socketURL)
	if err != nil {
		return nil, fmt.Errorf("socket url: %w", err)
	}
	q := u.Query()
	q.Set("token", credential)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Manager enforces a single shared realtime connection process-wide. It is
// created once by the application wiring and passed by reference to every
// component that needs it; nothing else may create or destroy the underlying
// connection, and no component holds the connection object across a
// reconnect.
type Manager struct {
	socketURL string
	bus       pubsub.Bus
	logger    *slog.Logger
	dial      Dialer

	backoffMin time.Duration
	backoffMax time.Duration
	writeWait  time.Duration

	mu             sync.Mutex
	state          domain.ConnectionState
	conn           Conn
	credential     string
	closed         bool
	stateListeners map[int]func(domain.ConnectionState)
	nextListenerID int
	onUnauthorized func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the websocket dialer (used in tests).
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// WithBackoff overrides the reconnect backoff window.
func WithBackoff(min, max time.Duration) Option {
	return func(m *Manager) {
		m.backoffMin = min
		m.backoffMax = max
	}
}

// New creates the manager. The bus carries inbound events to subscribers;
// the manager is its only publisher.
func New(socketURL string, bus pubsub.Bus, opts ...Option) *Manager {
	m := &Manager{
		socketURL:      socketURL,
		bus:            bus,
		logger:         slog.Default().With("service", "channel"),
		dial:           defaultDialer,
		backoffMin:     time.Second,
		backoffMax:     30 * time.Second,
		writeWait:      5 * time.Second,
		state:          domain.Disconnected,
		stateListeners: make(map[int]func(domain.ConnectionState)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnUnauthorized registers the forced-logout delegate. The manager calls it
// when the server reports the credential was rejected mid-session.
func (m *Manager) OnUnauthorized(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnauthorized = fn
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the channel is live.
func (m *Manager) IsConnected() bool {
	return m.State() == domain.Connected
}

// Connect dials the realtime endpoint with the given credential. Calling it
// while the channel is already connected (or connecting) is a no-op. On
// success a read pump starts; on transport failure after that, the manager
// reconnects on its own with capped backoff.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()
	if m.state != domain.Disconnected {
		m.mu.Unlock()
		return nil
	}
	m.closed = false
	m.credential = credential
	m.setStateLocked(domain.Connecting)
	m.mu.Unlock()

	conn, err := m.dial(ctx, m.socketURL, credential)
	if err != nil {
		m.mu.Lock()
		m.setStateLocked(domain.Disconnected)
		m.mu.Unlock()
		return fmt.Errorf("connect realtime channel: %w", err)
	}

	m.attach(conn)
	return nil
}

// Disconnect closes the connection and stops any reconnect attempts. It is
// idempotent.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.closed = true
	m.credential = ""
	conn := m.conn
	m.conn = nil
	m.setStateLocked(domain.Disconnected)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Emit sends an event to the server. Emits are fire-and-forget: no
// acknowledgment is awaited, and a failed emit surfaces only as an error
// return.
func (m *Manager) Emit(event string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	data, err := json.Marshal(frame{Event: event, Payload: raw})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.writeWait)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	m.logger.Debug("Emitted event", "event", event)
	return nil
}

// attach installs a live connection and starts its read pump. A dial can
// complete after Disconnect was called; that connection must be discarded,
// not installed, or a stale authenticated channel outlives the session.
func (m *Manager) attach(conn Conn) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return
	}
	m.conn = conn
	m.setStateLocked(domain.Connected)
	m.mu.Unlock()

	go m.readPump(conn)
}

// readPump is the single producer of inbound events. It runs until the
// connection dies, then hands off to the reconnect loop.
func (m *Manager) readPump(conn Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			m.logger.Warn("Dropping malformed frame", "error", err)
			continue
		}

		m.handleInbound(f)
	}
}

func (m *Manager) handleInbound(f frame) {
	if f.Event == domain.EventError {
		var ev domain.ErrorEvent
		if err := json.Unmarshal(f.Payload, &ev); err == nil && ev.Unauthorized() {
			m.logger.Warn("Server rejected credential, forcing logout")
			m.mu.Lock()
			m.closed = true // a revoked credential cannot self-heal; no retry
			fn := m.onUnauthorized
			m.mu.Unlock()
			if fn != nil {
				go fn()
			}
		}
	}

	if err := m.bus.Publish(context.Background(), pubsub.Message{
		Topic:    topicInbound,
		Payload:  f.Payload,
		Metadata: map[string]string{metaKeyEvent: f.Event},
	}); err != nil {
		m.logger.Error("Failed to publish inbound event", "event", f.Event, "error", err)
	}
}

// handleDisconnect transitions to Disconnected and, unless the client asked
// for the disconnect, starts the reconnect loop.
func (m *Manager) handleDisconnect(conn Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		// A newer connection already replaced this one; the pump is stale.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.setStateLocked(domain.Disconnected)
	retry := !m.closed
	m.mu.Unlock()

	if retry {
		m.logger.Info("Realtime channel lost, reconnecting", "cause", cause)
		go m.reconnectLoop()
	}
}

// reconnectLoop redials with exponential backoff until it succeeds or the
// manager is closed. A successful redial fires the Connected state change,
// which is what triggers the room controller's rejoin replay.
func (m *Manager) reconnectLoop() {
	backoff := m.backoffMin
	for {
		m.mu.Lock()
		if m.closed || m.credential == "" {
			m.mu.Unlock()
			return
		}
		credential := m.credential
		m.setStateLocked(domain.Connecting)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := m.dial(ctx, m.socketURL, credential)
		cancel()
		if err == nil {
			m.attach(conn)
			return
		}

		m.mu.Lock()
		m.setStateLocked(domain.Disconnected)
		m.mu.Unlock()

		m.logger.Debug("Reconnect attempt failed", "error", err, "backoff", backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > m.backoffMax {
			backoff = m.backoffMax
		}
	}
}

// setStateLocked updates the state and notifies listeners. Callers must hold
// mu; listeners run on their own goroutine so a slow listener cannot stall
// the transport.
func (m *Manager) setStateLocked(next domain.ConnectionState) {
	if m.state == next {
		return
	}
	m.state = next

	listeners := make([]func(domain.ConnectionState), 0, len(m.stateListeners))
	for _, fn := range m.stateListeners {
		listeners = append(listeners, fn)
	}
	go func() {
		for _, fn := range listeners {
			fn(next)
		}
	}()
}

// OnStateChange registers a listener for connection-state transitions and
// returns a cancel function that unregisters it.
func (m *Manager) OnStateChange(fn func(domain.ConnectionState)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextListenerID
	m.nextListenerID++
	m.stateListeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.stateListeners, id)
	}
}

// OnceConnected registers a one-shot listener for the next transition to
// Connected. It does not fire for the current state; callers that also want
// the already-connected case check IsConnected first.
func (m *Manager) OnceConnected(fn func()) (cancel func()) {
	var once sync.Once
	var remove func()
	remove = m.OnStateChange(func(s domain.ConnectionState) {
		if s != domain.Connected {
			return
		}
		once.Do(func() {
			remove()
			fn()
		})
	})
	return func() {
		once.Do(remove)
	}
}
