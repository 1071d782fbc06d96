package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chatlink/internal/domain"
	"github.com/nfrund/chatlink/internal/pubsub"
)

// fakeConn is an in-memory Conn. Inbound frames are queued on a channel;
// closing the channel makes Read fail, which is how tests simulate a dropped
// connection.
type fakeConn struct {
	inbound chan []byte

	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data, ok := <-c.inbound:
		if !ok {
			return 0, nil, errors.New("connection lost")
		}
		return websocket.MessageText, data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return nil
}

func (c *fakeConn) Close(code websocket.StatusCode, reason string) error {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if !alreadyClosed {
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// serve queues an inbound frame as the server would send it.
func (c *fakeConn) serve(t *testing.T, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(frame{Event: event, Payload: raw})
	require.NoError(t, err)
	c.inbound <- data
}

func (c *fakeConn) lastWrite(t *testing.T) frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.writes)
	var f frame
	require.NoError(t, json.Unmarshal(c.writes[len(c.writes)-1], &f))
	return f
}

// fakeDialer hands out queued connections and records the credentials it was
// dialed with.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	creds []string
	err   error
}

func (d *fakeDialer) dial(ctx context.Context, socketURL, credential string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.creds = append(d.creds, credential)
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no connection available")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func (d *fakeDialer) queue(conns ...*fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, conns...)
}

func newTestManager(t *testing.T, dialer *fakeDialer) *Manager {
	t.Helper()
	bus := pubsub.NewWatermillBus()
	t.Cleanup(func() { _ = bus.Close() })

	m := New("ws://test", bus,
		WithDialer(dialer.dial),
		WithBackoff(time.Millisecond, 10*time.Millisecond),
	)
	t.Cleanup(func() { _ = m.Disconnect() })
	return m
}

func TestConnect(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.queue(conn)
	m := newTestManager(t, dialer)

	require.NoError(t, m.Connect(context.Background(), "jwt-token"))
	assert.True(t, m.IsConnected())
	assert.Equal(t, []string{"jwt-token"}, dialer.creds)

	// A second connect while live is a no-op, not a second dial.
	require.NoError(t, m.Connect(context.Background(), "jwt-token"))
	assert.Len(t, dialer.creds, 1)
}

func TestConnect_DialFailure(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("refused")}
	m := newTestManager(t, dialer)

	err := m.Connect(context.Background(), "jwt-token")
	require.Error(t, err)
	assert.Equal(t, domain.Disconnected, m.State())
}

func TestDisconnectDuringDialDiscardsConnection(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.queue(conn)

	// Hold the handshake open so Disconnect can land mid-dial.
	release := make(chan struct{})
	blocking := func(ctx context.Context, socketURL, credential string) (Conn, error) {
		<-release
		return dialer.dial(ctx, socketURL, credential)
	}

	bus := pubsub.NewWatermillBus()
	t.Cleanup(func() { _ = bus.Close() })
	m := New("ws://test", bus,
		WithDialer(blocking),
		WithBackoff(time.Millisecond, 10*time.Millisecond),
	)

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background(), "jwt-token") }()

	require.Eventually(t, func() bool {
		return m.State() == domain.Connecting
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Disconnect())
	close(release)
	require.NoError(t, <-done)

	// The late connection is discarded and closed; the channel stays down.
	assert.False(t, m.IsConnected())
	assert.True(t, conn.isClosed(), "late-dialed connection left open after disconnect")
}

func TestEmit(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.queue(conn)
	m := newTestManager(t, dialer)
	require.NoError(t, m.Connect(context.Background(), "jwt-token"))

	require.NoError(t, m.Emit(domain.EventSendMessage, domain.SendMessagePayload{RoomID: 7, Content: "hi"}))

	f := conn.lastWrite(t)
	assert.Equal(t, domain.EventSendMessage, f.Event)
	assert.JSONEq(t, `{"roomId":7,"content":"hi"}`, string(f.Payload))
}

func TestEmit_NotConnected(t *testing.T) {
	m := newTestManager(t, &fakeDialer{})
	err := m.Emit(domain.EventSendMessage, domain.SendMessagePayload{RoomID: 7, Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestInboundFrameReachesSubscriber(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.queue(conn)
	m := newTestManager(t, dialer)

	received := make(chan domain.Event, 1)
	sub := m.On(domain.EventMessageReceived, func(ev domain.Event) {
		received <- ev
	})
	defer sub.Cancel()

	require.NoError(t, m.Connect(context.Background(), "jwt-token"))
	conn.serve(t, domain.EventMessageReceived, map[string]any{
		"id": 42, "roomId": 7, "userId": 2, "username": "bob", "content": "hello",
	})

	select {
	case ev := <-received:
		msg, ok := ev.(*domain.MessageReceived)
		require.True(t, ok)
		assert.Equal(t, domain.ID(42), msg.ID)
		assert.Equal(t, "hello", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("inbound event never delivered")
	}
}

func TestInboundOrderPreservedAcrossEventKinds(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.queue(conn)
	m := newTestManager(t, dialer)

	var mu sync.Mutex
	var order []string
	sub := m.OnInbound(func(ev domain.Event) {
		mu.Lock()
		order = append(order, ev.EventName())
		mu.Unlock()
	})
	defer sub.Cancel()

	require.NoError(t, m.Connect(context.Background(), "jwt-token"))

	// Interleave event kinds on the wire; the subscriber must see them in
	// exactly that order, not grouped by kind.
	conn.serve(t, domain.EventMessageReceived, map[string]any{"id": 1, "roomId": 7})
	conn.serve(t, domain.EventUserJoinedRoom, map[string]any{"userId": 2, "username": "bob"})
	conn.serve(t, domain.EventMessageReceived, map[string]any{"id": 2, "roomId": 7})
	conn.serve(t, domain.EventUserLeftRoom, map[string]any{"userId": 2, "username": "bob"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		domain.EventMessageReceived,
		domain.EventUserJoinedRoom,
		domain.EventMessageReceived,
		domain.EventUserLeftRoom,
	}, order)
}

func TestSubscriptionCancelStopsDelivery(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.queue(conn)
	m := newTestManager(t, dialer)

	received := make(chan domain.Event, 4)
	sub := m.On(domain.EventMessageReceived, func(ev domain.Event) {
		received <- ev
	})

	require.NoError(t, m.Connect(context.Background(), "jwt-token"))
	sub.Cancel()

	conn.serve(t, domain.EventMessageReceived, map[string]any{"id": 1, "roomId": 7})

	select {
	case <-received:
		t.Fatal("cancelled subscription still delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	dialer := &fakeDialer{}
	dialer.queue(first, second)
	m := newTestManager(t, dialer)

	var mu sync.Mutex
	var transitions []domain.ConnectionState
	cancel := m.OnStateChange(func(s domain.ConnectionState) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
	})
	defer cancel()

	require.NoError(t, m.Connect(context.Background(), "jwt-token"))

	// Kill the transport; the manager redials with the stored credential.
	_ = first.Close(websocket.StatusAbnormalClosure, "network gone")

	require.Eventually(t, m.IsConnected, time.Second, time.Millisecond)

	dialer.mu.Lock()
	creds := append([]string(nil), dialer.creds...)
	dialer.mu.Unlock()
	assert.Equal(t, []string{"jwt-token", "jwt-token"}, creds)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, transitions, domain.Disconnected)
	assert.Equal(t, domain.Connected, transitions[len(transitions)-1])
}

func TestDisconnectStopsReconnect(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.queue(conn)
	m := newTestManager(t, dialer)

	require.NoError(t, m.Connect(context.Background(), "jwt-token"))
	require.NoError(t, m.Disconnect())
	assert.Equal(t, domain.Disconnected, m.State())

	// The read pump dies from the close; no redial may follow.
	time.Sleep(50 * time.Millisecond)
	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	assert.Len(t, dialer.creds, 1)
}

func TestUnauthorizedForcesLogout(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.queue(conn)
	m := newTestManager(t, dialer)

	forced := make(chan struct{})
	m.OnUnauthorized(func() { close(forced) })

	require.NoError(t, m.Connect(context.Background(), "jwt-token"))
	conn.serve(t, domain.EventError, map[string]any{"message": "Unauthorized"})

	select {
	case <-forced:
	case <-time.After(time.Second):
		t.Fatal("unauthorized delegate never called")
	}

	// A rejected credential must not be retried.
	_ = conn.Close(websocket.StatusAbnormalClosure, "server closed")
	time.Sleep(50 * time.Millisecond)
	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	assert.Len(t, dialer.creds, 1)
}

func TestNonAuthErrorsDoNotForceLogout(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.queue(conn)
	m := newTestManager(t, dialer)

	forced := make(chan struct{}, 1)
	m.OnUnauthorized(func() { forced <- struct{}{} })

	errs := make(chan domain.Event, 1)
	sub := m.On(domain.EventError, func(ev domain.Event) { errs <- ev })
	defer sub.Cancel()

	require.NoError(t, m.Connect(context.Background(), "jwt-token"))
	conn.serve(t, domain.EventError, map[string]any{"message": "Room not found"})

	select {
	case ev := <-errs:
		e, ok := ev.(*domain.ErrorEvent)
		require.True(t, ok)
		assert.False(t, e.Unauthorized())
	case <-time.After(time.Second):
		t.Fatal("error event never delivered")
	}

	select {
	case <-forced:
		t.Fatal("non-auth error forced a logout")
	default:
	}
}

func TestOnceConnected(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.queue(conn)
	m := newTestManager(t, dialer)

	fired := make(chan struct{}, 2)
	m.OnceConnected(func() { fired <- struct{}{} })

	require.NoError(t, m.Connect(context.Background(), "jwt-token"))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("one-shot listener never fired")
	}
	assert.Len(t, fired, 0, "one-shot listener fired more than once")
}

func TestOnceConnected_Cancel(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.queue(conn)
	m := newTestManager(t, dialer)

	fired := make(chan struct{}, 1)
	cancel := m.OnceConnected(func() { fired <- struct{}{} })
	cancel()

	require.NoError(t, m.Connect(context.Background(), "jwt-token"))
	time.Sleep(50 * time.Millisecond)

	select {
	case <-fired:
		t.Fatal("cancelled one-shot listener fired")
	default:
	}
}
