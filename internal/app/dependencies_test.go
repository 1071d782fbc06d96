package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chatlink/internal/channel"
	"github.com/nfrund/chatlink/internal/config"
	"github.com/nfrund/chatlink/internal/domain"
)

// scriptedConn is an in-memory realtime connection for wiring tests.
type scriptedConn struct {
	inbound chan []byte

	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{inbound: make(chan []byte, 16)}
}

func (c *scriptedConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
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

func (c *scriptedConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	return nil
}

func (c *scriptedConn) Close(code websocket.StatusCode, reason string) error {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if !alreadyClosed {
		close(c.inbound)
	}
	return nil
}

func (c *scriptedConn) serve(t *testing.T, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(map[string]any{"event": event, "payload": json.RawMessage(raw)})
	require.NoError(t, err)
	c.inbound <- frame
}

func (c *scriptedConn) writtenEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]string, 0, len(c.writes))
	for _, data := range c.writes {
		var f struct {
			Event string `json:"event"`
		}
		if json.Unmarshal(data, &f) == nil {
			events = append(events, f.Event)
		}
	}
	return events
}

// backend is a minimal REST stand-in recording the requests the wired client
// makes.
type backend struct {
	mu    sync.Mutex
	paths []string
	auths []string
}

func (b *backend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.paths = append(b.paths, r.Method+" "+r.URL.Path)
		b.auths = append(b.auths, r.Header.Get("Authorization"))
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/auth/login":
			fmt.Fprint(w, `{"token":"jwt-token","username":"alice","userId":1}`)
		case r.URL.Path == "/api/rooms/7/join", r.URL.Path == "/api/rooms/7/leave":
			fmt.Fprint(w, `{}`)
		case r.URL.Path == "/api/messages/room/7/all":
			fmt.Fprint(w, `[]`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"not found"}`)
		}
	})
}

func newTestApp(t *testing.T, conn *scriptedConn) (*Dependencies, *backend, afero.Fs) {
	t.Helper()

	be := &backend{}
	server := httptest.NewServer(be.handler())
	t.Cleanup(server.Close)

	fs := afero.NewMemMapFs()
	cfg := &config.Config{
		APIBaseURL: server.URL + "/api",
		SocketURL:  "ws://test",
		StateDir:   "/state",
	}

	dial := func(ctx context.Context, socketURL, credential string) (channel.Conn, error) {
		return conn, nil
	}

	deps := New(cfg,
		WithFilesystem(fs),
		WithChannelOptions(channel.WithDialer(dial), channel.WithBackoff(time.Millisecond, 10*time.Millisecond)),
	)
	t.Cleanup(deps.Close)
	return deps, be, fs
}

// The full session arc through the wired client: login, join, optimistic
// send, server confirmation, forced logout on a rejected credential.
func TestWiredSessionLifecycle(t *testing.T) {
	conn := newScriptedConn()
	deps, be, fs := newTestApp(t, conn)
	ctx := context.Background()

	// Login authenticates over REST and brings the channel up.
	id, err := deps.Session.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	require.Equal(t, "alice", id.Username)
	require.Eventually(t, deps.Channel.IsConnected, time.Second, time.Millisecond)

	exists, _ := afero.Exists(fs, "/state/token")
	assert.True(t, exists)

	// Joining a room persists membership with the bearer token and signals
	// the live subscription.
	require.NoError(t, deps.Rooms.SelectRoom(ctx, domain.RoomRef{ID: 7, Name: "general"}))
	deps.Engine.SetCurrentRoom(7)
	_, err = deps.Engine.LoadHistory(ctx, 7)
	require.NoError(t, err)

	be.mu.Lock()
	assert.Contains(t, be.paths, "POST /api/rooms/7/join")
	assert.Contains(t, be.auths, "Bearer jwt-token")
	be.mu.Unlock()
	assert.Contains(t, conn.writtenEvents(), domain.EventJoinRoom)

	// An optimistic send shows immediately and is superseded by its
	// confirmation, never duplicated.
	sent, err := deps.Engine.SendMessage(7, "hello")
	require.NoError(t, err)
	require.Len(t, deps.Engine.CurrentView(7), 1)
	assert.Contains(t, conn.writtenEvents(), domain.EventSendMessage)

	conn.serve(t, domain.EventMessageReceived, map[string]any{
		"id": 300, "roomId": 7, "userId": 1, "username": "alice", "content": "hello",
	})
	require.Eventually(t, func() bool {
		view := deps.Engine.CurrentView(7)
		return len(view) == 1 && view[0].ID == "300"
	}, time.Second, time.Millisecond)
	assert.NotEqual(t, sent.ID, deps.Engine.CurrentView(7)[0].ID)

	// A rejected credential forces a full logout through the wired
	// unauthorized delegate: identity gone, credential cleared, channel down.
	conn.serve(t, domain.EventError, map[string]any{"message": "Unauthorized"})
	require.Eventually(t, func() bool {
		return deps.Session.Current() == nil
	}, time.Second, time.Millisecond)

	assert.False(t, deps.Channel.IsConnected())
	exists, _ = afero.Exists(fs, "/state/token")
	assert.False(t, exists)
}
