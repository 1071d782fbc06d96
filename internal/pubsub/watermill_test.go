package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillBus_PublishSubscribe(t *testing.T) {
	bus := NewWatermillBus()
	defer bus.Close()

	received := make(chan Message, 1)
	err := bus.Subscribe(context.Background(), "message_received", func(ctx context.Context, msg Message) error {
		received <- msg
		return nil
	})
	require.NoError(t, err)

	err = bus.Publish(context.Background(), Message{
		Topic:   "message_received",
		Payload: []byte(`{"content":"hi"}`),
	})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "message_received", msg.Topic)
		assert.JSONEq(t, `{"content":"hi"}`, string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("message never delivered")
	}
}

func TestWatermillBus_SubscriptionStopsOnCancel(t *testing.T) {
	bus := NewWatermillBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var count int
	err := bus.Subscribe(ctx, "user_typing", func(ctx context.Context, msg Message) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), Message{Topic: "user_typing"}))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)

	// Delivery after cancel must not reach the handler.
	_ = bus.Publish(context.Background(), Message{Topic: "user_typing"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestWatermillBus_IndependentTopics(t *testing.T) {
	bus := NewWatermillBus()
	defer bus.Close()

	typing := make(chan Message, 1)
	require.NoError(t, bus.Subscribe(context.Background(), "user_typing", func(ctx context.Context, msg Message) error {
		typing <- msg
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), Message{Topic: "message_received", Payload: []byte(`{}`)}))

	select {
	case <-typing:
		t.Fatal("event crossed topics")
	case <-time.After(100 * time.Millisecond):
	}
}
