package channel

import (
	"context"
	"sync"

	"github.com/nfrund/chatlink/internal/domain"
	"github.com/nfrund/chatlink/internal/pubsub"
)

// Subscription is an explicit handle on a registered event listener. Holders
// release their interest with Cancel; there is no implicit cleanup.
type Subscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

// NewSubscription wraps a cancel function in a handle. Exposed so tests can
// hand out subscriptions from fake channels.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Cancel unregisters the listener. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// SubscriptionSet collects subscriptions acquired for one scope (typically a
// room session) so they can be released together on every transition out of
// that scope.
type SubscriptionSet struct {
	mu   sync.Mutex
	subs []*Subscription
}

// Add takes ownership of a subscription.
func (set *SubscriptionSet) Add(sub *Subscription) {
	set.mu.Lock()
	defer set.mu.Unlock()
	set.subs = append(set.subs, sub)
}

// CancelAll releases every subscription in the set.
func (set *SubscriptionSet) CancelAll() {
	set.mu.Lock()
	subs := set.subs
	set.subs = nil
	set.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

// OnInbound registers a listener for every inbound event. All events arrive
// on one subscription, in the order the transport delivered them; consumers
// that need cross-event ordering (the reconciliation engine) must use this
// rather than one On per event name. Payloads are decoded into their tagged
// variants before the handler sees them; malformed payloads are logged and
// dropped at this boundary.
func (m *Manager) OnInbound(handler func(domain.Event)) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())

	err := m.bus.Subscribe(ctx, topicInbound, func(_ context.Context, msg pubsub.Message) error {
		name := msg.Metadata[metaKeyEvent]
		ev, decodeErr := domain.DecodeEvent(name, msg.Payload)
		if decodeErr != nil {
			m.logger.Warn("Dropping undecodable event", "event", name, "error", decodeErr)
			return nil
		}
		handler(ev)
		return nil
	})
	if err != nil {
		m.logger.Error("Failed to subscribe to inbound events", "error", err)
	}

	return &Subscription{cancel: cancel}
}

// On registers a listener for one inbound event name.
func (m *Manager) On(event string, handler func(domain.Event)) *Subscription {
	return m.OnInbound(func(ev domain.Event) {
		if ev.EventName() == event {
			handler(ev)
		}
	})
}
