package reconcile

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/chatlink/internal/domain"
)

// SendMessage creates the optimistic placeholder for a locally originated
// send, applies it to the view, and emits send_message. When the channel is
// down the emit is deferred to the next Connected transition rather than
// dropped. The returned message is the placeholder as displayed.
func (e *Engine) SendMessage(roomID domain.ID, content string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, nil
	}

	id := e.self()
	if id == nil {
		return domain.Message{}, domain.ErrNotLoggedIn
	}

	// Sending ends the local typing session.
	e.StopTyping(roomID)

	m := domain.Message{
		ID:        "local-" + uuid.NewString(),
		RoomID:    roomID,
		UserID:    id.UserID,
		Username:  id.Username,
		Content:   content,
		CreatedAt: domain.Now(),
		Kind:      domain.KindOptimistic,
	}
	e.ApplyOptimistic(m)

	payload := domain.SendMessagePayload{RoomID: roomID, Content: content}
	if e.ch.IsConnected() {
		if err := e.ch.Emit(domain.EventSendMessage, payload); err != nil {
			return m, err
		}
		return m, nil
	}

	e.logger.Info("Channel down, deferring send until reconnect", "room_id", roomID)
	e.ch.OnceConnected(func() {
		if err := e.ch.Emit(domain.EventSendMessage, payload); err != nil {
			e.logger.Warn("Deferred send failed", "room_id", roomID, "error", err)
		}
	})
	return m, nil
}

// NotifyTyping records one keystroke of local typing activity. The first
// keystroke of a session emits typing_start; every keystroke resets the
// single inactivity timer, which emits typing_stop when it fires.
func (e *Engine) NotifyTyping(roomID domain.ID) {
	e.mu.Lock()
	if timer, live := e.local[roomID]; live {
		timer.Reset(e.typingTimeout)
		e.mu.Unlock()
		return
	}
	e.local[roomID] = e.newTypingTimer(roomID)
	e.mu.Unlock()

	if err := e.ch.Emit(domain.EventTypingStart, domain.TypingPayload{RoomID: roomID}); err != nil {
		e.logger.Debug("typing_start not sent", "room_id", roomID, "error", err)
	}
}

// StopTyping ends the local typing session explicitly (send, room switch,
// teardown). It is a no-op when no session is live.
func (e *Engine) StopTyping(roomID domain.ID) {
	e.mu.Lock()
	timer, live := e.local[roomID]
	if live {
		timer.Stop()
		delete(e.local, roomID)
	}
	e.mu.Unlock()

	if !live {
		return
	}
	if err := e.ch.Emit(domain.EventTypingStop, domain.TypingPayload{RoomID: roomID}); err != nil {
		e.logger.Debug("typing_stop not sent", "room_id", roomID, "error", err)
	}
}

func (e *Engine) newTypingTimer(roomID domain.ID) *time.Timer {
	return time.AfterFunc(e.typingTimeout, func() {
		e.mu.Lock()
		_, live := e.local[roomID]
		delete(e.local, roomID)
		e.mu.Unlock()

		if live {
			if err := e.ch.Emit(domain.EventTypingStop, domain.TypingPayload{RoomID: roomID}); err != nil {
				e.logger.Debug("typing_stop not sent", "room_id", roomID, "error", err)
			}
		}
	})
}
