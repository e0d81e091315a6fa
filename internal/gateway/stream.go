package gateway

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/globalecho/internal/protocol"
)

const (
	streamBuffer     = 16
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type subscriber struct {
	sessionID string
	ch        chan protocol.TranslationEvent
}

// hub fans translation events out to live stream subscribers.
type hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{})}
}

// subscribe registers for events of sessionID; "*" matches every session.
func (h *hub) subscribe(sessionID string) *subscriber {
	sub := &subscriber{sessionID: sessionID, ch: make(chan protocol.TranslationEvent, streamBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// broadcast never blocks; slow subscribers miss events.
func (h *hub) broadcast(evt protocol.TranslationEvent) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := 0
	for sub := range h.subs {
		if sub.sessionID != "*" && sub.sessionID != evt.SessionID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			dropped++
		}
	}
	return dropped
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slogError(err))
		return
	}
	defer conn.Close()

	sub := h.hub.subscribe(sessionID)
	defer h.hub.unsubscribe(sub)
	h.logger.Info("stream subscriber connected", slog.String("session_id", sessionID))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			h.logger.Info("stream subscriber disconnected", slog.String("session_id", sessionID))
			return
		case <-r.Context().Done():
			return
		case evt := <-sub.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Warn("stream write failed", slogError(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
