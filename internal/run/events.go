package run

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"parley/internal/segment"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

const (
	subscriberBuffer = 64
	writeTimeout     = 5 * time.Second
)

// hub fans sentence events out to websocket subscribers. A subscriber that
// falls subscriberBuffer events behind misses events rather than stalling
// the engine.
type hub struct {
	logger *logrus.Logger

	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed bool
}

func newHub(logger *logrus.Logger) *hub {
	return &hub{logger: logger, subs: make(map[chan []byte]struct{})}
}

func (h *hub) subscribe() (chan []byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan []byte, subscriberBuffer)
	h.subs[ch] = struct{}{}
	return ch, true
}

func (h *hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) broadcast(ev segment.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs) == 0 {
		return
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warnf("encode event: %v", err)
		return
	}
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.logger.Debug("events subscriber lagging, event dropped")
		}
	}
}

// closeAll disconnects every subscriber and refuses new ones.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warnf("events accept: %v", err)
		return
	}
	defer conn.CloseNow()

	ch, ok := h.subscribe()
	if !ok {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.unsubscribe(ch)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := write(ctx, conn, msg); err != nil {
				h.logger.Debugf("events write: %v", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}
