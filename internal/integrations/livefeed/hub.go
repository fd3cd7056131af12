package livefeed

import (
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

const writeTimeout = 5 * time.Second

// Message is a frame pushed to dashboard clients.
type Message struct {
	Type  string `json:"type"`
	AppID string `json:"app_id,omitempty"`
	Event any    `json:"event,omitempty"`
}

type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscriber) send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return websocket.JSON.Send(s.conn, msg)
}

// Hub holds the open feed connections of every livefeed app. App
// implementations are rebuilt per call, so connections live here.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	logger *logging.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{subs: make(map[string]map[*subscriber]struct{}), logger: logger}
}

func (h *Hub) add(appID string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[appID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[appID] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) remove(appID string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[appID]
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, appID)
	}
}

// Count returns the number of open connections for appID.
func (h *Hub) Count(appID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[appID])
}

// Broadcast sends msg to every connection of appID and returns how many
// received it. Connections that fail to accept the frame are closed.
func (h *Hub) Broadcast(appID string, msg Message) int {
	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs[appID]))
	for s := range h.subs[appID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if err := s.send(msg); err != nil {
			h.logger.Debug("livefeed: dropping connection", "app_id", appID, "error", err)
			h.remove(appID, s)
			_ = s.conn.Close()
			continue
		}
		delivered++
	}
	return delivered
}
