// Package pushhub is the out-of-process fan-out surface: a websocket hub
// whose client groups are named after subject ids. The broadcaster mirrors
// every publish into the matching group, so remote subscribers see the same
// events as in-process stream clients, best-effort.
package pushhub

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub maintains the set of active clients, bucketed per subject group.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}
	logger *zap.Logger

	upgrader websocket.Upgrader
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		groups: make(map[string]map[*Client]struct{}),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Demo backend: cross-origin clients are expected.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and joins the client to the subject's group,
// blocking until the connection drops.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, subjectID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("subject_id", subjectID), zap.Error(err))
		return
	}

	client := newClient(h, subjectID, conn)
	h.register(client)

	go client.writePump()
	client.readPump() // returns on disconnect
}

// SendToGroup multicasts a message to every client of the subject's group.
// Best-effort: a client whose send buffer is full simply misses the message.
// Always returns nil so callers can treat hub delivery as fire-and-forget;
// the error return exists to satisfy the broadcaster's mirror contract.
func (h *Hub) SendToGroup(subjectID string, message []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.groups[subjectID] {
		select {
		case client.send <- message:
		default:
			h.logger.Debug("push hub client buffer full, message skipped",
				zap.String("subject_id", subjectID))
		}
	}
	return nil
}

// GroupSize reports the number of connected clients for a subject.
func (h *Hub) GroupSize(subjectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[subjectID])
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	g := h.groups[c.subjectID]
	if g == nil {
		g = make(map[*Client]struct{})
		h.groups[c.subjectID] = g
	}
	g[c] = struct{}{}
	h.logger.Info("push hub client connected",
		zap.String("subject_id", c.subjectID), zap.Int("group_size", len(g)))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	g := h.groups[c.subjectID]
	if g == nil {
		return
	}
	if _, ok := g[c]; ok {
		delete(g, c)
		close(c.send)
	}
	if len(g) == 0 {
		delete(h.groups, c.subjectID)
	}
}
