// Package stream pushes trigger events to dashboard WebSocket clients.
package stream

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans trigger events out to connected clients. Each client only
// receives events of its own user.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	backlog *Backlog

	// OnClientCount is called with the client count after each change (optional).
	OnClientCount func(n int)
}

// NewHub creates a hub keeping replayCap recent envelopes.
func NewHub(replayCap int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		backlog: NewBacklog(replayCap),
	}
}

// Broadcast sends ev to every client of ev.UserID and keeps it for replay.
func (h *Hub) Broadcast(ev model.TriggerEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[stream] marshal trigger: %v", err)
		return
	}
	now := time.Now().UTC()

	// seq and backlog order must agree, so both happen under the lock
	h.mu.Lock()
	h.seq++
	seq := h.seq
	buf := make([]byte, 0, len(data)+96)
	buf = append(buf, `{"type":"trigger","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	h.backlog.Append(seq, ev.UserID, buf)
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.send <- buf:
		default:
			log.Printf("[stream] client %s send buffer full, dropping seq %d", c.userID, seq)
		}
	}
}

// ServeWS upgrades the request and registers a client for userID. Envelopes
// with seq > lastSeq still in the replay buffer are sent first.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string, lastSeq int64) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &Client{
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    h,
		userID: userID,
	}

	h.mu.Lock()
	for _, e := range h.backlog.After(lastSeq, userID) {
		if len(c.send) == cap(c.send) {
			break
		}
		c.send <- e.Data
	}
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[stream] client connected user=%s (%d total)", userID, count)
	h.notifyCount(count)

	go c.writePump()
	go c.readPump()
	return nil
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()
	h.notifyCount(count)
}

func (h *Hub) notifyCount(n int) {
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.conn.Close()
	}
}

// Feed broadcasts events read from src until ctx is cancelled or src closes.
func (h *Hub) Feed(ctx context.Context, src <-chan model.TriggerEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src:
			if !ok {
				return
			}
			h.Broadcast(ev)
		}
	}
}
