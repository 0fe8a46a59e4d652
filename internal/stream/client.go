package stream

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// Client is one WebSocket peer.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	userID string

	// optional symbol filter; empty means every symbol
	filterMu sync.RWMutex
	symbols  map[string]bool
}

// filterMsg narrows the stream: {"type":"SUBSCRIBE","symbols":["BTCUSDT"]}.
type filterMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	Ping    int64    `json:"ping"`
}

func (c *Client) wants(ev model.TriggerEvent) bool {
	if ev.UserID != c.userID {
		return false
	}
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	return len(c.symbols) == 0 || c.symbols[ev.Symbol]
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
		log.Printf("[stream] client disconnected user=%s", c.userID)
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg filterMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		switch {
		case msg.Type == "SUBSCRIBE":
			set := make(map[string]bool, len(msg.Symbols))
			for _, s := range msg.Symbols {
				set[s] = true
			}
			c.filterMu.Lock()
			c.symbols = set
			c.filterMu.Unlock()
		case msg.Ping > 0:
			pong, _ := json.Marshal(map[string]interface{}{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			c.hub.mu.RLock()
			select {
			case c.send <- pong:
			default:
			}
			c.hub.mu.RUnlock()
		}
	}
}
