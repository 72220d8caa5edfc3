package realtime

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser origin is enforced by the CORS layer; the session cookie
	// already gates who can reach this endpoint.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one WebSocket subscriber bound to a community room.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	communityID string
	userID      string
}

// ServeWS upgrades the request and runs the client's read/write pumps.
// The caller is responsible for having authenticated and authorized the
// user for the community.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request, communityID, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("realtime: upgrade failed", "error", err)
		return
	}

	c := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, hub.sendBuffer),
		communityID: communityID,
		userID:      userID,
	}
	hub.Register(c)

	go c.writePump()
	go c.readPump()
}

// readPump discards inbound frames; the socket is one-way. It exists to
// process pongs and to notice the peer going away.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
