package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/tutor-realtime/pkg/realtime"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP offers run to a few KB.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	srv  *Server
	conn *websocket.Conn
	hc   *realtime.Conn
}

// readPump pumps frames from the websocket connection to the hub. Frames are
// handled one at a time, in arrival order.
func (c *Client) readPump() {
	defer func() {
		c.srv.hub.Disconnect(c.hc)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.srv.log.Warn("websocket read failed",
					zap.String("user_id", c.hc.Identity.UserID),
					zap.String("conn_id", c.hc.ID),
					zap.Error(err),
				)
			}
			break
		}
		c.srv.hub.Handle(c.srv.ctx, c.hc, message)
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message := <-c.hc.Outbound():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.hc.Done():
			// The hub closed the connection: shutdown or a peer that fell behind.
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWs authenticates the upgrade request and attaches the socket to the hub.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		// Browsers cannot set headers on websocket requests.
		tokenString = r.URL.Query().Get("token")
	}

	identity, err := s.auth.Authenticate(tokenString)
	if err != nil {
		s.log.Info("websocket rejected", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{srv: s, conn: conn, hc: s.hub.Connect(identity)}

	go client.writePump()
	go client.readPump()
}
