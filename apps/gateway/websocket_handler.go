package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mahir/supportline/pkg/auth"
	"github.com/mahir/supportline/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer. Attachments travel through
	// the API service, so frames stay small.
	maxFrameSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	// Operator/counterpart identity from the token.
	ID    string
	Label string
	Role  model.SenderRole

	// Room the client is attached to.
	RoomID string

	// Caps how fast one client may push frames at the backbone.
	limiter *rate.Limiter
}

// readPump pumps envelopes from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: %v", err)
			}
			break
		}

		if !c.limiter.Allow() {
			framesDropped.Inc()
			continue
		}

		var env model.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			log.Printf("Dropping malformed frame from %s: %v", c.ID, err)
			framesDropped.Inc()
			continue
		}

		switch env.Kind {
		case model.KindSubscribe:
			// The room is fixed at upgrade time; a subscribe frame
			// after reconnect is an idempotent re-attach.

		case model.KindChat:
			msg, err := env.DecodeChat()
			if err != nil {
				framesDropped.Inc()
				continue
			}
			// Identity comes from the token, never from the frame.
			msg.RoomID = c.RoomID
			msg.SenderRole = c.Role
			msg.SenderLabel = c.Label
			c.hub.chat <- msg

		case model.KindPresence:
			ev, err := env.DecodePresence()
			if err != nil {
				framesDropped.Inc()
				continue
			}
			ev.RoomID = c.RoomID
			ev.Participant = c.ID
			c.hub.presence <- ev

		default:
			framesDropped.Inc()
		}
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
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

			// Drain any queued frames onto the same connection.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWs handles websocket requests from room clients.
func serveWs(hub *Hub, jwtSecret []byte, w http.ResponseWriter, r *http.Request) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		// Query param fallback for clients that cannot set headers.
		tokenString = r.URL.Query().Get("token")
	}

	if tokenString == "" {
		log.Println("Unauthorized: No token provided")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
		tokenString = tokenString[7:]
	}

	claims, err := auth.ValidateToken(jwtSecret, tokenString)
	if err != nil {
		log.Printf("Unauthorized: Invalid token: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	role := model.SenderRole(r.URL.Query().Get("role"))
	if role != model.RoleCounterpart {
		role = model.RoleOperator
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		ID:      claims.OperatorID,
		Label:   claims.Label,
		Role:    role,
		RoomID:  roomID,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
