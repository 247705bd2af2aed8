package main

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mahaj/chatcore/pkg/auth"
	"github.com/mahaj/chatcore/pkg/chat"
	"github.com/mahaj/chatcore/pkg/config"
	clog "github.com/mahaj/chatcore/pkg/log"
	"github.com/mahaj/chatcore/pkg/model"
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound frames. Closed by the hub.
	send chan []byte

	ID      string
	User    model.User
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
	rooms  map[string]bool
}

func newClient(hub *Hub, conn *websocket.Conn, user model.User, ws config.WebSocketConfig) *Client {
	limit := rate.Inf
	if ws.EventsPerSec > 0 {
		limit = rate.Limit(ws.EventsPerSec)
	}
	buf := ws.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, buf),
		ID:      uuid.NewString(),
		User:    user,
		limiter: rate.NewLimiter(limit, max(ws.EventBurst, 1)),
		rooms:   make(map[string]bool),
	}
}

// enqueue queues frame without blocking. It reports false when the buffer
// is full; a closed client silently discards.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) addRooms(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.rooms[id] = true
	}
}

func (c *Client) inRoom(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[id]
}

func (c *Client) roomList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// readPump pumps events from the websocket connection to the gateway. Events
// are handled one at a time, in arrival order.
func (c *Client) readPump(g *Gateway) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(g.ws.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(g.ws.PongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(g.ws.PongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				clog.L().Warn().Err(err).Str(clog.FieldConnID, c.ID).Msg("websocket read error")
			}
			break
		}
		if !c.limiter.Allow() {
			c.fail(chat.CodeRateLimited, "too many events, slow down")
			continue
		}
		g.handle(c, message)
	}
}

// writePump pumps frames from the hub to the websocket connection, one
// websocket message per frame.
func (c *Client) writePump(ws config.WebSocketConfig) {
	ticker := time.NewTicker(ws.PingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(ws.WriteWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(ws.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// fail sends an error frame to this connection only. A client too slow to
// take it is disconnected.
func (c *Client) fail(code chat.Code, msg string) {
	if !c.enqueue(errorFrame(code, msg)) {
		c.conn.Close()
	}
}

// serveWs authenticates the handshake and upgrades the connection.
func (g *Gateway) serveWs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := g.auth.Authenticate(ctx, auth.TokenFromRequest(r))
	if err != nil {
		if auth.IsCredentialError(err) {
			clog.Ctx(ctx).Info().Err(err).Msg("websocket handshake rejected")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		clog.Ctx(ctx).Error().Err(err).Msg("websocket handshake failed")
		http.Error(w, "temporary failure, try again", http.StatusInternalServerError)
		return
	}

	lookup, cancel := context.WithTimeout(ctx, 5*time.Second)
	rooms, err := g.chat.ConversationIDs(lookup, user.ID)
	cancel()
	if err != nil {
		clog.Ctx(ctx).Warn().Err(err).Str(clog.FieldUserID, user.ID).Msg("load conversations for handshake")
		rooms = nil
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		clog.Ctx(ctx).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(g.hub, conn, user, g.ws)
	if !g.hub.Register(client, rooms) {
		conn.Close()
		return
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump(g.ws)
	go client.readPump(g)
}
