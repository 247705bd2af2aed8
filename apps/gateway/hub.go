package main

import (
	"context"

	clog "github.com/mahaj/chatcore/pkg/log"
	"github.com/mahaj/chatcore/pkg/metrics"
	"github.com/mahaj/chatcore/pkg/presence"
)

type registration struct {
	client *Client
	rooms  []string
}

// Hub owns the connection index and the conversation rooms. All mutation
// happens on the Run goroutine.
type Hub struct {
	clients  map[string]*Client          // conn id -> client
	users    map[string]map[*Client]bool // user id -> clients
	rooms    map[string]map[*Client]bool // conversation id -> clients
	presence *presence.Registry

	register   chan registration
	unregister chan *Client
	subscribe  chan registration
	deliver    chan []delivery
	stopped    chan struct{}
}

func NewHub(reg *presence.Registry) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		users:      make(map[string]map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		presence:   reg,
		register:   make(chan registration),
		unregister: make(chan *Client),
		subscribe:  make(chan registration),
		deliver:    make(chan []delivery, 256),
		stopped:    make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			for _, c := range h.clients {
				h.remove(c)
			}
			return

		case r := <-h.register:
			c := r.client
			h.clients[c.ID] = c
			if h.users[c.User.ID] == nil {
				h.users[c.User.ID] = make(map[*Client]bool)
			}
			h.users[c.User.ID][c] = true
			h.join(c, r.rooms)
			h.presence.Register(c.User.ID, c.ID)
			metrics.WsConnections.Inc()
			metrics.OnlineUsers.Set(float64(h.presence.Count()))
			clog.L().Info().Str(clog.FieldUserID, c.User.ID).Str(clog.FieldConnID, c.ID).
				Int("rooms", len(r.rooms)).Msg("client registered")
			h.broadcastOnline()

		case c := <-h.unregister:
			if _, ok := h.clients[c.ID]; ok {
				h.remove(c)
				clog.L().Info().Str(clog.FieldUserID, c.User.ID).Str(clog.FieldConnID, c.ID).Msg("client unregistered")
				h.broadcastOnline()
			}

		case r := <-h.subscribe:
			if _, ok := h.clients[r.client.ID]; ok {
				h.join(r.client, r.rooms)
			}

		case ds := <-h.deliver:
			for _, d := range ds {
				h.dispatch(d)
			}
		}
	}
}

// Register hands c to the hub, subscribed to rooms. It returns false once
// the hub has stopped.
func (h *Hub) Register(c *Client, rooms []string) bool {
	select {
	case h.register <- registration{client: c, rooms: rooms}:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

func (h *Hub) Subscribe(c *Client, rooms []string) {
	select {
	case h.subscribe <- registration{client: c, rooms: rooms}:
	case <-h.stopped:
	}
}

func (h *Hub) Deliver(ds ...delivery) {
	if len(ds) == 0 {
		return
	}
	select {
	case h.deliver <- ds:
	case <-h.stopped:
	}
}

func (h *Hub) join(c *Client, rooms []string) {
	for _, id := range rooms {
		if h.rooms[id] == nil {
			h.rooms[id] = make(map[*Client]bool)
		}
		h.rooms[id][c] = true
	}
	c.addRooms(rooms)
}

func (h *Hub) remove(c *Client) {
	delete(h.clients, c.ID)
	if set, ok := h.users[c.User.ID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.User.ID)
		}
	}
	for _, id := range c.roomList() {
		if set, ok := h.rooms[id]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.rooms, id)
			}
		}
	}
	c.close()
	h.presence.Unregister(c.User.ID, c.ID)
	metrics.WsConnections.Dec()
	metrics.OnlineUsers.Set(float64(h.presence.Count()))
}

func (h *Hub) dispatch(d delivery) {
	var targets []*Client
	switch {
	case d.all:
		for _, c := range h.clients {
			targets = append(targets, c)
		}
	case d.room != "":
		for c := range h.rooms[d.room] {
			targets = append(targets, c)
		}
	}
	for _, u := range d.users {
		for c := range h.users[u] {
			targets = append(targets, c)
		}
	}

	var slow []*Client
	for _, c := range targets {
		if c.ID == d.exceptConn {
			continue
		}
		if !c.enqueue(d.frame) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		if _, ok := h.clients[c.ID]; !ok {
			continue
		}
		clog.L().Warn().Str(clog.FieldUserID, c.User.ID).Str(clog.FieldConnID, c.ID).Msg("send buffer full, dropping client")
		h.remove(c)
	}
	if len(slow) > 0 {
		h.broadcastOnline()
	}
}

func (h *Hub) broadcastOnline() {
	frame, err := encodeFrame(EventUsersOnline, h.presence.ListOnline())
	if err != nil {
		clog.L().Error().Err(err).Msg("encode users-online failed")
		return
	}
	h.dispatch(delivery{all: true, frame: frame})
}
