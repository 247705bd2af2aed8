package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mahaj/chatcore/pkg/auth"
	"github.com/mahaj/chatcore/pkg/bus"
	"github.com/mahaj/chatcore/pkg/chat"
	"github.com/mahaj/chatcore/pkg/config"
	clog "github.com/mahaj/chatcore/pkg/log"
	"github.com/mahaj/chatcore/pkg/metrics"
)

const eventTimeout = 10 * time.Second

var errBadRequest = errors.New("malformed event")

// Gateway turns websocket events into chat operations and fans the results
// out through the hub and the event bus.
type Gateway struct {
	hub      *Hub
	chat     *chat.Service
	auth     *auth.Authenticator
	bus      bus.Publisher
	origin   string
	ws       config.WebSocketConfig
	upgrader websocket.Upgrader
}

func NewGateway(hub *Hub, svc *chat.Service, authn *auth.Authenticator, pub bus.Publisher, origin string, ws config.WebSocketConfig) *Gateway {
	if pub == nil {
		pub = bus.Nop{}
	}
	return &Gateway{
		hub:    hub,
		chat:   svc,
		auth:   authn,
		bus:    pub,
		origin: origin,
		ws:     ws,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

func (g *Gateway) Router(env string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), clog.GinMiddleware(*clog.L()), metrics.GinMiddleware())
	r.GET("/ws", func(c *gin.Context) { g.serveWs(c.Writer, c.Request) })
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "instance": g.origin, "env": env})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// handle processes one inbound frame to completion.
func (g *Gateway) handle(c *Client, message []byte) {
	var in Frame
	if err := json.Unmarshal(message, &in); err != nil || in.Event == "" {
		c.fail(chat.CodeBadRequest, "expected {\"event\": ..., \"data\": ...}")
		return
	}
	event := canonicalEvent(in.Event)
	metrics.EventsTotal.WithLabelValues(event).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	logger := clog.L().With().Str(clog.FieldUserID, c.User.ID).Str(clog.FieldConnID, c.ID).Str(clog.FieldEvent, event).Logger()
	ctx = clog.WithLogger(ctx, logger)

	var p conversationPayload
	if len(in.Data) > 0 {
		if err := json.Unmarshal(in.Data, &p); err != nil {
			c.fail(chat.CodeBadRequest, errBadRequest.Error())
			return
		}
	}
	p.ConversationID = strings.TrimSpace(p.ConversationID)

	var err error
	switch event {
	case EventJoinConversations:
		err = g.joinConversations(ctx, c)
	case EventMessageSend:
		err = g.sendMessage(ctx, c, p)
	case EventMessagesRead:
		err = g.markRead(ctx, c, p)
	case EventTyping:
		err = g.relayTyping(ctx, c, EventUserTyping, p)
	case EventStopTyping:
		err = g.relayTyping(ctx, c, EventUserStopTyping, p)
	default:
		metrics.ErrorsTotal.WithLabelValues(string(chat.CodeBadRequest)).Inc()
		c.fail(chat.CodeBadRequest, "unknown event "+in.Event)
		return
	}
	if err != nil {
		g.reject(ctx, c, err)
	}
}

func (g *Gateway) reject(ctx context.Context, c *Client, err error) {
	if errors.Is(err, errBadRequest) {
		metrics.ErrorsTotal.WithLabelValues(string(chat.CodeBadRequest)).Inc()
		c.fail(chat.CodeBadRequest, err.Error())
		return
	}
	code := chat.CodeOf(err)
	metrics.ErrorsTotal.WithLabelValues(string(code)).Inc()
	if code == chat.CodeTransient {
		clog.Ctx(ctx).Error().Err(err).Msg("event failed")
	} else {
		clog.Ctx(ctx).Debug().Err(err).Msg("event rejected")
	}
	c.fail(code, chat.PublicMessage(err))
}

func (g *Gateway) joinConversations(ctx context.Context, c *Client) error {
	ids, err := g.chat.ConversationIDs(ctx, c.User.ID)
	if err != nil {
		return err
	}
	// visible to this read pump before the hub applies it
	c.addRooms(ids)
	g.hub.Subscribe(c, ids)
	return nil
}

func (g *Gateway) sendMessage(ctx context.Context, c *Client, p conversationPayload) error {
	if p.ConversationID == "" {
		return errBadRequest
	}
	msg, err := g.chat.PostMessage(ctx, p.ConversationID, c.User.ID, p.Content)
	if err != nil {
		return err
	}
	metrics.MessagesTotal.Inc()

	participants, err := g.chat.Participants(ctx, p.ConversationID)
	if err != nil {
		// room delivery still works without the member list
		clog.Ctx(ctx).Warn().Err(err).Str(clog.FieldConvID, p.ConversationID).Msg("load participants for notification")
	}
	env, err := messageEnvelope(g.origin, participants, msg)
	if err != nil {
		return err
	}
	g.fanout(ctx, env, "")
	return nil
}

func (g *Gateway) markRead(ctx context.Context, c *Client, p conversationPayload) error {
	if p.ConversationID == "" {
		return errBadRequest
	}
	if _, err := g.chat.GetMessages(ctx, p.ConversationID, c.User.ID); err != nil {
		return err
	}
	participants, err := g.chat.Participants(ctx, p.ConversationID)
	if err != nil {
		return err
	}
	env, err := readEnvelope(g.origin, p.ConversationID, c.User.ID, participants)
	if err != nil {
		return err
	}
	g.fanout(ctx, env, "")
	return nil
}

// relayTyping forwards typing state to the rest of the room. Connections
// not subscribed to the room are ignored without an error.
func (g *Gateway) relayTyping(ctx context.Context, c *Client, event string, p conversationPayload) error {
	if p.ConversationID == "" {
		return errBadRequest
	}
	if !c.inRoom(p.ConversationID) {
		return nil
	}
	env, err := typingEnvelope(g.origin, event, p.ConversationID, c.User.ID)
	if err != nil {
		return err
	}
	g.fanout(ctx, env, c.ID)
	return nil
}

// fanout delivers env to local connections and publishes it for the other
// gateway instances and the messaging service.
func (g *Gateway) fanout(ctx context.Context, env bus.Envelope, exceptConn string) {
	ds, err := deliveriesFor(env, exceptConn)
	if err != nil {
		clog.Ctx(ctx).Error().Err(err).Msg("route event")
		return
	}
	g.hub.Deliver(ds...)

	if err := g.bus.Publish(ctx, env); err != nil {
		clog.Ctx(ctx).Warn().Err(err).Str(clog.FieldEvent, env.Event).Msg("publish to event bus failed")
	}
}

// Relay is the bus handler for envelopes published by other processes.
func (g *Gateway) Relay(_ context.Context, env bus.Envelope) error {
	ds, err := deliveriesFor(env, "")
	if err != nil {
		return err
	}
	g.hub.Deliver(ds...)
	return nil
}
