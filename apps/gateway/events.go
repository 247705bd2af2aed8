package main

import (
	"encoding/json"
	"fmt"

	"github.com/mahaj/chatcore/pkg/bus"
	"github.com/mahaj/chatcore/pkg/chat"
	"github.com/mahaj/chatcore/pkg/model"
)

// Inbound events.
const (
	EventJoinConversations = "join-conversations"
	EventMessageSend       = "message-send"
	EventMessagesRead      = "messages-read"
	EventTyping            = "typing"
	EventStopTyping        = "stop-typing"
)

// Outbound events.
const (
	EventUsersOnline         = "users-online"
	EventMessageReceived     = bus.EventMessageReceived
	EventNotificationMessage = "notification-message"
	EventMessagesMarkedRead  = bus.EventMessagesMarkedRead
	EventUserTyping          = bus.EventUserTyping
	EventUserStopTyping      = bus.EventUserStopTyping
	EventError               = "error"
)

// Older web clients use colon separated names.
var eventAliases = map[string]string{
	"join:conversations": EventJoinConversations,
	"message:send":       EventMessageSend,
	"messages:read":      EventMessagesRead,
	"user:typing":        EventTyping,
	"user:stop-typing":   EventStopTyping,
}

func canonicalEvent(name string) string {
	if c, ok := eventAliases[name]; ok {
		return c
	}
	return name
}

// Frame is one websocket text message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type conversationPayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content,omitempty"`
}

type typingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type notificationPayload struct {
	ConversationID string          `json:"conversationId"`
	Message        json.RawMessage `json:"message"`
}

type errorPayload struct {
	Code    chat.Code `json:"code"`
	Message string    `json:"message"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	switch d := data.(type) {
	case nil:
	case json.RawMessage:
		raw = d
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

func errorFrame(code chat.Code, msg string) []byte {
	b, _ := encodeFrame(EventError, errorPayload{Code: code, Message: msg})
	return b
}

// delivery targets one frame at a room, a user list or every connection.
type delivery struct {
	room       string
	users      []string
	all        bool
	exceptConn string
	frame      []byte
}

// deliveriesFor applies the routing rule for env. The same rule runs for
// events raised on this instance and for envelopes relayed from others.
func deliveriesFor(env bus.Envelope, exceptConn string) ([]delivery, error) {
	others := make([]string, 0, len(env.Participants))
	for _, p := range env.Participants {
		if p != env.ActorID {
			others = append(others, p)
		}
	}

	switch env.Event {
	case EventMessageReceived:
		msg, err := encodeFrame(EventMessageReceived, env.Data)
		if err != nil {
			return nil, err
		}
		note, err := encodeFrame(EventNotificationMessage, notificationPayload{
			ConversationID: env.ConversationID,
			Message:        env.Data,
		})
		if err != nil {
			return nil, err
		}
		return []delivery{
			{room: env.ConversationID, frame: msg},
			{users: others, frame: note},
		}, nil

	case EventMessagesMarkedRead:
		f, err := encodeFrame(EventMessagesMarkedRead, env.Data)
		if err != nil {
			return nil, err
		}
		return []delivery{{users: others, frame: f}}, nil

	case EventUserTyping, EventUserStopTyping:
		f, err := encodeFrame(env.Event, env.Data)
		if err != nil {
			return nil, err
		}
		return []delivery{{room: env.ConversationID, exceptConn: exceptConn, frame: f}}, nil
	}
	return nil, fmt.Errorf("no route for event %q", env.Event)
}

func messageEnvelope(origin string, participants []string, m model.MessageView) (bus.Envelope, error) {
	return bus.NewEnvelope(origin, EventMessageReceived, m.ConversationID, m.Sender.ID, participants, m)
}

func readEnvelope(origin, conversationID, readerID string, participants []string) (bus.Envelope, error) {
	return bus.NewEnvelope(origin, EventMessagesMarkedRead, conversationID, readerID, participants,
		bus.ReadReceipt{ConversationID: conversationID, ReadBy: readerID})
}

func typingEnvelope(origin, event, conversationID, userID string) (bus.Envelope, error) {
	return bus.NewEnvelope(origin, event, conversationID, userID, nil,
		typingPayload{ConversationID: conversationID, UserID: userID})
}
