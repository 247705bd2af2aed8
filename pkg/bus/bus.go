// Package bus carries chat events between processes over Kafka.
//
// Every gateway instance publishes the events it fans out locally and
// consumes the topic with its own consumer group, so a participant connected
// to another instance still receives them. The messaging service consumes the
// same topic with a shared group to maintain unread counters.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	clog "github.com/mahaj/chatcore/pkg/log"
	"github.com/mahaj/chatcore/pkg/metrics"
)

// Event names carried on the bus. They match the outbound websocket names.
const (
	EventMessageReceived    = "message-received"
	EventMessagesMarkedRead = "messages-marked-read"
	EventUserTyping         = "user-typing"
	EventUserStopTyping     = "user-stop-typing"
)

// ReadReceipt is the data of EventMessagesMarkedRead.
type ReadReceipt struct {
	ConversationID string `json:"conversationId"`
	ReadBy         string `json:"readBy"`
}

// Envelope is one event plus enough routing context for any instance to
// deliver it without a store lookup.
type Envelope struct {
	Origin         string          `json:"origin"`
	Event          string          `json:"event"`
	ConversationID string          `json:"conversationId"`
	Participants   []string        `json:"participants,omitempty"`
	ActorID        string          `json:"actorId"`
	Data           json.RawMessage `json:"data"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewEnvelope(origin, event, conversationID, actorID string, participants []string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Origin:         origin,
		Event:          event,
		ConversationID: conversationID,
		Participants:   participants,
		ActorID:        actorID,
		Data:           raw,
		Timestamp:      time.Now().UTC(),
	}, nil
}

func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, err
	}
	if env.Event == "" {
		return Envelope{}, errors.New("bus: envelope without event")
	}
	return env, nil
}

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Nop drops everything. Used when Kafka is disabled for single-instance runs.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }
func (Nop) Close() error                           { return nil }

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish keys by conversation so one conversation's events stay ordered
// within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.ConversationID),
		Value: b,
		Time:  env.Timestamp,
	})
	if err != nil {
		return err
	}
	metrics.RelayedTotal.WithLabelValues("out").Inc()
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Handler processes one envelope. A returned error is retried with backoff
// before the offset is committed, unless it is marked Permanent. An envelope
// that still fails is logged and skipped.
type Handler func(ctx context.Context, env Envelope) error

const (
	handlerAttempts = 5
	handlerBackoff  = 200 * time.Millisecond
)

type Subscriber struct {
	reader *kafka.Reader
	origin string
}

// NewSubscriber reads topic as groupID. Envelopes whose Origin equals
// skipOrigin are dropped before reaching the handler; pass "" to keep all.
func NewSubscriber(brokers []string, topic, groupID, skipOrigin string, startLatest bool) *Subscriber {
	start := kafka.FirstOffset
	if startLatest {
		start = kafka.LastOffset
	}
	return &Subscriber{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     groupID,
			StartOffset: start,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     250 * time.Millisecond,
		}),
		origin: skipOrigin,
	}
}

// Run consumes until ctx is cancelled. Offsets are committed only after the
// handler is done with a message.
func (s *Subscriber) Run(ctx context.Context, h Handler) error {
	logger := clog.Ctx(ctx)
	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn().Err(err).Msg("bus read failed, retrying in 1s")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		env, err := Decode(m.Value)
		switch {
		case err != nil:
			logger.Warn().Err(err).Int64("offset", m.Offset).Msg("dropping malformed envelope")
		case Accept(env, s.origin):
			metrics.RelayedTotal.WithLabelValues("in").Inc()
			err := Retry(ctx, handlerAttempts, handlerBackoff, func() error { return h(ctx, env) })
			if ctx.Err() != nil {
				// uncommitted, the group redelivers it after restart
				return nil
			}
			if err != nil {
				logger.Error().Err(err).Str(clog.FieldEvent, env.Event).
					Str(clog.FieldConvID, env.ConversationID).Int64("offset", m.Offset).
					Bool("permanent", IsPermanent(err)).Msg("envelope handler failed, skipping")
			}
		}
		if err := s.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Int64("offset", m.Offset).Msg("commit failed")
		}
	}
}

func (s *Subscriber) Close() error {
	return s.reader.Close()
}

// Accept reports whether env should be handled by a consumer that skips its
// own origin.
func Accept(env Envelope, skipOrigin string) bool {
	return skipOrigin == "" || env.Origin != skipOrigin
}
