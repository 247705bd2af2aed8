package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mahaj/chatcore/pkg/bus"
	clog "github.com/mahaj/chatcore/pkg/log"
	"github.com/mahaj/chatcore/pkg/store"
)

// Projector keeps per-user unread counters in step with the event bus.
type Projector struct {
	counters store.Counters
	attempts int
	backoff  time.Duration
}

func NewProjector(counters store.Counters) *Projector {
	return &Projector{counters: counters, attempts: 3, backoff: 100 * time.Millisecond}
}

// Handle applies one envelope. Typing events and unknown events are ignored.
func (p *Projector) Handle(ctx context.Context, env bus.Envelope) error {
	logger := clog.Ctx(ctx).With().Str(clog.FieldEvent, env.Event).Str(clog.FieldConvID, env.ConversationID).Logger()

	switch env.Event {
	case bus.EventMessageReceived:
		if env.ConversationID == "" || env.ActorID == "" {
			return bus.Permanent(errors.New("message envelope missing conversation or sender"))
		}
		// Increment unread count for every recipient, retrying each on its own
		var failed int
		for _, userID := range env.Participants {
			if userID == env.ActorID {
				continue
			}
			err := bus.Retry(ctx, p.attempts, p.backoff, func() error {
				return p.counters.Increment(ctx, userID, env.ConversationID)
			})
			if err != nil {
				logger.Warn().Err(err).Str(clog.FieldUserID, userID).Msg("failed to increment unread count")
				failed++
			}
		}
		if failed > 0 {
			// replaying the envelope would count the other recipients twice
			return bus.Permanent(fmt.Errorf("%d counter increments failed", failed))
		}
		logger.Debug().Strs("participants", env.Participants).Msg("unread counts incremented")

	case bus.EventMessagesMarkedRead:
		var receipt bus.ReadReceipt
		if err := json.Unmarshal(env.Data, &receipt); err != nil {
			return bus.Permanent(fmt.Errorf("decode read receipt: %w", err))
		}
		reader := receipt.ReadBy
		if reader == "" {
			reader = env.ActorID
		}
		if err := p.counters.Reset(ctx, reader, env.ConversationID); err != nil {
			return fmt.Errorf("reset unread count for %s: %w", reader, err)
		}
		logger.Debug().Str(clog.FieldUserID, reader).Msg("unread count reset")
	}
	return nil
}
