package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mahaj/chatcore/pkg/auth"
	"github.com/mahaj/chatcore/pkg/bus"
	clog "github.com/mahaj/chatcore/pkg/log"
)

// markRead flips the caller's unread messages without returning them.
func (a *API) markRead(c *gin.Context) {
	user, _ := auth.CurrentUser(c)
	ctx := c.Request.Context()
	convID := c.Param("id")

	if _, err := a.Chat.GetMessages(ctx, convID, user.ID); err != nil {
		writeError(c, err)
		return
	}
	a.receipt(ctx, convID, user.ID)
	c.Status(http.StatusNoContent)
}

// receipt resets the reader's unread counter and tells the other
// participants. Both are best effort.
func (a *API) receipt(ctx context.Context, convID, readerID string) {
	logger := clog.Ctx(ctx).With().Str(clog.FieldConvID, convID).Logger()

	if a.Counters != nil {
		if err := a.Counters.Reset(ctx, readerID, convID); err != nil {
			logger.Warn().Err(err).Msg("reset unread count")
		}
	}

	participants, err := a.Chat.Participants(ctx, convID)
	if err != nil {
		logger.Warn().Err(err).Msg("load participants for receipt")
		return
	}
	env, err := bus.NewEnvelope(a.Origin, bus.EventMessagesMarkedRead, convID, readerID, participants,
		bus.ReadReceipt{ConversationID: convID, ReadBy: readerID})
	if err != nil {
		logger.Error().Err(err).Msg("encode receipt envelope")
		return
	}
	if err := a.Bus.Publish(ctx, env); err != nil {
		logger.Warn().Err(err).Msg("publish receipt")
	}
}
