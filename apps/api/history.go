package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mahaj/chatcore/pkg/auth"
	"github.com/mahaj/chatcore/pkg/bus"
	clog "github.com/mahaj/chatcore/pkg/log"
	"github.com/mahaj/chatcore/pkg/metrics"
	"github.com/mahaj/chatcore/pkg/model"
)

type postMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// getMessages returns the history oldest first and marks it read for the caller.
func (a *API) getMessages(c *gin.Context) {
	user, _ := auth.CurrentUser(c)
	ctx := c.Request.Context()
	convID := c.Param("id")

	msgs, err := a.Chat.GetMessages(ctx, convID, user.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	a.receipt(ctx, convID, user.ID)
	c.JSON(http.StatusOK, msgs)
}

func (a *API) postMessage(c *gin.Context) {
	user, _ := auth.CurrentUser(c)
	ctx := c.Request.Context()

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ConversationID == "" {
		badRequest(c, "conversationId and content are required")
		return
	}

	msg, err := a.Chat.PostMessage(ctx, req.ConversationID, user.ID, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	metrics.MessagesTotal.Inc()
	a.publishMessage(ctx, msg)
	c.JSON(http.StatusCreated, msg)
}

// publishMessage hands a REST-posted message to the gateways for live
// delivery. Failure only delays clients until their next fetch.
func (a *API) publishMessage(ctx context.Context, msg model.MessageView) {
	participants, err := a.Chat.Participants(ctx, msg.ConversationID)
	if err != nil {
		clog.Ctx(ctx).Warn().Err(err).Str(clog.FieldConvID, msg.ConversationID).Msg("load participants for publish")
	}
	env, err := bus.NewEnvelope(a.Origin, bus.EventMessageReceived, msg.ConversationID, msg.Sender.ID, participants, msg)
	if err != nil {
		clog.Ctx(ctx).Error().Err(err).Msg("encode message envelope")
		return
	}
	if err := a.Bus.Publish(ctx, env); err != nil {
		clog.Ctx(ctx).Warn().Err(err).Str(clog.FieldConvID, msg.ConversationID).Msg("publish message")
	}
}
