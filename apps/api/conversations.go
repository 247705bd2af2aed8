package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mahaj/chatcore/pkg/auth"
	clog "github.com/mahaj/chatcore/pkg/log"
)

type createConversationRequest struct {
	ParticipantIDs []string `json:"participantIds"`
	Title          string   `json:"title"`
}

func (a *API) listConversations(c *gin.Context) {
	user, _ := auth.CurrentUser(c)
	ctx := c.Request.Context()

	convs, err := a.Chat.ListConversations(ctx, user.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	if a.Counters != nil {
		counts, err := a.Counters.Counts(ctx, user.ID)
		if err != nil {
			clog.Ctx(ctx).Warn().Err(err).Msg("load unread counts")
		}
		for i := range convs {
			convs[i].UnreadCount = counts[convs[i].ID]
		}
	}
	c.JSON(http.StatusOK, convs)
}

func (a *API) createConversation(c *gin.Context) {
	user, _ := auth.CurrentUser(c)

	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	conv, created, err := a.Chat.CreateConversation(c.Request.Context(), user.ID, req.ParticipantIDs, req.Title)
	if err != nil {
		writeError(c, err)
		return
	}
	if !created {
		c.JSON(http.StatusOK, gin.H{
			"message":      "Conversation already exists",
			"existing":     true,
			"conversation": conv,
		})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (a *API) listUsers(c *gin.Context) {
	user, _ := auth.CurrentUser(c)
	users, err := a.Chat.ListUsers(c.Request.Context(), user.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}
