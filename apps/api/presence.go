package main

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/mahaj/chatcore/pkg/chat"
	clog "github.com/mahaj/chatcore/pkg/log"
	"github.com/mahaj/chatcore/pkg/presence"
)

// presence lists the users the gateways report online.
func (a *API) presence(c *gin.Context) {
	if a.Redis == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody(chat.CodeTransient, "presence is not available"))
		return
	}
	users, err := presence.Online(c.Request.Context(), a.Redis, a.PresenceKey)
	if err != nil {
		clog.Ctx(c.Request.Context()).Error().Err(err).Msg("failed to fetch presence")
		c.JSON(http.StatusInternalServerError, errorBody(chat.CodeTransient, chat.ErrTransient.Error()))
		return
	}
	sort.Strings(users)
	c.JSON(http.StatusOK, users)
}
