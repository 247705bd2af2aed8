package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mahaj/chatcore/pkg/chat"
	"github.com/mahaj/chatcore/pkg/directory"
	"github.com/mahaj/chatcore/pkg/model"
)

type loginRequest struct {
	UserID string `json:"userId"`
}

type loginResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// login mints a token for an existing directory user. Only mounted when
// dev login is enabled; production tokens come from the identity provider.
func (a *API) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		badRequest(c, "userId is required")
		return
	}

	u, err := a.Users.Get(c.Request.Context(), strings.TrimSpace(req.UserID))
	if errors.Is(err, directory.ErrUserNotFound) {
		c.JSON(http.StatusUnauthorized, errorBody(chat.CodeAuthenticationFailed, "unknown user"))
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	token, err := a.Signer.GenerateToken(u.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{Token: token, User: u})
}
