package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mahaj/chatcore/pkg/auth"
	"github.com/mahaj/chatcore/pkg/bus"
	"github.com/mahaj/chatcore/pkg/chat"
	"github.com/mahaj/chatcore/pkg/directory"
	clog "github.com/mahaj/chatcore/pkg/log"
	"github.com/mahaj/chatcore/pkg/metrics"
	"github.com/mahaj/chatcore/pkg/middleware"
	"github.com/mahaj/chatcore/pkg/store"
)

// API holds the handler dependencies. Counters, Bus, Redis and Limiter are
// optional.
type API struct {
	Chat     *chat.Service
	Counters store.Counters
	Users    directory.Directory
	Auth     *auth.Authenticator
	Signer   *auth.Signer
	Bus      bus.Publisher
	Origin   string

	Redis       redis.UniversalClient
	PresenceKey string

	DevLogin bool
	Env      string
	Limiter  *middleware.Limiter
}

func SetupRouter(a *API) *gin.Engine {
	if a.Bus == nil {
		a.Bus = bus.Nop{}
	}

	r := gin.New()
	r.Use(gin.Recovery(), clog.GinMiddleware(*clog.L()), metrics.GinMiddleware(), middleware.CORS(a.Env))
	if a.Limiter != nil {
		r.Use(middleware.RateLimit(a.Limiter))
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if a.DevLogin {
		r.POST("/login", a.login)
	}

	authed := r.Group("/", a.Auth.Middleware())
	authed.GET("/conversations", a.listConversations)
	authed.POST("/conversations", a.createConversation)
	authed.GET("/conversations/:id/messages", a.getMessages)
	authed.POST("/conversations/:id/read", a.markRead)
	authed.POST("/messages", a.postMessage)
	authed.GET("/users", a.listUsers)
	authed.GET("/presence", a.presence)
	return r
}

func writeError(c *gin.Context, err error) {
	code := chat.CodeOf(err)
	metrics.ErrorsTotal.WithLabelValues(string(code)).Inc()
	if code == chat.CodeTransient {
		clog.Ctx(c.Request.Context()).Error().Err(err).Msg("request failed")
	}
	c.JSON(chat.HTTPStatus(err), errorBody(code, chat.PublicMessage(err)))
}

func badRequest(c *gin.Context, msg string) {
	metrics.ErrorsTotal.WithLabelValues(string(chat.CodeBadRequest)).Inc()
	c.JSON(http.StatusBadRequest, errorBody(chat.CodeBadRequest, msg))
}

func errorBody(code chat.Code, msg string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": msg}}
}
