package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mahaj/chatcore/pkg/auth"
	"github.com/mahaj/chatcore/pkg/bootstrap"
	"github.com/mahaj/chatcore/pkg/chat"
	clog "github.com/mahaj/chatcore/pkg/log"
	"github.com/mahaj/chatcore/pkg/middleware"
)

func main() {
	cfg, err := bootstrap.Load("api")
	if err != nil {
		clog.L().Fatal().Err(err).Msg("load config")
	}
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := bootstrap.SignalContext()
	defer stop()

	deps, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		clog.L().Fatal().Err(err).Msg("open backends")
	}
	defer deps.Close()

	pub := bootstrap.Publisher(cfg)
	defer pub.Close()

	signer := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	limiter := middleware.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSec), cfg.RateLimit.Burst, 10*time.Minute)
	defer limiter.Stop()
	go limiter.GC(time.Minute)

	api := &API{
		Chat:        chat.NewService(deps.Store, deps.Directory, chat.WithMaxContentLength(cfg.Chat.MaxContentLength)),
		Counters:    deps.Counters,
		Users:       deps.Directory,
		Auth:        auth.NewAuthenticator(signer, deps.Directory),
		Signer:      signer,
		Bus:         pub,
		Origin:      cfg.InstanceID,
		Redis:       deps.Redis,
		PresenceKey: cfg.Redis.PresenceKey,
		DevLogin:    cfg.Auth.DevLogin,
		Env:         cfg.Env,
		Limiter:     limiter,
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           SetupRouter(api),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		clog.L().Info().Str("addr", srv.Addr).Bool("dev_login", cfg.Auth.DevLogin).Msg("api service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	})

	if err := g.Wait(); err != nil {
		clog.L().Error().Err(err).Msg("api stopped with error")
	}
	clog.L().Info().Msg("api stopped")
}
