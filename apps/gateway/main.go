package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/mahaj/chatcore/pkg/auth"
	"github.com/mahaj/chatcore/pkg/bootstrap"
	"github.com/mahaj/chatcore/pkg/bus"
	"github.com/mahaj/chatcore/pkg/chat"
	clog "github.com/mahaj/chatcore/pkg/log"
	"github.com/mahaj/chatcore/pkg/presence"
)

func main() {
	cfg, err := bootstrap.Load("gateway")
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

	svc := chat.NewService(deps.Store, deps.Directory, chat.WithMaxContentLength(cfg.Chat.MaxContentLength))
	authn := auth.NewAuthenticator(auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), deps.Directory)

	g, gctx := errgroup.WithContext(ctx)

	var (
		observers []presence.Observer
		mirror    *presence.RedisMirror
	)
	if deps.Redis != nil {
		mirror = presence.NewRedisMirror(deps.Redis, cfg.Redis.PresenceKey, cfg.InstanceID, cfg.Redis.PresenceTTL)
		if err := mirror.Reset(ctx); err != nil {
			clog.L().Warn().Err(err).Msg("reset presence mirror")
		}
		async := presence.NewAsyncObserver(mirror, 1024)
		observers = append(observers, async)
		g.Go(func() error {
			async.Run(gctx)
			// final cleanup once connections are gone
			cleanup, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return mirror.Reset(cleanup)
		})
	}

	registry := presence.NewRegistry(observers...)
	if mirror != nil {
		g.Go(func() error {
			mirror.Run(gctx, registry.ListOnline)
			return nil
		})
	}
	hub := NewHub(registry)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	pub := bootstrap.Publisher(cfg)
	defer pub.Close()
	gw := NewGateway(hub, svc, authn, pub, cfg.InstanceID, cfg.WebSocket)

	if cfg.Kafka.Enabled {
		// unique group per instance so every gateway sees every envelope
		sub := bus.NewSubscriber(cfg.Kafka.BrokerList(), cfg.Kafka.Topic, "gateway-"+cfg.InstanceID, cfg.InstanceID, true)
		g.Go(func() error {
			defer sub.Close()
			return sub.Run(gctx, gw.Relay)
		})
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: gw.Router(cfg.Env),
	}
	g.Go(func() error {
		clog.L().Info().Str("addr", srv.Addr).Str("instance", cfg.InstanceID).Msg("gateway service starting")
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
		clog.L().Error().Err(err).Msg("gateway stopped with error")
	}
	clog.L().Info().Msg("gateway stopped")
}
