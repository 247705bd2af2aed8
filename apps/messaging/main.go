package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mahaj/chatcore/pkg/bootstrap"
	"github.com/mahaj/chatcore/pkg/bus"
	clog "github.com/mahaj/chatcore/pkg/log"
)

func main() {
	cfg, err := bootstrap.Load("messaging")
	if err != nil {
		clog.L().Fatal().Err(err).Msg("load config")
	}
	if !cfg.Kafka.Enabled {
		clog.L().Fatal().Msg("messaging service needs kafka.enabled=true")
	}
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := bootstrap.SignalContext()
	defer stop()

	deps, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		clog.L().Fatal().Err(err).Msg("open backends")
	}
	defer deps.Close()

	projector := NewProjector(deps.Counters)
	// shared group: each envelope is counted once across replicas
	consumer := bus.NewSubscriber(cfg.Kafka.BrokerList(), cfg.Kafka.Topic, cfg.Kafka.GroupID, "", false)

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	srv := &http.Server{Addr: cfg.Server.Addr(), Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer consumer.Close()
		clog.L().Info().Str("topic", cfg.Kafka.Topic).Str("group", cfg.Kafka.GroupID).Msg("starting kafka consumer")
		return consumer.Run(gctx, projector.Handle)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	})

	if err := g.Wait(); err != nil {
		clog.L().Error().Err(err).Msg("messaging stopped with error")
	}
	clog.L().Info().Msg("messaging stopped")
}
