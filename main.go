package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fleetserve/gateway/pkg/api"
	"github.com/fleetserve/gateway/pkg/auth"
	"github.com/fleetserve/gateway/pkg/classify"
	"github.com/fleetserve/gateway/pkg/config"
	"github.com/fleetserve/gateway/pkg/control"
	"github.com/fleetserve/gateway/pkg/events"
	"github.com/fleetserve/gateway/pkg/fleet"
	"github.com/fleetserve/gateway/pkg/logging"
	"github.com/fleetserve/gateway/pkg/metrics"
	"github.com/fleetserve/gateway/pkg/routing"
	"github.com/fleetserve/gateway/pkg/scheduling"
	"github.com/fleetserve/gateway/pkg/store"
	"github.com/fleetserve/gateway/pkg/tailbuffer"
	"github.com/fleetserve/gateway/pkg/wake"
)

var log = logrus.New()

// logTailSize bounds the in-memory log window served by /admin/logs.
const logTailSize = 64 * 1024

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Tee logs into a bounded ring so the admin API can serve the tail.
	tail := tailbuffer.NewTailBuffer(logTailSize)
	log.SetOutput(io.MultiWriter(os.Stderr, tail))

	cfg, err := config.Load(config.ResolvePath())
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		log.Fatalf("Unable to open audit store %s: %v", cfg.Store.Path, err)
	}
	defer st.Close()

	bus := events.NewBus(256)
	defer bus.Close()

	registry := fleet.NewRegistry(logging.Component(log, "fleet"), bus)
	classifier := classify.NewClassifier(cfg.Models.Big, cfg.Models.Fast)

	router := routing.NewRouter(
		logging.Component(log, "router"),
		registry,
		classifier,
		routing.Config{
			AffinityMachineType: cfg.Models.AffinityMachineType,
			TierMachineTypes:    cfg.Models.TierMachineTypes,
			TierModels: map[classify.Tier][]string{
				classify.TierBig:  cfg.Models.Big,
				classify.TierFast: cfg.Models.Fast,
			},
		},
		nil,
	)

	queue := scheduling.NewQueue()
	dispatcher := scheduling.NewDispatcher(
		logging.Component(log, "dispatcher"),
		queue,
		registry,
		router,
		scheduling.Config{
			MinBatchSize: cfg.Batching.MinBatchSize,
			BatchTimeout: cfg.Batching.BatchTimeout,
			Tick:         cfg.Batching.DispatchTick,
		},
	)

	controlServer := control.NewServer(
		logging.Component(log, "control"),
		registry,
		st,
		control.Config{
			SharedSecret:     cfg.Auth.RunnerSecret,
			SendQueueSize:    cfg.Runners.SendQueueSize,
			HeartbeatTimeout: cfg.Runners.HeartbeatTimeout,
			SweepInterval:    cfg.Runners.SweepInterval,
		},
	)

	waker := wake.New(
		logging.Component(log, "wake"),
		registry,
		st,
		wake.Config{
			BroadcastAddr: cfg.Wake.BroadcastAddr,
			Port:          cfg.Wake.Port,
			BouncerAddr:   cfg.Wake.BouncerAddr,
		},
	)

	recorder := metrics.NewRecorder(logging.Component(log, "recorder"), st)

	apiServer := api.NewServer(logging.Component(log, "api"), api.Options{
		Config:    cfg,
		Registry:  registry,
		Bus:       bus,
		Router:    router,
		Queue:     queue,
		Control:   controlServer,
		Waker:     waker,
		Validator: auth.NewJWTValidator(cfg.Auth.JWTSecret),
		Store:     st,
		Recorder:  recorder,
		LogTail:   tail,
	})

	server := &http.Server{Addr: cfg.Listen.Addr, Handler: apiServer}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Listening on %s", cfg.Listen.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Batching.Enabled {
		log.Infof("Batching enabled (min=%d, timeout=%s)", cfg.Batching.MinBatchSize, cfg.Batching.BatchTimeout)
		g.Go(func() error {
			if err := dispatcher.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := controlServer.RunSweeper(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infoln("Shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Gateway error: %v", err)
	}
	log.Infoln("Gateway stopped")
}
