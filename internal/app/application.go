package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"peerline/internal/api"
	"peerline/internal/cleanup"
	"peerline/internal/collab"
	"peerline/internal/config"
	"peerline/internal/events"
	"peerline/internal/hub"
	"peerline/internal/live"
	"peerline/internal/match"
	"peerline/internal/obs"
	"peerline/internal/orchestrator"
	"peerline/internal/queue"
	"peerline/internal/registry"
	"peerline/internal/safety"
	"peerline/internal/store"
	"peerline/internal/websocket"
	"peerline/pkg/interfaces"
)

// Application wires every component and owns the lifecycle. Initialization
// follows dependency order: store -> registries -> engine -> collaborators ->
// orchestrator -> scheduler -> relay -> hub -> transport -> HTTP.
type Application struct {
	config     *config.Config
	store      *store.Store
	publisher  events.Publisher
	hub        *hub.Hub
	scheduler  *cleanup.Scheduler
	httpServer *http.Server
}

// NewApplication builds the full component graph from configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	obs.Setup(cfg.LogLevel, cfg.LogFormat)

	sessionStore, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			// The audit stream is optional; matching must come up without it.
			obs.Log.WithError(err).Warn("audit publisher unavailable, events disabled")
		} else {
			publisher = p
		}
	}

	conns := registry.NewRegistry()
	waitQueue := queue.NewQueue()
	engine := match.NewEngine(conns, waitQueue)
	liveReg := live.NewRegistry(conns, sessionStore, publisher)

	rooms := collab.NewHTTPRoomProvisioner(cfg.RoomServiceURL, cfg.CollabTimeout)
	var content interfaces.ContentGenerator = collab.FallbackContentGenerator{}
	if cfg.ContentServiceURL != "" {
		content = collab.NewHTTPContentGenerator(cfg.ContentServiceURL, cfg.CollabTimeout)
	}
	var scorer interfaces.SafetyScorer
	if cfg.SafetyServiceURL != "" {
		scorer = collab.FailClosed(collab.NewHTTPSafetyScorer(cfg.SafetyServiceURL, cfg.CollabTimeout))
	}

	orch := orchestrator.New(conns, waitQueue, liveReg, sessionStore, rooms, content, publisher)

	scheduler := cleanup.NewScheduler(sessionStore, liveReg, cleanup.Options{
		ExpireInterval:  cfg.ExpireInterval,
		ExpireAfter:     cfg.ExpireAfter,
		AbandonInterval: cfg.AbandonInterval,
		AbandonAfter:    cfg.AbandonAfter,
		PurgeInterval:   cfg.PurgeInterval,
		RetainFor:       cfg.RetainFor,
	})

	relay := safety.NewRelay(liveReg, conns, sessionStore, scorer, publisher)
	eventHub := hub.NewHub(conns, waitQueue, engine, liveReg, orch, relay, cfg.StatsInterval)

	wsHandler := websocket.NewHandler(conns, eventHub, cfg.WSPingInterval, cfg.WSReadTimeout, cfg.WSWriteTimeout)
	apiServer := api.NewServer(sessionStore, conns, liveReg, waitQueue, engine, orch, relay)

	mux := http.NewServeMux()
	apiServer.Routes(mux)
	mux.Handle("/ws", wsHandler)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      sessionStore,
		publisher:  publisher,
		hub:        eventHub,
		scheduler:  scheduler,
		httpServer: httpServer,
	}, nil
}

// Start brings the application up: hub first so events can flow, then the
// cleanup scheduler, then the HTTP listener.
func (app *Application) Start(ctx context.Context) error {
	obs.Log.WithField("addr", app.httpServer.Addr).Info("starting peerline")

	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	// Sessions left active by a previous run have no live registration; the
	// abandon sweep reconciles them. Run it once immediately.
	app.scheduler.AbandonSweep(ctx)
	app.scheduler.Start(ctx)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.scheduler.Stop()
		_ = app.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		obs.Log.Info("peerline started")
		return nil
	case <-ctx.Done():
		app.scheduler.Stop()
		_ = app.hub.Stop()
		return ctx.Err()
	}
}

// Stop shuts down in reverse order: HTTP listener, scheduler, hub, publisher,
// store.
func (app *Application) Stop(ctx context.Context) error {
	obs.Log.Info("shutting down peerline")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		obs.Log.WithError(err).Warn("HTTP server shutdown error")
	}

	app.scheduler.Stop()

	if err := app.hub.Stop(); err != nil {
		obs.Log.WithError(err).Warn("hub shutdown error")
	}

	app.publisher.Close()

	if err := app.store.Close(); err != nil {
		obs.Log.WithError(err).Warn("store shutdown error")
	}

	obs.Log.Info("peerline shutdown complete")
	return nil
}

// Addr returns the HTTP listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
