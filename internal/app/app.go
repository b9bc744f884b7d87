package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/grandcat/zeroconf"

	"pumprelay/relay-server/internal/config"
	"pumprelay/relay-server/internal/metrics"
	"pumprelay/relay-server/internal/mirror"
	"pumprelay/relay-server/internal/registry"
	"pumprelay/relay-server/internal/relay"
	"pumprelay/relay-server/internal/store"
	"pumprelay/relay-server/internal/transport"
)

// App wires together the relay services and manages their lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	metrics    *metrics.RelayMetrics
	store      *store.Gateway
	dispatcher *relay.Dispatcher
	ws         *transport.Server
	mdns       *zeroconf.Server
	ready      atomic.Bool
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger, metrics: metrics.New()}
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	backend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	a.store = store.NewGateway(backend, a.logger, store.WithObserver(a.metrics.ObserveStore))

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := a.store.Close(closeCtx); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	mirrorCtx, stopMirror := context.WithCancel(ctx)
	defer stopMirror()

	sink, err := a.startMirror(mirrorCtx)
	if err != nil {
		return err
	}

	a.wire(sink)

	httpErrCh := make(chan error, 1)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	metricsErrCh := make(chan error, 1)
	var metricsServer *http.Server
	if a.cfg.MetricsPort > 0 {
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.MetricsPort),
			Handler:           a.metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("metrics server started", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				metricsErrCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if a.cfg.MDNS {
		if err := a.startMDNS(a.cfg.HTTPPort); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
	}
	defer a.stopMDNS()

	a.ready.Store(true)

	shutdown := func() error {
		a.ready.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// Hijacked WebSocket connections are not tracked by Shutdown.
		_ = a.ws.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		a.logger.Info("http server stopped")

		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("metrics server shutdown: %w", err)
			}
		}
		return nil
	}

	select {
	case <-ctx.Done():
		return shutdown()
	case err := <-httpErrCh:
		_ = shutdown()
		return err
	case err := <-metricsErrCh:
		_ = shutdown()
		return err
	}
}

// wire builds the relay core on top of the opened store.
func (a *App) wire(sink relay.StatusSink) {
	a.dispatcher = relay.New(
		registry.New(a.logger),
		a.store,
		a.logger,
		a.metrics,
		sink,
		relay.Options{
			LogsPolicy:     relay.LogsPolicy(a.cfg.LogsPolicy),
			IdentifyPolicy: relay.IdentifyPolicy(a.cfg.IdentifyPolicy),
			StoreTimeout:   a.cfg.StoreTimeout,
		},
	)
	a.ws = transport.NewServer(a.dispatcher, a.logger, transport.Options{
		PingInterval: a.cfg.PingInterval,
	})
}

func (a *App) openBackend(ctx context.Context) (store.Backend, error) {
	switch a.cfg.LogStore {
	case config.StoreMemory:
		a.logger.Warn("using in-memory log store, entries are lost on restart")
		return store.NewMemory(), nil
	case config.StoreSQLite:
		backend, err := store.OpenSQLite(ctx, a.cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		a.logger.Info("sqlite log store opened", "path", a.cfg.DatabasePath)
		return backend, nil
	default:
		if a.cfg.MongoURI == "" {
			a.logger.Warn("MONGODB_URI not set, log persistence disabled")
			return nil, nil
		}
		backend, err := store.OpenMongo(ctx, a.cfg.MongoURI, a.cfg.MongoDatabase, a.cfg.MongoCollection, a.logger)
		if err != nil {
			// The relay stays up without persistence.
			a.logger.Error("mongo log store unavailable, log persistence disabled", "error", err)
			return nil, nil
		}
		return backend, nil
	}
}

func (a *App) startMirror(ctx context.Context) (relay.StatusSink, error) {
	if a.cfg.MQTTBroker == "" {
		return nil, nil
	}

	client, err := mirror.Connect(mirror.ClientConfig{
		Broker:   a.cfg.MQTTBroker,
		ClientID: a.cfg.MQTTClientID,
		Username: a.cfg.MQTTUsername,
		Password: a.cfg.MQTTPassword,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	m := mirror.New(client, a.cfg.MQTTTopic, a.logger)
	go func() {
		m.Run(ctx)
		client.Disconnect(250)
	}()
	return m, nil
}
