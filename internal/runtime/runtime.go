package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/globalecho/internal/bus"
	"github.com/loqalabs/globalecho/internal/config"
	"github.com/loqalabs/globalecho/internal/eventstore"
	"github.com/loqalabs/globalecho/internal/gateway"
	"github.com/loqalabs/globalecho/internal/natsserver"
	"github.com/loqalabs/globalecho/internal/translate"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	metricsSrv  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	addrMu sync.Mutex
	addr   string

	nats  *natsserver.EmbeddedServer
	bus   *bus.Client
	store *eventstore.Store
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Addr returns the address the gateway listens on once started.
func (r *Runtime) Addr() string {
	r.addrMu.Lock()
	defer r.addrMu.Unlock()
	return r.addr
}

// Ready reports whether the runtime is serving requests.
func (r *Runtime) Ready() bool { return r.ready.Load() }

// Start brings up telemetry, storage, the bus and the HTTP gateway, then
// blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startStorage(ctx); err != nil {
		r.shutdown()
		return err
	}
	if err := r.startBus(ctx); err != nil {
		r.shutdown()
		return err
	}

	translator, err := translate.New(r.cfg.Translate, r.logger)
	if err != nil {
		r.shutdown()
		return fmt.Errorf("failed to create translator: %w", err)
	}

	var recorder gateway.Recorder
	if r.store != nil {
		recorder = r.store
	}
	var publisher gateway.Publisher
	if r.bus != nil {
		publisher = r.bus
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	gateway.NewHandler(r.cfg.Translate, translator, recorder, publisher, r.logger).Routes(mux)

	if metricsHandler != nil {
		if r.cfg.Telemetry.PrometheusBind == "" {
			mux.Handle("/metrics", metricsHandler)
		} else if err := r.startMetrics(metricsHandler); err != nil {
			r.shutdown()
			return err
		}
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		r.shutdown()
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r.addrMu.Lock()
	r.addr = ln.Addr().String()
	r.addrMu.Unlock()

	r.httpServer = &http.Server{
		Handler:           loggingMiddleware(r.logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	if r.store != nil {
		r.wg.Add(1)
		go r.pruneLoop(ctx)
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", ln.Addr().String()),
		slog.String("translate_mode", r.cfg.Translate.Mode),
		slog.Bool("bus", r.bus != nil))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	r.shutdown()
	return nil
}

func (r *Runtime) startStorage(ctx context.Context) error {
	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	if err := store.Ensure(); err != nil {
		_ = store.Close()
		return fmt.Errorf("event store check failed: %w", err)
	}
	r.store = store
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	es, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "natsserver")))
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.nats = es
	if es != nil {
		busCfg.Servers = []string{es.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r.bus = client
	return nil
}

func (r *Runtime) startMetrics(handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	ln, err := net.Listen("tcp", r.cfg.Telemetry.PrometheusBind)
	if err != nil {
		return fmt.Errorf("listen metrics %s: %w", r.cfg.Telemetry.PrometheusBind, err)
	}
	r.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("metrics listening", slog.String("addr", ln.Addr().String()))
	return nil
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	for _, srv := range []*http.Server{r.httpServer, r.metricsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.bus != nil {
		r.bus.Close()
	}
	r.nats.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
