package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/storymap/internal/adapters/http/api"
	"github.com/okian/storymap/internal/adapters/http/site"
	"github.com/okian/storymap/internal/adapters/http/swagger"
	"github.com/okian/storymap/internal/adapters/mapengine"
	app "github.com/okian/storymap/internal/app"
	"github.com/okian/storymap/internal/config"
	"github.com/okian/storymap/pkg/logger"
	"github.com/okian/storymap/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
	dataPath                  = "/data/stories.geojson"
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() { _ = logger.Sync() }()

	loggerInstance := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc := newService(cfg, loggerInstance)
	if err := svc.Start(ctx); err != nil {
		loggerInstance.Error(ctx, "failed to start service", logger.Error(err))
		return
	}
	defer svc.Stop(context.WithoutCancel(ctx))

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, cfg, svc, loggerInstance),
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		loggerInstance.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			loggerInstance.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	loggerInstance.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	loggerInstance.Info(ctx, "server stopped")
}

// newService builds the story map service from configuration.
func newService(cfg *config.Config, lg logger.Logger) *app.Service {
	return app.New(
		app.WithLogger(lg),
		app.WithDatasetResource(cfg.DatasetURL),
		app.WithFetchTimeout(cfg.FetchTimeout()),
		app.WithSessionConfig(app.SessionConfig{
			DataURL:        dataPath,
			ClusterRadius:  cfg.ClusterRadius,
			ClusterMaxZoom: cfg.ClusterMaxZoom,
			QueueSize:      cfg.SessionQueueSize,
			PopupOffset:    cfg.PopupOffset,
		}),
	)
}

// newMux registers every route: API, docs and the map page.
func newMux(ctx context.Context, cfg *config.Config, svc *app.Service, lg logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	swagger.Register(ctx, mux)

	client := api.ClientConfig{
		AccessToken:    cfg.AccessToken,
		StyleURL:       cfg.StyleURL,
		Center:         [2]float64{cfg.CenterLng, cfg.CenterLat},
		Zoom:           cfg.Zoom,
		MaxZoom:        cfg.MaxZoom,
		DataURL:        dataPath,
		ClusterRadius:  cfg.ClusterRadius,
		ClusterMaxZoom: cfg.ClusterMaxZoom,
	}
	api.NewServer(apiDeps{svc}, svc, client, api.WithLogger(lg)).Register(ctx, mux)

	site.Register(ctx, mux)
	return mux
}

// apiDeps adapts *app.Service to api.Dependencies.
type apiDeps struct {
	*app.Service
}

func (d apiDeps) OpenSession(ctx context.Context, engine mapengine.Engine, selector mapengine.Selector) (api.Session, error) {
	sess, err := d.Service.OpenSession(ctx, engine, selector)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)

	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics refreshes gauges derived from service stats.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()

	if pending, ok := stats["pendingEvents"].(int); ok {
		metrics.UpdateQueueSize(pending)
	}
	if sessions, ok := stats["sessions"].(int); ok {
		metrics.UpdateSessionsActive(sessions)
	}
}
