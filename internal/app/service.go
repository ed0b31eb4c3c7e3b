// Package service wires the dataset store and the per-browser map sessions
// behind the HTTP API.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/storymap/internal/adapters/mapengine"
	"github.com/okian/storymap/internal/adapters/repository"
	"github.com/okian/storymap/internal/domain/dataset"
	"github.com/okian/storymap/pkg/logger"
	"github.com/okian/storymap/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultResource     = "data/stories.geojson"
	defaultFetchTimeout = 15 * time.Second
	defaultCloseTimeout = 5 * time.Second
)

// Service owns the story dataset and the open map sessions.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	sessions map[string]*Session

	// Configuration
	resource     string
	fetchTimeout time.Duration
	loadOpts     []dataset.Option
	sessionCfg   SessionConfig

	// State
	started  bool
	cancel   context.CancelFunc
	loaded   chan struct{}
	loadOnce sync.Once

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDatasetResource sets the path or URL the dataset is loaded from.
func WithDatasetResource(resource string) Option {
	return func(s *Service) {
		if resource != "" {
			s.resource = resource
		}
	}
}

// WithFetchTimeout bounds the dataset load.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithLoaderOptions passes options through to dataset.Load.
func WithLoaderOptions(opts ...dataset.Option) Option {
	return func(s *Service) {
		s.loadOpts = append(s.loadOpts, opts...)
	}
}

// WithSessionConfig sets the map settings applied to every session.
func WithSessionConfig(cfg SessionConfig) Option {
	return func(s *Service) {
		s.sessionCfg = cfg
	}
}

// WithStore replaces the dataset store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(lg logger.Logger) Option {
	return func(s *Service) {
		if lg != nil {
			s.logger = lg
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		sessions:     make(map[string]*Session),
		resource:     defaultResource,
		fetchTimeout: defaultFetchTimeout,
		loaded:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	s.sessionCfg = s.sessionCfg.withDefaults()
	return s
}

// Start begins loading the dataset in the background. A load failure is
// recorded in the store and never stops the service.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting story map service...",
		logger.String("dataset", s.resource),
	)

	s.loadOnce.Do(func() {
		var loadCtx context.Context
		loadCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
		go s.loadDataset(loadCtx)
	})

	s.started = true
	s.logger.Info(ctx, "story map service started",
		logger.Int("clusterRadius", s.sessionCfg.ClusterRadius),
		logger.Int("clusterMaxZoom", s.sessionCfg.ClusterMaxZoom),
		logger.Int("sessionQueue", s.sessionCfg.QueueSize),
	)
	return nil
}

func (s *Service) loadDataset(ctx context.Context) {
	defer close(s.loaded)

	start := time.Now()
	opts := append([]dataset.Option{dataset.WithTimeout(s.fetchTimeout)}, s.loadOpts...)
	c, err := dataset.Load(ctx, s.resource, opts...)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		metrics.RecordDatasetLoad("error", elapsed)
		metrics.RecordErrorByComponent("dataset", "load_failed")
		s.logger.Error(ctx, "dataset load failed", logger.String("dataset", s.resource), logger.Error(err))
		if ferr := s.store.Fail(ctx, err); ferr != nil {
			s.logger.Warn(ctx, "record dataset failure", logger.Error(ferr))
		}
		return
	}

	c, dropped := dataset.Clean(c)
	if dropped > 0 {
		s.logger.Warn(ctx, "dropped stories without a usable point", logger.Int("dropped", dropped))
	}
	if err := s.store.Put(ctx, c); err != nil {
		s.logger.Warn(ctx, "store dataset", logger.Error(err))
		return
	}
	metrics.RecordDatasetLoad("ok", elapsed)
	s.logger.Info(ctx, "dataset loaded",
		logger.Int("features", len(c.Features)),
		logger.Float64("ms", elapsed),
	)
}

// Loaded is closed once the dataset load has finished, successfully or not.
func (s *Service) Loaded() <-chan struct{} { return s.loaded }

// OpenSession starts a map session over engine and selector.
func (s *Service) OpenSession(ctx context.Context, engine mapengine.Engine, selector mapengine.Selector) (*Session, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	id := uuid.NewString()
	sess := NewSession(id, engine, selector, s.store, s.sessionCfg, s.logger)
	s.sessions[id] = sess
	active := len(s.sessions)
	s.mu.Unlock()

	metrics.UpdateSessionsActive(active)
	if err := sess.Start(ctx); err != nil {
		_ = s.CloseSession(ctx, id)
		return nil, err
	}
	s.logger.Debug(ctx, "session opened", logger.String("session", id))
	return sess, nil
}

// CloseSession stops and forgets the session with the given id.
func (s *Service) CloseSession(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	active := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	metrics.UpdateSessionsActive(active)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultCloseTimeout)
	defer cancel()
	s.logger.Debug(ctx, "session closed", logger.String("session", id))
	return sess.Close(ctx)
}

// Years returns the dataset's year options.
func (s *Service) Years(ctx context.Context) ([]string, error) {
	return s.store.Years(ctx)
}

// Stories returns the stories of year, or all of them for "" or "all".
func (s *Service) Stories(ctx context.Context, year string) (*dataset.Collection, error) {
	return s.store.Filtered(ctx, year)
}

// Ready reports whether the dataset is available.
func (s *Service) Ready(ctx context.Context) bool {
	_, err := s.store.Get(ctx)
	return err == nil
}

// Stop closes every session and abandons an unfinished load.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.logger.Info(ctx, "stopping story map service...")

	sessions := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		sessions = append(sessions, id)
	}
	cancel := s.cancel
	s.started = false
	s.mu.Unlock()

	var errs []error
	for _, id := range sessions {
		if err := s.CloseSession(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if cancel != nil {
		cancel()
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Warn(ctx, "sessions did not stop cleanly", logger.Error(err))
	}
	s.logger.Info(ctx, "story map service stopped")
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":        s.started,
		"dataset":        s.resource,
		"sessions":       len(s.sessions),
		"clusterRadius":  s.sessionCfg.ClusterRadius,
		"clusterMaxZoom": s.sessionCfg.ClusterMaxZoom,
	}

	pending := 0
	for _, sess := range s.sessions {
		pending += sess.Pending(ctx)
	}
	stats["pendingEvents"] = pending
	stats["totalStories"] = s.store.Count(ctx)

	if _, err := s.store.Get(ctx); err != nil {
		stats["datasetError"] = err.Error()
	} else if years, err := s.store.Years(ctx); err == nil {
		stats["years"] = len(years)
	}

	metrics.UpdateSessionsActive(len(s.sessions))
	return stats
}
