package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/storymap/internal/adapters/mapengine"
	"github.com/okian/storymap/internal/adapters/mq/queue"
	"github.com/okian/storymap/internal/adapters/mq/worker"
	"github.com/okian/storymap/internal/adapters/repository"
	"github.com/okian/storymap/internal/domain/model"
	"github.com/okian/storymap/internal/domain/style"
	"github.com/okian/storymap/pkg/logger"
)

// Default session configuration constants.
const (
	SourceID = "stories"

	defaultDataURL        = "/data/stories.geojson"
	defaultClusterRadius  = 50
	defaultClusterMaxZoom = 10
	defaultSessionQueue   = 256
)

// SessionConfig tunes the map a session sets up.
type SessionConfig struct {
	DataURL        string
	ClusterRadius  int
	ClusterMaxZoom int
	QueueSize      int
	PopupOffset    int
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.DataURL == "" {
		c.DataURL = defaultDataURL
	}
	if c.ClusterRadius <= 0 {
		c.ClusterRadius = defaultClusterRadius
	}
	if c.ClusterMaxZoom <= 0 {
		c.ClusterMaxZoom = defaultClusterMaxZoom
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultSessionQueue
	}
	if c.PopupOffset <= 0 {
		c.PopupOffset = defaultPopupOffset
	}
	return c
}

// Session is one browser map. Every event it receives is handled on a
// single loop goroutine in arrival order.
type Session struct {
	id     string
	cfg    SessionConfig
	engine mapengine.Engine
	store  repository.Store

	queue      *queue.InMemoryQueue
	loop       *worker.Loop
	dispatcher *Dispatcher

	filter      *FilterController
	interaction *InteractionController

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
	loaded  bool

	logger logger.Logger
}

// NewSession wires the controllers of one map onto a fresh loop.
func NewSession(id string, engine mapengine.Engine, selector mapengine.Selector, store repository.Store, cfg SessionConfig, lg logger.Logger) *Session {
	if lg == nil {
		lg = logger.Nop()
	}
	cfg = cfg.withDefaults()
	lg = lg.With(logger.String("session", id))

	s := &Session{
		id:         id,
		cfg:        cfg,
		engine:     engine,
		store:      store,
		queue:      queue.NewInMemoryQueue(queue.WithCapacity(cfg.QueueSize)),
		dispatcher: NewDispatcher(),
		logger:     lg.Named("session"),
	}
	s.filter = NewFilterController(engine, selector, SourceID, lg)
	s.interaction = NewInteractionController(engine, SourceID, cfg.PopupOffset, lg)
	s.loop = worker.NewLoop(s.queue, s.dispatcher, worker.WithName("session"), worker.WithLogger(lg))

	s.dispatcher.SubscribeFunc(model.EventLoad, "", s.handleLoad)
	s.dispatcher.SubscribeFunc(model.EventChange, "", func(ctx context.Context, e model.Event) {
		s.filter.HandleChange(ctx, e.Value)
	})
	s.dispatcher.SubscribeFunc(model.EventDatasetLoaded, "", func(ctx context.Context, e model.Event) {
		s.filter.HandleLoaded(ctx, e.Collection)
	})
	s.dispatcher.SubscribeFunc(model.EventDatasetFailed, "", func(ctx context.Context, e model.Event) {
		s.filter.HandleLoadFailed(ctx, e.Err)
	})
	s.dispatcher.SubscribeFunc(model.EventCallback, "", func(ctx context.Context, e model.Event) {
		if e.Callback != nil {
			e.Callback(ctx)
		}
	})
	s.interaction.Subscribe(s.dispatcher)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Filter exposes the session's filter state.
func (s *Session) Filter() *FilterController { return s.filter }

// Start runs the loop and asks a listening engine to forward the layer
// events the session handles.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.mu.Unlock()

	go s.loop.Run(s.ctx)

	if l, ok := s.engine.(mapengine.Listener); ok {
		for _, b := range s.dispatcher.Bindings() {
			if b.Layer == "" {
				continue
			}
			if err := l.Listen(s.ctx, b.Event, b.Layer); err != nil {
				return err
			}
		}
	}
	return nil
}

// Post queues ev for the loop. It reports false when the session is closed
// or its queue is full.
func (s *Session) Post(ev model.Event) bool { //nolint:gocritic // hugeParam: Event is passed by value into the queue
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	return s.queue.Enqueue(ctx, ev)
}

// handleLoad declares the clustered source and its layers, then starts
// waiting for the dataset.
func (s *Session) handleLoad(ctx context.Context, _ model.Event) { //nolint:gocritic // hugeParam: Event is passed by value from the queue
	if s.loaded {
		return
	}
	s.loaded = true

	src := mapengine.ClusteredSource(s.cfg.DataURL, s.cfg.ClusterRadius, s.cfg.ClusterMaxZoom)
	if err := s.engine.AddSource(ctx, SourceID, src); err != nil {
		s.logger.Warn(ctx, "add source failed", logger.Error(err))
	}
	for _, layer := range style.DefaultLayers(SourceID) {
		if err := s.engine.AddLayer(ctx, layer); err != nil {
			s.logger.Warn(ctx, "add layer failed", logger.String("layer", layer.ID), logger.Error(err))
		}
	}

	go s.awaitDataset(ctx)
}

func (s *Session) awaitDataset(ctx context.Context) {
	c, err := s.store.Wait(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	ev := model.Event{Type: model.EventDatasetLoaded, Collection: c, At: time.Now()}
	if err != nil {
		ev = model.Event{Type: model.EventDatasetFailed, Err: err, At: time.Now()}
	}
	if !s.Post(ev) {
		s.logger.Warn(ctx, "dropping dataset event", logger.String("type", string(ev.Type)))
	}
}

// Close stops the loop. Queued events are discarded.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = s.queue.Close()
	if !started {
		return nil
	}
	return s.loop.Shutdown(ctx)
}

// Pending returns the number of queued events.
func (s *Session) Pending(ctx context.Context) int {
	return s.queue.Len(ctx)
}
