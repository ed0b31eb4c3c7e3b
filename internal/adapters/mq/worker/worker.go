// Package worker runs the single-consumer event loop behind each map session.
//
// A Loop drains one queue and hands every event to its Handler on the same
// goroutine. A handler runs to completion before the next event is read, so
// handlers never observe each other's partial state and need no locking.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/okian/storymap/internal/adapters/mq/queue"
	"github.com/okian/storymap/internal/domain/model"
	"github.com/okian/storymap/pkg/logger"
	"github.com/okian/storymap/pkg/metrics"
)

// Event abstracts what the loop reads off the queue.
type Event = model.Event

// Queue defines how the loop receives events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Handler processes one event.
type Handler interface {
	Handle(ctx context.Context, e Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e Event)

// Handle calls f(ctx, e).
func (f HandlerFunc) Handle(ctx context.Context, e Event) { f(ctx, e) }

// Loop is a run-to-completion event loop over one queue.
type Loop struct {
	queue   Queue
	handler Handler
	name    string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewLoop creates a loop with configuration options.
func NewLoop(q Queue, h Handler, opts ...Option) *Loop {
	l := &Loop{
		queue:    q,
		handler:  h,
		name:     "loop",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Nop(),
	}

	for _, opt := range opts {
		opt(l)
	}

	l.logger = l.logger.Named(l.name)
	return l
}

// Run reads events until ctx is cancelled, Shutdown is called or the queue
// is closed and drained.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	events := l.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.shutdown:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := l.process(ctx, ev); err != nil {
				l.logger.Error(ctx, "event handler failed",
					logger.String("type", string(ev.Type)),
					logger.String("layer", ev.Layer),
					logger.Error(err),
				)
			}
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Shutdown stops the loop and waits for the current handler to return.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() { close(l.shutdown) })

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		l.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process runs the handler for one event. A panicking handler is reported
// as an error and the loop keeps going.
func (l *Loop) process(ctx context.Context, ev Event) (err error) { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	start := time.Now()
	metrics.RecordQueueDequeue()
	metrics.RecordSessionEvent(string(ev.Type))

	defer func() {
		metrics.RecordHandlerLatency(float64(time.Since(start).Microseconds()) / 1000)
		if r := recover(); r != nil {
			metrics.RecordErrorByComponent("loop", "handler_panic")
			metrics.RecordErrorByType("handler_panic", "high")
			l.logger.Debug(ctx, "handler panic stack", logger.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	l.handler.Handle(ctx, ev)
	return nil
}

var _ Queue = (*queue.InMemoryQueue)(nil)
