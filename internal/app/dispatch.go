package service

import (
	"context"
	"sync"

	"github.com/okian/storymap/internal/adapters/mq/worker"
	"github.com/okian/storymap/internal/domain/model"
)

// Binding names the events a handler is subscribed to. An empty Layer
// matches map-wide events only.
type Binding struct {
	Event model.EventType
	Layer string
}

// Dispatcher routes session events to the handlers subscribed for their
// type and layer. Handlers for one binding run in subscription order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Binding][]worker.Handler
	order    []Binding
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Binding][]worker.Handler)}
}

// Subscribe registers h for events of type event bound to layer.
func (d *Dispatcher) Subscribe(event model.EventType, layer string, h worker.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b := Binding{Event: event, Layer: layer}
	if _, ok := d.handlers[b]; !ok {
		d.order = append(d.order, b)
	}
	d.handlers[b] = append(d.handlers[b], h)
}

// SubscribeFunc is Subscribe for plain functions.
func (d *Dispatcher) SubscribeFunc(event model.EventType, layer string, fn func(ctx context.Context, e model.Event)) {
	d.Subscribe(event, layer, worker.HandlerFunc(fn))
}

// Bindings returns every subscribed binding in first-subscription order.
func (d *Dispatcher) Bindings() []Binding {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Binding(nil), d.order...)
}

// Handle implements worker.Handler. Events with no subscriber are dropped.
func (d *Dispatcher) Handle(ctx context.Context, e model.Event) { //nolint:gocritic // hugeParam: Event is passed by value from the queue
	d.mu.RLock()
	hs := d.handlers[Binding{Event: e.Type, Layer: e.Layer}]
	d.mu.RUnlock()

	for _, h := range hs {
		h.Handle(ctx, e)
	}
}

var _ worker.Handler = (*Dispatcher)(nil)
