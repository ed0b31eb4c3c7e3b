package service

import (
	"context"
	"sync"
	"time"

	"github.com/okian/storymap/internal/adapters/mapengine"
	"github.com/okian/storymap/internal/domain/model"
	"github.com/okian/storymap/internal/domain/style"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// fakeEngine records every call made against it.
type fakeEngine struct {
	mu sync.Mutex

	sources  map[string]mapengine.Source
	layers   []style.Layer
	data     []*geojson.FeatureCollection
	options  [][]string
	eased    []mapengine.Camera
	popups   []mapengine.Popup
	cursors  []string
	listened []Binding
	zoomReqs []int64
	onError  mapengine.ErrorHandler

	rendered []*geojson.Feature
	queryErr error
	setErr   error
	zoom     float64
	zoomErr  error

	// post, when set, delivers zoom callbacks as events like a remote engine.
	post func(model.Event) bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{sources: make(map[string]mapengine.Source)}
}

func (e *fakeEngine) AddSource(_ context.Context, id string, src mapengine.Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[id] = src
	return nil
}

func (e *fakeEngine) SetData(_ context.Context, _ string, fc *geojson.FeatureCollection) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.setErr != nil {
		return e.setErr
	}
	e.data = append(e.data, fc)
	return nil
}

func (e *fakeEngine) AddLayer(_ context.Context, layer style.Layer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.layers = append(e.layers, layer)
	return nil
}

func (e *fakeEngine) QueryRenderedFeatures(_ context.Context, _ model.ScreenPoint, _ ...string) ([]*geojson.Feature, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rendered, e.queryErr
}

func (e *fakeEngine) ClusterExpansionZoom(ctx context.Context, _ string, clusterID int64, cb mapengine.ZoomCallback) {
	e.mu.Lock()
	e.zoomReqs = append(e.zoomReqs, clusterID)
	zoom, err, post := e.zoom, e.zoomErr, e.post
	e.mu.Unlock()

	if post == nil {
		cb(zoom, err)
		return
	}
	go post(model.Event{Type: model.EventCallback, Callback: func(context.Context) { cb(zoom, err) }})
}

func (e *fakeEngine) EaseTo(_ context.Context, cam mapengine.Camera) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eased = append(e.eased, cam)
	return nil
}

func (e *fakeEngine) ShowPopup(_ context.Context, p mapengine.Popup) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.popups = append(e.popups, p)
	return nil
}

func (e *fakeEngine) SetCursor(_ context.Context, cursor string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cursors = append(e.cursors, cursor)
	return nil
}

func (e *fakeEngine) OnError(h mapengine.ErrorHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = h
}

func (e *fakeEngine) ReplaceOptions(_ context.Context, values []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.options = append(e.options, append([]string(nil), values...))
	return nil
}

func (e *fakeEngine) Listen(_ context.Context, event model.EventType, layer string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listened = append(e.listened, Binding{Event: event, Layer: layer})
	return nil
}

// snapshot runs fn under the engine lock.
func (e *fakeEngine) snapshot(fn func(e *fakeEngine)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
}

func (e *fakeEngine) lastData() *geojson.FeatureCollection {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.data) == 0 {
		return nil
	}
	return e.data[len(e.data)-1]
}

func (e *fakeEngine) dataCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.data)
}

var (
	_ mapengine.Engine   = (*fakeEngine)(nil)
	_ mapengine.Selector = (*fakeEngine)(nil)
	_ mapengine.Listener = (*fakeEngine)(nil)
)

// eventually polls cond until it holds or a second passes.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func story(lng, lat float64, props map[string]any) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{lng, lat})
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

// threeStories has years 2023, 2021 and 2021.
func threeStories() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Append(story(-0.12, 51.5, map[string]any{"year": "2023", "title": "A"}))
	fc.Append(story(2.35, 48.85, map[string]any{"year": 2021, "title": "B"}))
	fc.Append(story(13.4, 52.52, map[string]any{"year": " 2021 ", "title": "C"}))
	return fc
}

func dataEvent() model.Event {
	return model.Event{Type: model.EventChange, Value: "2021"}
}
