package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/okian/storymap/internal/adapters/http/api"
	"github.com/okian/storymap/internal/adapters/mapengine"
	"github.com/okian/storymap/internal/adapters/repository"
	"github.com/okian/storymap/internal/domain/dataset"
	"github.com/okian/storymap/internal/domain/model"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeSession struct {
	id     string
	mu     sync.Mutex
	events []model.Event
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Post(ev model.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}

func (s *fakeSession) posted() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Event(nil), s.events...)
}

type mockDeps struct {
	store *repository.MemoryStore

	mu      sync.Mutex
	opened  chan mapengine.Engine
	session *fakeSession
	closed  []string
	openErr error
}

func newMockDeps() *mockDeps {
	return &mockDeps{
		store:   repository.NewMemoryStore(),
		opened:  make(chan mapengine.Engine, 1),
		session: &fakeSession{id: "s-1"},
	}
}

func (m *mockDeps) Years(ctx context.Context) ([]string, error) { return m.store.Years(ctx) }

func (m *mockDeps) Stories(ctx context.Context, year string) (*dataset.Collection, error) {
	return m.store.Filtered(ctx, year)
}

func (m *mockDeps) OpenSession(_ context.Context, engine mapengine.Engine, _ mapengine.Selector) (api.Session, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.opened <- engine
	return m.session, nil
}

func (m *mockDeps) CloseSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, id)
	return nil
}

type mockStats struct{}

func (mockStats) GetStats() map[string]interface{} {
	return map[string]interface{}{"sessions": 0, "started": true}
}

func stories() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, y := range []string{"2023", "2021", "2021"} {
		f := geojson.NewFeature(orb.Point{float64(i), 10})
		f.Properties["year"] = y
		fc.Append(f)
	}
	return fc
}

func newMux(deps *mockDeps) *http.ServeMux {
	mux := http.NewServeMux()
	client := api.ClientConfig{
		AccessToken:    "pk.test",
		StyleURL:       "mapbox://styles/mapbox/light-v11",
		Center:         [2]float64{0, 20},
		Zoom:           1.2,
		MaxZoom:        16,
		DataURL:        "/data/stories.geojson",
		ClusterRadius:  50,
		ClusterMaxZoom: 10,
	}
	api.NewServer(deps, mockStats{}, client).Register(context.Background(), mux)
	return mux
}

func get(mux *http.ServeMux, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestDatasetEndpoints(t *testing.T) {
	Convey("Given the API server", t, func() {
		ctx := context.Background()
		deps := newMockDeps()
		mux := newMux(deps)

		Convey("Before the dataset loads, reads ask the client to retry", func() {
			w := get(mux, "/api/years")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(w.Header().Get("Retry-After"), ShouldEqual, "1")
			So(w.Body.String(), ShouldContainSubstring, `"code":"not_ready"`)
		})

		Convey("When the dataset failed to load", func() {
			So(deps.store.Fail(ctx, fmt.Errorf("%w: timeout", dataset.ErrFetch)), ShouldBeNil)
			w := get(mux, "/data/stories.geojson")
			So(w.Code, ShouldEqual, http.StatusBadGateway)
			So(w.Body.String(), ShouldContainSubstring, "dataset_unavailable")
		})

		Convey("When the dataset is loaded", func() {
			So(deps.store.Put(ctx, stories()), ShouldBeNil)

			Convey("Then years are listed most recent first", func() {
				w := get(mux, "/api/years")
				So(w.Code, ShouldEqual, http.StatusOK)
				var body struct {
					Years []string `json:"years"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body.Years, ShouldResemble, []string{"2023", "2021"})
			})

			Convey("Then the full collection is served as GeoJSON", func() {
				w := get(mux, "/data/stories.geojson")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldEqual, "application/geo+json")
				fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
				So(err, ShouldBeNil)
				So(fc.Features, ShouldHaveLength, 3)
			})

			Convey("Then a year filter narrows the collection", func() {
				w := get(mux, "/data/stories.geojson?year=2021")
				fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
				So(err, ShouldBeNil)
				So(fc.Features, ShouldHaveLength, 2)
			})

			Convey("Then an overlong year is rejected", func() {
				w := get(mux, "/data/stories.geojson?year="+strings.Repeat("9", 65))
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("Non-GET requests are not routed", func() {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/years", nil))
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestConfigStatsHealth(t *testing.T) {
	Convey("Given the API server", t, func() {
		mux := newMux(newMockDeps())

		Convey("The client config carries the map bootstrap settings", func() {
			w := get(mux, "/api/config")
			So(w.Code, ShouldEqual, http.StatusOK)
			var cfg api.ClientConfig
			So(json.Unmarshal(w.Body.Bytes(), &cfg), ShouldBeNil)
			So(cfg.StyleURL, ShouldEqual, "mapbox://styles/mapbox/light-v11")
			So(cfg.Center, ShouldResemble, [2]float64{0, 20})
			So(cfg.SessionPath, ShouldEqual, "/ws")
			So(cfg.ClusterRadius, ShouldEqual, 50)
		})

		Convey("Stats are JSON", func() {
			w := get(mux, "/stats")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("Health exposes the metrics registry", func() {
			_ = get(mux, "/stats")
			w := get(mux, "/healthz")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "storymap_map_http_requests_total")
		})

		Convey("A plain GET on /ws is refused", func() {
			w := get(mux, "/ws")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestSessionSocket(t *testing.T) {
	Convey("Given a WebSocket client connected to /ws", t, func() {
		deps := newMockDeps()
		srv := httptest.NewServer(newMux(deps))
		Reset(srv.Close)

		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		So(err, ShouldBeNil)
		Reset(func() { _ = conn.Close() })

		var engine mapengine.Engine
		select {
		case engine = <-deps.opened:
		case <-time.After(2 * time.Second):
		}
		So(engine, ShouldNotBeNil)

		Convey("Browser events reach the session", func() {
			So(conn.WriteJSON(map[string]any{"type": "change", "value": "2021"}), ShouldBeNil)
			So(conn.WriteJSON(map[string]any{"type": "click", "layer": "unclustered-point", "lngLat": map[string]float64{"lng": 1, "lat": 2}}), ShouldBeNil)

			deadline := time.Now().Add(2 * time.Second)
			for len(deps.session.posted()) < 2 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			evs := deps.session.posted()
			So(evs, ShouldHaveLength, 2)
			So(evs[0].Type, ShouldEqual, model.EventChange)
			So(evs[0].Value, ShouldEqual, "2021")
			So(evs[1].Layer, ShouldEqual, "unclustered-point")
			So(evs[1].LngLat, ShouldResemble, orb.Point{1, 2})
		})

		Convey("Engine commands reach the browser", func() {
			So(engine.SetCursor(context.Background(), mapengine.CursorPointer), ShouldBeNil)

			var msg map[string]any
			So(conn.SetReadDeadline(time.Now().Add(2*time.Second)), ShouldBeNil)
			So(conn.ReadJSON(&msg), ShouldBeNil)
			So(msg["type"], ShouldEqual, "cursor")
			So(msg["cursor"], ShouldEqual, "pointer")
		})

		Convey("Disconnecting closes the session", func() {
			So(conn.Close(), ShouldBeNil)
			deadline := time.Now().Add(2 * time.Second)
			closed := func() int {
				deps.mu.Lock()
				defer deps.mu.Unlock()
				return len(deps.closed)
			}
			for closed() == 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			So(closed(), ShouldEqual, 1)
		})
	})
}
