package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/storymap/internal/config"
	"github.com/okian/storymap/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

const testStories = `{"type":"FeatureCollection","features":[
{"type":"Feature","geometry":{"type":"Point","coordinates":[-0.12,51.5]},"properties":{"year":"2023","title":"A"}},
{"type":"Feature","geometry":{"type":"Point","coordinates":[2.35,48.85]},"properties":{"year":"2021","title":"B"}},
{"type":"Feature","geometry":{"type":"Point","coordinates":[13.4,52.52]},"properties":{"year":2021,"title":"C"}}
]}`

func TestRoutes(t *testing.T) {
	convey.Convey("Given the assembled application", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "stories.geojson")
		convey.So(os.WriteFile(path, []byte(testStories), 0o600), convey.ShouldBeNil)

		cfg := config.New()
		cfg.DatasetURL = path
		cfg.AccessToken = "pk.test"

		svc := newService(cfg, logger.Nop())
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		convey.Reset(func() { svc.Stop(ctx) })

		select {
		case <-svc.Loaded():
		case <-time.After(2 * time.Second):
		}
		mux := newMux(ctx, cfg, svc, logger.Nop())

		get := func(target string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
			return w
		}

		convey.Convey("Then every route answers", func() {
			for _, target := range []string{"/", "/storymap.js", "/api/config", "/api/years", "/data/stories.geojson", "/stats", "/healthz", "/api-docs", "/openapi.yaml"} {
				convey.So(get(target).Code, convey.ShouldEqual, http.StatusOK)
			}
		})

		convey.Convey("Then the client config reflects the configuration", func() {
			var body map[string]any
			convey.So(json.Unmarshal(get("/api/config").Body.Bytes(), &body), convey.ShouldBeNil)
			convey.So(body["accessToken"], convey.ShouldEqual, "pk.test")
			convey.So(body["dataUrl"], convey.ShouldEqual, dataPath)
			convey.So(body["zoom"], convey.ShouldEqual, 1.2)
		})

		convey.Convey("Then years come from the configured dataset", func() {
			convey.So(get("/api/years").Body.String(), convey.ShouldContainSubstring, `["2023","2021"]`)
		})
	})
}

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("Given the background metric updaters", t, func() {
		convey.Convey("When updating system metrics", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})

		convey.Convey("When updating service metrics", func() {
			svc := newService(config.New(), logger.Nop())
			convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
		})

		convey.Convey("When the context is cancelled the updaters return", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			done := make(chan struct{})
			go func() {
				startSystemMetricsUpdater(ctx)
				startServiceMetricsUpdater(ctx, newService(config.New(), logger.Nop()))
				close(done)
			}()
			returned := false
			select {
			case <-done:
				returned = true
			case <-time.After(time.Second):
			}
			convey.So(returned, convey.ShouldBeTrue)
		})
	})
}
