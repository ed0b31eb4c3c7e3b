package site

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSiteHandler(t *testing.T) {
	Convey("Given a registered site", t, func() {
		mux := http.NewServeMux()
		Register(context.Background(), mux)

		serve := func(method, target string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(method, target, nil))
			return w
		}

		Convey("The root serves the map page with the year selector", func() {
			w := serve(http.MethodGet, "/")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldContainSubstring, "text/html")
			So(w.Body.String(), ShouldContainSubstring, `<select id="year-filter">`)
			So(w.Body.String(), ShouldContainSubstring, `<option value="all">All</option>`)
		})

		Convey("The shim and stylesheet are served", func() {
			js := serve(http.MethodGet, "/storymap.js")
			So(js.Code, ShouldEqual, http.StatusOK)
			So(js.Body.String(), ShouldContainSubstring, "'cluster-zoom'")
			So(js.Header().Get("Cache-Control"), ShouldEqual, "no-cache")

			css := serve(http.MethodGet, "/storymap.css")
			So(css.Code, ShouldEqual, http.StatusOK)
			So(css.Body.String(), ShouldContainSubstring, ".popup-title")
		})

		Convey("Unknown assets are not found", func() {
			So(serve(http.MethodGet, "/missing.js").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Writes are refused", func() {
			So(serve(http.MethodPost, "/").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestSiteHandlerWithNilMux(t *testing.T) {
	Convey("Registering on a nil mux panics", t, func() {
		So(func() { Register(context.Background(), nil) }, ShouldPanic)
	})
}
