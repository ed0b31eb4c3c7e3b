package mapengine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/okian/storymap/internal/domain/model"
	"github.com/okian/storymap/internal/domain/style"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	. "github.com/smartystreets/goconvey/convey"
)

// pipeConn is an in-memory Conn: the test plays the browser on the other end.
type pipeConn struct {
	toServer chan []byte
	toClient chan map[string]any
	done     chan struct{}
	once     sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		toServer: make(chan []byte, 16),
		toClient: make(chan map[string]any, 16),
		done:     make(chan struct{}),
	}
}

func (c *pipeConn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	select {
	case c.toClient <- m:
		return nil
	case <-c.done:
		return io.ErrClosedPipe
	}
}

func (c *pipeConn) ReadJSON(v any) error {
	select {
	case b := <-c.toServer:
		return json.Unmarshal(b, v)
	case <-c.done:
		return io.EOF
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *pipeConn) browserSends(s string) { c.toServer <- []byte(s) }

func (c *pipeConn) next() map[string]any {
	select {
	case m := <-c.toClient:
		return m
	case <-time.After(2 * time.Second):
		return nil
	}
}

type eventSink struct {
	ch chan model.Event
}

func (s *eventSink) post(e model.Event) bool {
	s.ch <- e
	return true
}

func (s *eventSink) next() (model.Event, bool) {
	select {
	case e := <-s.ch:
		return e, true
	case <-time.After(2 * time.Second):
		return model.Event{}, false
	}
}

func TestRemoteCommands(t *testing.T) {
	Convey("Given a remote engine", t, func() {
		conn := newPipeConn()
		r := NewRemote(conn)
		ctx := context.Background()

		Convey("AddSource sends the clustered source spec", func() {
			So(r.AddSource(ctx, "stories", ClusteredSource("/data/stories.geojson", 50, 10)), ShouldBeNil)
			m := conn.next()
			So(m["type"], ShouldEqual, "add-source")
			So(m["source"], ShouldEqual, "stories")
			spec := m["spec"].(map[string]any)
			So(spec["cluster"], ShouldEqual, true)
			So(spec["clusterRadius"], ShouldEqual, 50.0)
			So(spec["clusterMaxZoom"], ShouldEqual, 10.0)
			So(spec["data"], ShouldEqual, "/data/stories.geojson")
		})

		Convey("AddLayer sends the layer with its step expressions", func() {
			So(r.AddLayer(ctx, style.DefaultLayers("stories")[0]), ShouldBeNil)
			m := conn.next()
			layer := m["layer"].(map[string]any)
			So(layer["id"], ShouldEqual, style.LayerClusters)
			paint := layer["paint"].(map[string]any)
			So(paint["circle-radius"].([]any)[0], ShouldEqual, "step")
		})

		Convey("SetData sends the collection", func() {
			fc := geojson.NewFeatureCollection()
			fc.Append(geojson.NewFeature(orb.Point{1, 2}))
			So(r.SetData(ctx, "stories", fc), ShouldBeNil)
			m := conn.next()
			So(m["type"], ShouldEqual, "set-data")
			So(len(m["data"].(map[string]any)["features"].([]any)), ShouldEqual, 1)
		})

		Convey("Popup, camera, cursor and options are sent", func() {
			So(r.ShowPopup(ctx, Popup{LngLat: orb.Point{181, 0}, HTML: "<b>x</b>", Offset: 12, CloseButton: true}), ShouldBeNil)
			So(conn.next()["popup"].(map[string]any)["lngLat"], ShouldResemble, []any{181.0, 0.0})

			So(r.EaseTo(ctx, Camera{Center: orb.Point{3, 4}, Zoom: 6}), ShouldBeNil)
			So(conn.next()["camera"].(map[string]any)["zoom"], ShouldEqual, 6.0)

			So(r.SetCursor(ctx, CursorDefault), ShouldBeNil)
			So(conn.next()["cursor"], ShouldEqual, "")

			So(r.ReplaceOptions(ctx, []string{"2023", "2021"}), ShouldBeNil)
			So(conn.next()["values"], ShouldResemble, []any{"2023", "2021"})

			So(r.Listen(ctx, model.EventClick, style.LayerPoints), ShouldBeNil)
			m := conn.next()
			So(m["event"], ShouldEqual, "click")
			So(m["target"], ShouldEqual, style.LayerPoints)
		})

		Convey("Writes after Close fail with ErrClosed", func() {
			So(r.Close(), ShouldBeNil)
			So(IsClosed(r.SetCursor(ctx, CursorPointer)), ShouldBeTrue)
		})
	})
}

func TestIsDecodeError(t *testing.T) {
	Convey("Only per-message decode failures are recoverable", t, func() {
		var msg inbound
		So(isDecodeError(json.Unmarshal([]byte(`{"type":"change","value":2021}`), &msg)), ShouldBeTrue)
		So(isDecodeError(json.Unmarshal([]byte(`{"type":`), &msg)), ShouldBeTrue)
		So(isDecodeError(io.EOF), ShouldBeFalse)
		So(isDecodeError(io.ErrClosedPipe), ShouldBeFalse)
	})
}

func TestRemoteRun(t *testing.T) {
	Convey("Given a running remote engine", t, func() {
		conn := newPipeConn()
		r := NewRemote(conn, WithCallTimeout(time.Second))
		sink := &eventSink{ch: make(chan model.Event, 8)}
		ctx, cancel := context.WithCancel(context.Background())
		runErr := make(chan error, 1)
		go func() { runErr <- r.Run(ctx, sink.post) }()

		Reset(func() {
			cancel()
			<-runErr
		})

		Convey("Browser events become session events", func() {
			conn.browserSends(`{"type":"click","layer":"unclustered-point","point":{"x":10,"y":20},"lngLat":{"lng":179,"lat":1},
				"features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[-179,1]},"properties":{"title":"T"}}]}`)

			ev, ok := sink.next()
			So(ok, ShouldBeTrue)
			So(ev.Type, ShouldEqual, model.EventClick)
			So(ev.Layer, ShouldEqual, style.LayerPoints)
			So(ev.Point, ShouldResemble, model.ScreenPoint{X: 10, Y: 20})
			So(ev.LngLat, ShouldResemble, orb.Point{179, 1})
			So(len(ev.Features), ShouldEqual, 1)
			So(ev.Features[0].Properties["title"], ShouldEqual, "T")

			conn.browserSends(`{"type":"change","value":"2021"}`)
			ev, _ = sink.next()
			So(ev.Type, ShouldEqual, model.EventChange)
			So(ev.Value, ShouldEqual, "2021")
		})

		Convey("A malformed message is skipped and the session keeps running", func() {
			conn.browserSends(`{"type":"change","value":2021}`)
			conn.browserSends(`{"type":"click",`)
			conn.browserSends(`{"type":"change","value":"2021"}`)

			ev, ok := sink.next()
			So(ok, ShouldBeTrue)
			So(ev.Type, ShouldEqual, model.EventChange)
			So(ev.Value, ShouldEqual, "2021")
			So(r.isClosed(), ShouldBeFalse)
		})

		Convey("Queries wait for the matching reply", func() {
			done := make(chan []*geojson.Feature, 1)
			go func() {
				fs, err := r.QueryRenderedFeatures(ctx, model.ScreenPoint{X: 1, Y: 2}, style.LayerClusters)
				if err != nil {
					done <- nil
					return
				}
				done <- fs
			}()

			cmd := conn.next()
			So(cmd["type"], ShouldEqual, "query")
			So(cmd["layers"], ShouldResemble, []any{style.LayerClusters})
			conn.browserSends(`{"type":"reply","id":"` + cmd["id"].(string) + `","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[5,6]},"properties":{"cluster_id":7,"point_count":12}}]}`)

			fs := <-done
			So(len(fs), ShouldEqual, 1)
			So(fs[0].Properties["cluster_id"], ShouldEqual, 7.0)
		})

		Convey("Cluster lookups come back as callback events", func() {
			var gotZoom float64
			var gotErr error
			r.ClusterExpansionZoom(ctx, "stories", 7, func(z float64, err error) { gotZoom, gotErr = z, err })

			cmd := conn.next()
			So(cmd["type"], ShouldEqual, "cluster-zoom")
			So(cmd["clusterId"], ShouldEqual, 7.0)
			conn.browserSends(`{"type":"reply","id":"` + cmd["id"].(string) + `","zoom":9}`)

			ev, ok := sink.next()
			So(ok, ShouldBeTrue)
			So(ev.Type, ShouldEqual, model.EventCallback)
			ev.Callback(ctx)
			So(gotErr, ShouldBeNil)
			So(gotZoom, ShouldEqual, 9.0)
		})

		Convey("A failed cluster lookup reports the error to the callback", func() {
			var gotErr error
			r.ClusterExpansionZoom(ctx, "stories", 3, func(_ float64, err error) { gotErr = err })

			cmd := conn.next()
			conn.browserSends(`{"type":"reply","id":"` + cmd["id"].(string) + `","error":"no such cluster"}`)

			ev, _ := sink.next()
			ev.Callback(ctx)
			So(errors.Is(gotErr, ErrEngine), ShouldBeTrue)
		})

		Convey("Engine errors go to the error handler instead of the session", func() {
			got := make(chan error, 1)
			r.OnError(func(err error) { got <- err })
			conn.browserSends(`{"type":"error","message":"tile failed"}`)

			select {
			case err := <-got:
				So(errors.Is(err, ErrEngine), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "tile failed")
			case <-time.After(2 * time.Second):
				So("error handler not called", ShouldBeEmpty)
			}
		})

		Convey("Default error handling swallows engine errors", func() {
			r.OnError(nil)
			conn.browserSends(`{"type":"error","message":"ignored"}`)
			conn.browserSends(`{"type":"load"}`)

			ev, ok := sink.next()
			So(ok, ShouldBeTrue)
			So(ev.Type, ShouldEqual, model.EventLoad)
		})

		Convey("Closing the connection ends Run and fails pending calls", func() {
			errCh := make(chan error, 1)
			go func() {
				_, err := r.QueryRenderedFeatures(ctx, model.ScreenPoint{}, style.LayerPoints)
				errCh <- err
			}()
			_ = conn.next()
			So(r.Close(), ShouldBeNil)

			So(IsClosed(<-errCh), ShouldBeTrue)
		})
	})
}
