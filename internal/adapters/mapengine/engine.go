// Package mapengine is the boundary to the map rendering engine.
//
// The engine owns tiling, clustering, projection and drawing. Callers only
// register a source and its layers, replace the source data, ask what is
// rendered under a screen point, ask when a cluster splits, move the camera
// and open popups.
package mapengine

import (
	"context"

	"github.com/okian/storymap/internal/domain/model"
	"github.com/okian/storymap/internal/domain/style"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Cursor values for SetCursor.
const (
	CursorDefault = ""
	CursorPointer = "pointer"
)

// Source is a clustered GeoJSON source. Data is either a URL the engine
// fetches itself or an inline FeatureCollection.
type Source struct {
	Type           string `json:"type"`
	Data           any    `json:"data"`
	Cluster        bool   `json:"cluster"`
	ClusterMaxZoom int    `json:"clusterMaxZoom,omitempty"`
	ClusterRadius  int    `json:"clusterRadius,omitempty"`
}

// ClusteredSource builds a GeoJSON source with clustering enabled.
func ClusteredSource(data any, radius, maxZoom int) Source {
	return Source{
		Type:           "geojson",
		Data:           data,
		Cluster:        true,
		ClusterMaxZoom: maxZoom,
		ClusterRadius:  radius,
	}
}

// Camera is an animated camera target.
type Camera struct {
	Center orb.Point `json:"center"`
	Zoom   float64   `json:"zoom"`
}

// Popup is a dismissible overlay anchored at a coordinate. HTML must already
// be sanitized.
type Popup struct {
	LngLat      orb.Point `json:"lngLat"`
	HTML        string    `json:"html"`
	Offset      int       `json:"offset"`
	CloseButton bool      `json:"closeButton"`
}

// ZoomCallback receives the result of a cluster expansion lookup.
type ZoomCallback func(zoom float64, err error)

// ErrorHandler receives errors the engine reports on its own.
type ErrorHandler func(err error)

// Engine is the rendering engine contract.
type Engine interface {
	AddSource(ctx context.Context, id string, src Source) error
	SetData(ctx context.Context, sourceID string, fc *geojson.FeatureCollection) error
	AddLayer(ctx context.Context, layer style.Layer) error

	// QueryRenderedFeatures lists features drawn at pt, restricted to layers.
	QueryRenderedFeatures(ctx context.Context, pt model.ScreenPoint, layers ...string) ([]*geojson.Feature, error)

	// ClusterExpansionZoom resolves, asynchronously, the zoom at which the
	// cluster splits. cb runs later on the caller's event loop.
	ClusterExpansionZoom(ctx context.Context, sourceID string, clusterID int64, cb ZoomCallback)

	EaseTo(ctx context.Context, cam Camera) error
	ShowPopup(ctx context.Context, p Popup) error
	SetCursor(ctx context.Context, cursor string) error

	// OnError replaces the engine error handler. A nil handler restores the
	// default, which swallows the error.
	OnError(h ErrorHandler)
}

// Selector is the year dropdown.
type Selector interface {
	// ReplaceOptions keeps the first option ("All") and replaces every other
	// option with values, in order.
	ReplaceOptions(ctx context.Context, values []string) error
}

// Listener is implemented by engines that must be told which layer-scoped
// events to forward.
type Listener interface {
	Listen(ctx context.Context, event model.EventType, layer string) error
}
