// Package model contains the interaction events passed between the map
// session transport and the controllers.
package model

import (
	"context"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// EventType names an interaction event.
type EventType string

// Event types. The first group originates in the browser, the second is
// posted by the server itself when asynchronous work completes.
const (
	EventLoad       EventType = "load"
	EventClick      EventType = "click"
	EventMouseEnter EventType = "mouseenter"
	EventMouseLeave EventType = "mouseleave"
	EventChange     EventType = "change"
	EventError      EventType = "error"

	EventDatasetLoaded EventType = "dataset-loaded"
	EventDatasetFailed EventType = "dataset-failed"
	EventCallback      EventType = "callback"
)

// ScreenPoint is a pixel position on the map canvas.
type ScreenPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Event is one unit of work for a session loop.
type Event struct {
	Type  EventType
	Layer string // layer the event was bound to, empty for map-wide events

	Point    ScreenPoint        // click/hover position
	LngLat   orb.Point          // geographic position under Point
	Features []*geojson.Feature // rendered features under Point, topmost first

	Value string // selector value for EventChange, message for EventError

	Collection *geojson.FeatureCollection // EventDatasetLoaded
	Err        error                      // EventDatasetFailed, EventError

	Callback func(ctx context.Context) // EventCallback

	At time.Time
}
