package service

import (
	"context"
	"encoding/json"
	"math"

	"github.com/okian/storymap/internal/adapters/mapengine"
	"github.com/okian/storymap/internal/domain/dataset"
	"github.com/okian/storymap/internal/domain/model"
	"github.com/okian/storymap/internal/domain/popup"
	"github.com/okian/storymap/internal/domain/style"
	"github.com/okian/storymap/pkg/logger"
	"github.com/okian/storymap/pkg/metrics"
	"github.com/paulmach/orb"
)

const defaultPopupOffset = 12

// InteractionController reacts to clicks and hovers on the story layers.
type InteractionController struct {
	engine      mapengine.Engine
	sourceID    string
	popupOffset int
	logger      logger.Logger
}

// NewInteractionController creates a controller acting on sourceID's layers.
func NewInteractionController(engine mapengine.Engine, sourceID string, popupOffset int, lg logger.Logger) *InteractionController {
	if lg == nil {
		lg = logger.Nop()
	}
	if popupOffset <= 0 {
		popupOffset = defaultPopupOffset
	}
	return &InteractionController{
		engine:      engine,
		sourceID:    sourceID,
		popupOffset: popupOffset,
		logger:      lg.Named("interaction"),
	}
}

// Subscribe binds the controller's handlers on d.
func (c *InteractionController) Subscribe(d *Dispatcher) {
	d.SubscribeFunc(model.EventClick, style.LayerClusters, c.HandleClusterClick)
	d.SubscribeFunc(model.EventClick, style.LayerPoints, c.HandlePointClick)
	for _, layer := range []string{style.LayerClusters, style.LayerPoints} {
		d.SubscribeFunc(model.EventMouseEnter, layer, c.HandleHover)
		d.SubscribeFunc(model.EventMouseLeave, layer, c.HandleHover)
	}
}

// HandleClusterClick zooms the camera to the level at which the clicked
// cluster splits. Lookup failures leave the camera where it is.
func (c *InteractionController) HandleClusterClick(ctx context.Context, ev model.Event) { //nolint:gocritic // hugeParam: Event is passed by value from the queue
	features, err := c.engine.QueryRenderedFeatures(ctx, ev.Point, style.LayerClusters)
	if err != nil {
		c.logger.Debug(ctx, "query rendered clusters failed", logger.Error(err))
		return
	}
	if len(features) == 0 {
		return
	}

	f := features[0]
	id, ok := clusterID(f.Properties[style.PropClusterID])
	if !ok {
		c.logger.Debug(ctx, "cluster feature without cluster id")
		return
	}
	center, ok := dataset.Coordinate(f)
	if !ok {
		return
	}

	c.engine.ClusterExpansionZoom(ctx, c.sourceID, id, func(zoom float64, err error) {
		if err != nil {
			metrics.RecordClusterExpansion("error")
			c.logger.Debug(ctx, "cluster expansion zoom failed",
				logger.Any("cluster", id),
				logger.Error(err),
			)
			return
		}
		if err := c.engine.EaseTo(ctx, mapengine.Camera{Center: center, Zoom: zoom}); err != nil {
			metrics.RecordClusterExpansion("error")
			c.logger.Debug(ctx, "ease to cluster failed", logger.Error(err))
			return
		}
		metrics.RecordClusterExpansion("ok")
	})
}

// HandlePointClick opens the popup of the topmost clicked story.
func (c *InteractionController) HandlePointClick(ctx context.Context, ev model.Event) { //nolint:gocritic // hugeParam: Event is passed by value from the queue
	if len(ev.Features) == 0 {
		return
	}

	f := ev.Features[0]
	at, ok := dataset.Coordinate(f)
	if !ok {
		c.logger.Debug(ctx, "clicked story without point geometry")
		return
	}
	at = orb.Point{popup.WrapLongitude(ev.LngLat.Lon(), at.Lon()), at.Lat()}

	p := mapengine.Popup{
		LngLat:      at,
		HTML:        popup.Render(popup.FromFeature(f)),
		Offset:      c.popupOffset,
		CloseButton: true,
	}
	if err := c.engine.ShowPopup(ctx, p); err != nil {
		c.logger.Debug(ctx, "show popup failed", logger.Error(err))
		return
	}
	metrics.RecordPopupRendered()
}

// HandleHover switches the cursor to a pointer over story layers.
func (c *InteractionController) HandleHover(ctx context.Context, ev model.Event) { //nolint:gocritic // hugeParam: Event is passed by value from the queue
	cursor := mapengine.CursorDefault
	if ev.Type == model.EventMouseEnter {
		cursor = mapengine.CursorPointer
	}
	if err := c.engine.SetCursor(ctx, cursor); err != nil {
		c.logger.Debug(ctx, "set cursor failed", logger.Error(err))
	}
}

// clusterID reads a cluster id decoded from JSON or set directly.
func clusterID(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
