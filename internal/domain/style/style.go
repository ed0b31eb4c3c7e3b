// Package style declares the map layers that draw the story source and the
// stepped scales that size and color cluster circles by point count.
package style

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Layer identifiers shared by the renderer and the interaction handlers.
const (
	LayerClusters     = "clusters"
	LayerClusterCount = "cluster-count"
	LayerPoints       = "unclustered-point"
)

// Rendered cluster feature properties.
const (
	PropPointCount = "point_count"
	PropClusterID  = "cluster_id"
)

// ErrUnsortedStops is returned by Step.Validate.
var ErrUnsortedStops = errors.New("step thresholds must be strictly ascending")

// Stop is one threshold of a stepped scale.
type Stop struct {
	Threshold float64
	Value     any
}

// Step is a stepped scale over a numeric feature property: the output is the
// value of the highest threshold not above the input, or Base below the first.
type Step struct {
	Property string
	Base     any
	Stops    []Stop
}

// Evaluate returns the scale output for n.
func (s Step) Evaluate(n float64) any {
	out := s.Base
	for _, st := range s.Stops {
		if st.Threshold > n {
			break
		}
		out = st.Value
	}
	return out
}

// Validate checks that thresholds ascend.
func (s Step) Validate() error {
	for i := 1; i < len(s.Stops); i++ {
		if s.Stops[i].Threshold <= s.Stops[i-1].Threshold {
			return fmt.Errorf("%w: %v after %v", ErrUnsortedStops, s.Stops[i].Threshold, s.Stops[i-1].Threshold)
		}
	}
	return nil
}

// MarshalJSON encodes the scale as a renderer expression:
// ["step", ["get", property], base, t1, v1, t2, v2, ...].
func (s Step) MarshalJSON() ([]byte, error) {
	expr := make([]any, 0, 3+2*len(s.Stops))
	expr = append(expr, "step", []any{"get", s.Property}, s.Base)
	for _, st := range s.Stops {
		expr = append(expr, st.Threshold, st.Value)
	}
	return json.Marshal(expr)
}

// ClusterRadius sizes cluster circles in pixels.
func ClusterRadius() Step {
	return Step{
		Property: PropPointCount,
		Base:     16,
		Stops: []Stop{
			{Threshold: 50, Value: 22},
			{Threshold: 200, Value: 28},
			{Threshold: 1000, Value: 34},
			{Threshold: 5000, Value: 40},
		},
	}
}

// ClusterColor colors cluster circles.
func ClusterColor() Step {
	return Step{
		Property: PropPointCount,
		Base:     "#88c0d0",
		Stops: []Stop{
			{Threshold: 50, Value: "#5e81ac"},
			{Threshold: 200, Value: "#4c566a"},
			{Threshold: 1000, Value: "#2e3440"},
		},
	}
}

// Layer is a declarative renderer layer bound to a source.
type Layer struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Source string         `json:"source"`
	Filter any            `json:"filter,omitempty"`
	Layout map[string]any `json:"layout,omitempty"`
	Paint  map[string]any `json:"paint,omitempty"`
}

// DefaultLayers returns, in draw order, the cluster circles, their count
// labels and the unclustered story points for sourceID.
func DefaultLayers(sourceID string) []Layer {
	hasCount := []any{"has", PropPointCount}
	return []Layer{
		{
			ID:     LayerClusters,
			Type:   "circle",
			Source: sourceID,
			Filter: hasCount,
			Paint: map[string]any{
				"circle-radius":       ClusterRadius(),
				"circle-color":        ClusterColor(),
				"circle-opacity":      0.85,
				"circle-stroke-width": 1,
				"circle-stroke-color": "rgba(0,0,0,0.15)",
			},
		},
		{
			ID:     LayerClusterCount,
			Type:   "symbol",
			Source: sourceID,
			Filter: hasCount,
			Layout: map[string]any{
				"text-field": "{point_count_abbreviated}",
				"text-font":  []string{"DIN Offc Pro Medium", "Arial Unicode MS Bold"},
				"text-size":  12,
			},
			Paint: map[string]any{
				"text-color": "#ffffff",
			},
		},
		{
			ID:     LayerPoints,
			Type:   "circle",
			Source: sourceID,
			Filter: []any{"!", hasCount},
			Paint: map[string]any{
				"circle-radius":       5,
				"circle-color":        "#d08770",
				"circle-stroke-width": 1,
				"circle-stroke-color": "rgba(0,0,0,0.25)",
			},
		},
	}
}
