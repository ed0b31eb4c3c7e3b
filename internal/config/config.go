// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional YAML file and STORYMAP_* env vars.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DatasetURL is the path or http(s) URL of the story FeatureCollection.
	DatasetURL string `koanf:"dataset_url"`

	// FetchTimeoutMS bounds the dataset load.
	FetchTimeoutMS int `koanf:"fetch_timeout_ms"`

	// AccessToken is the public map style token handed to the browser.
	AccessToken string `koanf:"access_token"`

	// StyleURL, CenterLng/CenterLat, Zoom and MaxZoom set up the initial map.
	StyleURL  string  `koanf:"style_url"`
	CenterLng float64 `koanf:"center_lng"`
	CenterLat float64 `koanf:"center_lat"`
	Zoom      float64 `koanf:"zoom"`
	MaxZoom   float64 `koanf:"max_zoom"`

	// ClusterRadius is the clustering radius in pixels.
	ClusterRadius int `koanf:"cluster_radius"`

	// ClusterMaxZoom is the last zoom level at which points cluster.
	ClusterMaxZoom int `koanf:"cluster_max_zoom"`

	// SessionQueueSize bounds each map session's event queue.
	SessionQueueSize int `koanf:"session_queue_size"`

	// PopupOffset is the popup distance from its anchor in pixels.
	PopupOffset int `koanf:"popup_offset"`

	// ShutdownTimeoutMS bounds graceful shutdown.
	ShutdownTimeoutMS int `koanf:"shutdown_timeout_ms"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		DatasetURL:        "data/stories.geojson",
		FetchTimeoutMS:    15_000,
		StyleURL:          "mapbox://styles/mapbox/light-v11",
		CenterLng:         0,
		CenterLat:         20,
		Zoom:              1.2,
		MaxZoom:           16,
		ClusterRadius:     50,
		ClusterMaxZoom:    10,
		SessionQueueSize:  256,
		PopupOffset:       12,
		ShutdownTimeoutMS: 10_000,
	}
}

// FetchTimeout returns FetchTimeoutMS as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMS) * time.Millisecond
}

// ShutdownTimeout returns ShutdownTimeoutMS as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.DatasetURL) == "":
		return fmt.Errorf("%w: dataset_url must not be empty", ErrInvalidConfig)
	case c.FetchTimeoutMS <= 0:
		return fmt.Errorf("%w: fetch_timeout_ms must be positive", ErrInvalidConfig)
	case c.CenterLat < -90 || c.CenterLat > 90:
		return fmt.Errorf("%w: center_lat %v out of range", ErrInvalidConfig, c.CenterLat)
	case c.CenterLng < -180 || c.CenterLng > 180:
		return fmt.Errorf("%w: center_lng %v out of range", ErrInvalidConfig, c.CenterLng)
	case c.Zoom < 0 || c.MaxZoom < c.Zoom:
		return fmt.Errorf("%w: zoom %v must be within [0, max_zoom %v]", ErrInvalidConfig, c.Zoom, c.MaxZoom)
	case c.ClusterRadius <= 0:
		return fmt.Errorf("%w: cluster_radius must be positive", ErrInvalidConfig)
	case c.ClusterMaxZoom < 0:
		return fmt.Errorf("%w: cluster_max_zoom must not be negative", ErrInvalidConfig)
	case c.SessionQueueSize <= 0:
		return fmt.Errorf("%w: session_queue_size must be positive", ErrInvalidConfig)
	}
	return nil
}
