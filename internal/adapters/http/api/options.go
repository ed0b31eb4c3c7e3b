package api

import (
	"github.com/gorilla/websocket"
	"github.com/okian/storymap/internal/adapters/mapengine"
	"github.com/okian/storymap/pkg/logger"
)

type options struct {
	logger     logger.Logger
	upgrader   *websocket.Upgrader
	remoteOpts []mapengine.RemoteOption
}

// Option configures the API server.
type Option func(*options)

// WithLogger sets the logger used by the session handler.
func WithLogger(lg logger.Logger) Option {
	return func(o *options) {
		if lg != nil {
			o.logger = lg
		}
	}
}

// WithUpgrader replaces the WebSocket upgrader, e.g. to restrict origins.
func WithUpgrader(u *websocket.Upgrader) Option {
	return func(o *options) {
		if u != nil {
			o.upgrader = u
		}
	}
}

// WithRemoteOptions passes options to every session's remote engine.
func WithRemoteOptions(opts ...mapengine.RemoteOption) Option {
	return func(o *options) {
		o.remoteOpts = append(o.remoteOpts, opts...)
	}
}
