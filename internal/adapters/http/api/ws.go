package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/okian/storymap/internal/adapters/mapengine"
	"github.com/okian/storymap/pkg/logger"
)

// WebSocket buffer sizes. Commands carry whole GeoJSON views, so the write
// buffer is larger than the read side.
const (
	readBufferSize  = 4 << 10
	writeBufferSize = 32 << 10
)

// SessionDependencies opens and closes map sessions.
type SessionDependencies interface {
	OpenSession(ctx context.Context, engine mapengine.Engine, selector mapengine.Selector) (Session, error)
	CloseSession(ctx context.Context, id string) error
}

// SessionHandler upgrades /ws to a map session. The connection is the
// session's engine and selector; its inbound messages feed the session loop.
type SessionHandler struct {
	deps       SessionDependencies
	upgrader   *websocket.Upgrader
	remoteOpts []mapengine.RemoteOption
	logger     logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(deps SessionDependencies, lg logger.Logger, upgrader *websocket.Upgrader, remoteOpts ...mapengine.RemoteOption) *SessionHandler {
	if upgrader == nil {
		upgrader = &websocket.Upgrader{
			ReadBufferSize:   readBufferSize,
			WriteBufferSize:  writeBufferSize,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if lg == nil {
		lg = logger.Nop()
	}
	return &SessionHandler{
		deps:       deps,
		upgrader:   upgrader,
		remoteOpts: remoteOpts,
		logger:     lg.Named("ws"),
	}
}

// HandleSession handles GET /ws requests.
func (h *SessionHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		writeError(w, http.StatusBadRequest, "bad_request", ErrUpgrade)
		return
	}

	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the failure response.
		h.logger.Debug(ctx, "websocket upgrade failed", logger.Error(err))
		return
	}

	opts := append([]mapengine.RemoteOption{mapengine.WithRemoteLogger(h.logger)}, h.remoteOpts...)
	remote := mapengine.NewRemote(conn, opts...)
	defer func() { _ = remote.Close() }()

	sess, err := h.deps.OpenSession(ctx, remote, remote)
	if err != nil {
		h.logger.Warn(ctx, "open session failed", logger.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session unavailable"),
			time.Now().Add(time.Second))
		return
	}
	defer func() {
		if err := h.deps.CloseSession(ctx, sess.ID()); err != nil {
			h.logger.Warn(ctx, "close session failed", logger.String("session", sess.ID()), logger.Error(err))
		}
	}()

	h.logger.Debug(ctx, "session connected", logger.String("session", sess.ID()), logger.String("remote", r.RemoteAddr))
	if err := remote.Run(ctx, sess.Post); err != nil && !mapengine.IsClosed(err) {
		h.logger.Debug(ctx, "session ended", logger.String("session", sess.ID()), logger.Error(err))
	}
}
