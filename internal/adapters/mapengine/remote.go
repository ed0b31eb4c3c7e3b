package mapengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/storymap/internal/domain/model"
	"github.com/okian/storymap/internal/domain/style"
	"github.com/okian/storymap/pkg/logger"
	"github.com/okian/storymap/pkg/metrics"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Default remote configuration constants.
const (
	defaultCallTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Command types sent to the browser.
const (
	cmdAddSource   = "add-source"
	cmdSetData     = "set-data"
	cmdAddLayer    = "add-layer"
	cmdQuery       = "query"
	cmdClusterZoom = "cluster-zoom"
	cmdEaseTo      = "ease-to"
	cmdPopup       = "popup"
	cmdCursor      = "cursor"
	cmdSetOptions  = "set-options"
	cmdListen      = "listen"
)

// msgReply answers a command that carried an id.
const msgReply = "reply"

// Conn is the message transport. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// command is a server-to-browser message.
type command struct {
	Type      string                     `json:"type"`
	ID        string                     `json:"id,omitempty"`
	Source    string                     `json:"source,omitempty"`
	Spec      *Source                    `json:"spec,omitempty"`
	Data      *geojson.FeatureCollection `json:"data,omitempty"`
	Layer     *style.Layer               `json:"layer,omitempty"`
	Point     *model.ScreenPoint         `json:"point,omitempty"`
	Layers    []string                   `json:"layers,omitempty"`
	ClusterID *int64                     `json:"clusterId,omitempty"`
	Camera    *Camera                    `json:"camera,omitempty"`
	Popup     *Popup                     `json:"popup,omitempty"`
	Cursor    *string                    `json:"cursor,omitempty"`
	Values    []string                   `json:"values,omitempty"`
	Event     string                     `json:"event,omitempty"`
	Target    string                     `json:"target,omitempty"`
}

type lngLat struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// inbound is a browser-to-server message: an interaction event or a reply.
type inbound struct {
	Type     string             `json:"type"`
	ID       string             `json:"id,omitempty"`
	Layer    string             `json:"layer,omitempty"`
	Point    model.ScreenPoint  `json:"point"`
	LngLat   *lngLat            `json:"lngLat,omitempty"`
	Features []*geojson.Feature `json:"features,omitempty"`
	Value    string             `json:"value,omitempty"`
	Message  string             `json:"message,omitempty"`
	Error    string             `json:"error,omitempty"`
	Zoom     *float64           `json:"zoom,omitempty"`
}

// Sink accepts events produced by the remote side. It returns false when
// the event could not be queued.
type Sink func(e model.Event) bool

// Remote drives a browser-hosted renderer over a message connection. Commands
// are fire-and-forget except queries and cluster lookups, which wait for a
// reply carrying the same id.
type Remote struct {
	conn    Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan inbound
	sink    Sink
	onError ErrorHandler

	closed    chan struct{}
	closeOnce sync.Once

	callTimeout  time.Duration
	writeTimeout time.Duration
	logger       logger.Logger
}

// RemoteOption applies a configuration option to a Remote.
type RemoteOption func(*Remote)

// WithCallTimeout bounds how long a query or cluster lookup waits.
func WithCallTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// WithWriteTimeout bounds a single write on connections that support deadlines.
func WithWriteTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithRemoteLogger sets the logger.
func WithRemoteLogger(lg logger.Logger) RemoteOption {
	return func(r *Remote) {
		if lg != nil {
			r.logger = lg
		}
	}
}

// NewRemote wraps conn.
func NewRemote(conn Conn, opts ...RemoteOption) *Remote {
	r := &Remote{
		conn:         conn,
		pending:      make(map[string]chan inbound),
		closed:       make(chan struct{}),
		callTimeout:  defaultCallTimeout,
		writeTimeout: defaultWriteTimeout,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.onError = r.suppress
	return r
}

// Run reads messages until the connection fails, ctx is cancelled or Close
// is called. Interaction events go to sink; replies complete pending calls.
func (r *Remote) Run(ctx context.Context, sink Sink) error {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = r.Close()
		case <-stop:
		}
	}()

	for {
		var msg inbound
		if err := r.conn.ReadJSON(&msg); err != nil {
			if isDecodeError(err) {
				metrics.RecordErrorByComponent("mapengine", "bad_message")
				r.logger.Warn(ctx, "skipping malformed engine message", logger.Error(err))
				continue
			}
			_ = r.Close()
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if r.isClosed() {
				return ErrClosed
			}
			return fmt.Errorf("read engine message: %w", err)
		}
		r.route(ctx, msg)
	}
}

// isDecodeError reports whether err came from decoding a single message
// rather than from the connection itself.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, geojson.ErrInvalidGeometry)
}

func (r *Remote) route(ctx context.Context, msg inbound) { //nolint:gocritic // hugeParam: message decoded per iteration
	switch msg.Type {
	case msgReply:
		r.mu.Lock()
		ch, ok := r.pending[msg.ID]
		delete(r.pending, msg.ID)
		r.mu.Unlock()
		if ok {
			ch <- msg
		}
	case string(model.EventError):
		r.mu.Lock()
		h := r.onError
		r.mu.Unlock()
		h(fmt.Errorf("%w: %s", ErrEngine, msg.Message))
	case string(model.EventLoad), string(model.EventClick), string(model.EventMouseEnter),
		string(model.EventMouseLeave), string(model.EventChange):
		r.post(ctx, toEvent(msg))
	default:
		r.logger.Debug(ctx, "ignoring unknown engine message", logger.String("type", msg.Type))
	}
}

func toEvent(msg inbound) model.Event { //nolint:gocritic // hugeParam: message decoded per iteration
	ev := model.Event{
		Type:     model.EventType(msg.Type),
		Layer:    msg.Layer,
		Point:    msg.Point,
		Features: msg.Features,
		Value:    msg.Value,
		At:       time.Now(),
	}
	if msg.LngLat != nil {
		ev.LngLat = orb.Point{msg.LngLat.Lng, msg.LngLat.Lat}
	}
	return ev
}

func (r *Remote) post(ctx context.Context, ev model.Event) { //nolint:gocritic // hugeParam: Event is passed by value into the queue
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink == nil || !sink(ev) {
		r.logger.Warn(ctx, "dropping engine event", logger.String("type", string(ev.Type)))
	}
}

// suppress is the default error handler.
func (r *Remote) suppress(err error) {
	metrics.RecordEngineErrorSuppressed()
	r.logger.Debug(context.Background(), "engine error suppressed", logger.Error(err))
}

// OnError implements Engine.
func (r *Remote) OnError(h ErrorHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		h = r.suppress
	}
	r.onError = h
}

// Close ends the session and fails outstanding calls.
func (r *Remote) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)
		err = r.conn.Close()
	})
	return err
}

func (r *Remote) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

func (r *Remote) send(cmd command) error { //nolint:gocritic // hugeParam: commands are built per call
	if r.isClosed() {
		return ErrClosed
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if d, ok := r.conn.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(r.writeTimeout))
	}
	if err := r.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("write %s: %w", cmd.Type, err)
	}
	return nil
}

// call sends cmd with a fresh id and waits for the matching reply.
func (r *Remote) call(ctx context.Context, cmd command) (inbound, error) { //nolint:gocritic // hugeParam: commands are built per call
	cmd.ID = uuid.NewString()
	ch := make(chan inbound, 1)

	r.mu.Lock()
	r.pending[cmd.ID] = ch
	r.mu.Unlock()

	forget := func() {
		r.mu.Lock()
		delete(r.pending, cmd.ID)
		r.mu.Unlock()
	}

	if err := r.send(cmd); err != nil {
		forget()
		return inbound{}, err
	}

	timer := time.NewTimer(r.callTimeout)
	defer timer.Stop()

	select {
	case rep := <-ch:
		if rep.Error != "" {
			return rep, fmt.Errorf("%w: %s", ErrEngine, rep.Error)
		}
		return rep, nil
	case <-ctx.Done():
		forget()
		return inbound{}, ctx.Err()
	case <-r.closed:
		forget()
		return inbound{}, ErrClosed
	case <-timer.C:
		forget()
		return inbound{}, fmt.Errorf("%s: %w", cmd.Type, context.DeadlineExceeded)
	}
}

// AddSource implements Engine.
func (r *Remote) AddSource(_ context.Context, id string, src Source) error {
	return r.send(command{Type: cmdAddSource, Source: id, Spec: &src})
}

// SetData implements Engine.
func (r *Remote) SetData(_ context.Context, sourceID string, fc *geojson.FeatureCollection) error {
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	return r.send(command{Type: cmdSetData, Source: sourceID, Data: fc})
}

// AddLayer implements Engine.
func (r *Remote) AddLayer(_ context.Context, layer style.Layer) error {
	return r.send(command{Type: cmdAddLayer, Layer: &layer})
}

// QueryRenderedFeatures implements Engine.
func (r *Remote) QueryRenderedFeatures(ctx context.Context, pt model.ScreenPoint, layers ...string) ([]*geojson.Feature, error) {
	rep, err := r.call(ctx, command{Type: cmdQuery, Point: &pt, Layers: layers})
	if err != nil {
		return nil, err
	}
	return rep.Features, nil
}

// ClusterExpansionZoom implements Engine. The lookup runs on its own
// goroutine; cb is posted back through the sink as an EventCallback.
func (r *Remote) ClusterExpansionZoom(ctx context.Context, sourceID string, clusterID int64, cb ZoomCallback) {
	go func() {
		zoom, err := r.clusterZoom(ctx, sourceID, clusterID)
		r.post(ctx, model.Event{
			Type: model.EventCallback,
			Callback: func(context.Context) {
				cb(zoom, err)
			},
			At: time.Now(),
		})
	}()
}

func (r *Remote) clusterZoom(ctx context.Context, sourceID string, clusterID int64) (float64, error) {
	rep, err := r.call(ctx, command{Type: cmdClusterZoom, Source: sourceID, ClusterID: &clusterID})
	if err != nil {
		return 0, err
	}
	if rep.Zoom == nil {
		return 0, fmt.Errorf("%w: cluster-zoom reply without zoom", ErrBadMessage)
	}
	return *rep.Zoom, nil
}

// EaseTo implements Engine.
func (r *Remote) EaseTo(_ context.Context, cam Camera) error {
	return r.send(command{Type: cmdEaseTo, Camera: &cam})
}

// ShowPopup implements Engine.
func (r *Remote) ShowPopup(_ context.Context, p Popup) error {
	return r.send(command{Type: cmdPopup, Popup: &p})
}

// SetCursor implements Engine.
func (r *Remote) SetCursor(_ context.Context, cursor string) error {
	return r.send(command{Type: cmdCursor, Cursor: &cursor})
}

// ReplaceOptions implements Selector.
func (r *Remote) ReplaceOptions(_ context.Context, values []string) error {
	if values == nil {
		values = []string{}
	}
	return r.send(command{Type: cmdSetOptions, Values: values})
}

// Listen implements Listener.
func (r *Remote) Listen(_ context.Context, event model.EventType, layer string) error {
	return r.send(command{Type: cmdListen, Event: string(event), Target: layer})
}

var (
	_ Engine   = (*Remote)(nil)
	_ Selector = (*Remote)(nil)
	_ Listener = (*Remote)(nil)
)

// IsClosed reports whether err means the session is gone.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
