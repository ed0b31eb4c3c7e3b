package smoke

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb/geojson"
)

// command is the subset of a server command the headless map reads.
type command struct {
	Type   string                     `json:"type"`
	ID     string                     `json:"id,omitempty"`
	Source string                     `json:"source,omitempty"`
	Data   *geojson.FeatureCollection `json:"data,omitempty"`
	Values []string                   `json:"values,omitempty"`
	Event  string                     `json:"event,omitempty"`
	Target string                     `json:"target,omitempty"`
}

// message is a browser-to-server message.
type message struct {
	Type     string             `json:"type"`
	ID       string             `json:"id,omitempty"`
	Value    string             `json:"value,omitempty"`
	Features []*geojson.Feature `json:"features,omitempty"`
	Error    string             `json:"error,omitempty"`
}

var errSessionGone = errors.New("session connection closed")

// mapClient plays the browser side of a map session without rendering:
// queries match nothing and cluster lookups fail.
type mapClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	commands chan command
	readErr  chan error
}

// sessionURL turns the service base URL into the session WebSocket URL.
func sessionURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}

func dialSession(ctx context.Context, baseURL string) (*mapClient, error) {
	target, err := sessionURL(baseURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	c := &mapClient{
		conn:     conn,
		commands: make(chan command, 64),
		readErr:  make(chan error, 1),
	}
	go c.readLoop()
	return c, nil
}

func (c *mapClient) readLoop() {
	defer close(c.commands)
	for {
		var cmd command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			c.readErr <- err
			return
		}
		switch cmd.Type {
		case "query":
			_ = c.send(message{Type: "reply", ID: cmd.ID, Features: []*geojson.Feature{}})
		case "cluster-zoom":
			_ = c.send(message{Type: "reply", ID: cmd.ID, Error: "no cluster rendered"})
		default:
			c.commands <- cmd
		}
	}
}

func (c *mapClient) send(m message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(m)
}

// waitFor returns the next command of type kind, skipping others.
func (c *mapClient) waitFor(ctx context.Context, kind string) (command, error) {
	for {
		select {
		case <-ctx.Done():
			return command{}, fmt.Errorf("waiting for %s: %w", kind, ctx.Err())
		case cmd, ok := <-c.commands:
			if !ok {
				return command{}, fmt.Errorf("%w: %w", errSessionGone, <-c.readErr)
			}
			if cmd.Type == kind {
				return cmd, nil
			}
		}
	}
}

func (c *mapClient) Close() error {
	return c.conn.Close()
}

// expectation is what the service's HTTP API says a session should show.
type expectation struct {
	years  []string
	total  int
	byYear map[string]int
}

// exercise loads the map, checks the offered years, then selects every
// year followed by All and checks each resulting source size.
func (c *mapClient) exercise(ctx context.Context, want expectation) (int, error) {
	if err := c.send(message{Type: "load"}); err != nil {
		return 0, fmt.Errorf("send load: %w", err)
	}
	if _, err := c.waitFor(ctx, "add-source"); err != nil {
		return 0, err
	}

	opts, err := c.waitFor(ctx, "set-options")
	if err != nil {
		return 0, err
	}
	if !slices.Equal(opts.Values, want.years) {
		return 0, fmt.Errorf("year options %v, want %v", opts.Values, want.years)
	}
	if err := c.expectData(ctx, "all", want.total); err != nil {
		return 0, err
	}

	verified := 1
	for _, year := range append(slices.Clone(want.years), "all") {
		if err := c.send(message{Type: "change", Value: year}); err != nil {
			return verified, fmt.Errorf("send change: %w", err)
		}
		n := want.total
		if year != "all" {
			n = want.byYear[year]
		}
		if err := c.expectData(ctx, year, n); err != nil {
			return verified, err
		}
		verified++
	}
	return verified, nil
}

func (c *mapClient) expectData(ctx context.Context, year string, n int) error {
	cmd, err := c.waitFor(ctx, "set-data")
	if err != nil {
		return err
	}
	got := 0
	if cmd.Data != nil {
		got = len(cmd.Data.Features)
	}
	if got != n {
		return fmt.Errorf("year %s: source has %d stories, want %d", year, got, n)
	}
	return nil
}
