package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
)

// Default loader configuration constants.
const (
	defaultFetchTimeout = 15 * time.Second
	defaultMaxBytes     = 64 << 20
)

type loader struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

// Option applies a configuration option to Load.
type Option func(*loader)

// WithHTTPClient sets the client used for http(s) resources.
func WithHTTPClient(c *http.Client) Option {
	return func(l *loader) {
		if c != nil {
			l.client = c
		}
	}
}

// WithTimeout bounds a single fetch.
func WithTimeout(d time.Duration) Option {
	return func(l *loader) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithMaxBytes caps the document size.
func WithMaxBytes(n int64) Option {
	return func(l *loader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// Load fetches and parses the GeoJSON FeatureCollection at resource, which may
// be a filesystem path, a file:// URL or an http(s):// URL. Failures wrap
// ErrFetch or ErrParse.
func Load(ctx context.Context, resource string, opts ...Option) (*Collection, error) {
	l := &loader{
		client:   http.DefaultClient,
		timeout:  defaultFetchTimeout,
		maxBytes: defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(l)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	data, err := l.read(ctx, strings.TrimSpace(resource))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, resource, err)
	}
	return Parse(data)
}

// Parse decodes a GeoJSON FeatureCollection document.
func Parse(data []byte) (*Collection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if fc.Type != "" && fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%w: unexpected type %q", ErrParse, fc.Type)
	}
	return fc, nil
}

func (l *loader) read(ctx context.Context, resource string) ([]byte, error) {
	if resource == "" {
		return nil, errors.New("empty resource")
	}

	u, err := url.Parse(resource)
	if err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return l.fetch(ctx, u.String())
		case "file":
			return l.readFile(u.Path)
		}
	}
	return l.readFile(resource)
}

func (l *loader) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return l.readAll(resp.Body)
}

func (l *loader) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return l.readAll(f)
}

func (l *loader) readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("document exceeds %d bytes", l.maxBytes)
	}
	return data, nil
}
