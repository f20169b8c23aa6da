// Package upstream opens the brokerage account-status event stream.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rajchodisetti/account-stream/internal/apperr"
	"github.com/Rajchodisetti/account-stream/internal/cursor"
	"github.com/Rajchodisetti/account-stream/internal/sse"
)

// DefaultPath is the brokerage account status stream endpoint
const DefaultPath = "/v1/events/accounts/status"

// Config holds the service credentials and endpoint of the upstream stream
type Config struct {
	BaseURL               string
	Path                  string
	APIKey                string
	APISecret             string
	ConnectTimeoutSeconds int
}

// Resume selects where the upstream stream starts. At most one field is set.
type Resume struct {
	Cursor cursor.Cursor
	Since  string // RFC3339 timestamp
}

// Source opens upstream connections; it holds no connection itself
type Source struct {
	config Config
	client *http.Client
}

func NewSource(config Config) *Source {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.ConnectTimeoutSeconds <= 0 {
		config.ConnectTimeoutSeconds = 10
	}
	connectTimeout := time.Duration(config.ConnectTimeoutSeconds) * time.Second
	return &Source{
		config: config,
		// No overall timeout: the response body stays open for the stream's lifetime
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
				ResponseHeaderTimeout: connectTimeout,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

// Event is one parsed upstream data frame
type Event struct {
	TransportID string
	Raw         json.RawMessage
	Payload     map[string]any
	IDs         cursor.Identifiers
}

// Stream is a single open upstream connection. Close is safe to call more
// than once and from any goroutine.
type Stream struct {
	body      io.ReadCloser
	reader    *sse.Reader
	cancel    context.CancelFunc
	closeOnce sync.Once
	discarded atomic.Int64
}

// Open issues one GET against the upstream stream. A non-200 answer or a
// failed dial is an UpstreamUnavailable error carrying the status.
func (s *Source) Open(ctx context.Context, resume Resume) (*Stream, error) {
	streamURL := strings.TrimRight(s.config.BaseURL, "/") + s.config.Path
	req, err := http.NewRequest(http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	resume.Cursor.Apply(q)
	if resume.Cursor.IsZero() && resume.Since != "" {
		q.Set(cursor.ParamSince, resume.Since)
	}
	req.URL.RawQuery = q.Encode()

	ctx, cancel := context.WithCancel(ctx)
	req = req.WithContext(ctx)
	req.SetBasicAuth(s.config.APIKey, s.config.APISecret)
	req.Header.Set("Accept", sse.ContentType)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return nil, apperr.UpstreamUnavailable("connect account status stream", 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, apperr.UpstreamUnavailable(
			fmt.Sprintf("account status stream refused: %s", strings.TrimSpace(string(body))),
			resp.StatusCode, nil)
	}

	return &Stream{
		body:   resp.Body,
		reader: sse.NewReader(resp.Body),
		cancel: cancel,
	}, nil
}

// Next blocks until the next data frame whose payload is a JSON object.
// Comments, heartbeats and undecodable frames are skipped.
func (st *Stream) Next() (Event, error) {
	for {
		f, err := st.reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, apperr.TransientStream("read upstream", err)
		}
		if f.Comment {
			continue
		}
		ev, ok := Decode(f)
		if !ok {
			st.discarded.Add(1)
			continue
		}
		return ev, nil
	}
}

// Discarded counts data frames dropped because they were not a single JSON
// object, plus records skipped for size
func (st *Stream) Discarded() int64 {
	return st.discarded.Load() + st.reader.Skipped()
}

// Close tears down the connection
func (st *Stream) Close() error {
	var err error
	st.closeOnce.Do(func() {
		st.cancel()
		err = st.body.Close()
	})
	return err
}

// Decode turns a data frame into an Event when its payload is a JSON object
func Decode(f sse.Frame) (Event, bool) {
	raw := bytes.TrimSpace([]byte(f.Data))
	if len(raw) == 0 || raw[0] != '{' {
		return Event{}, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return Event{}, false
	}
	// Exactly one object per frame
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Event{}, false
	}
	if !uniqueKeys(raw) {
		return Event{}, false
	}
	return Event{
		TransportID: f.ID,
		Raw:         json.RawMessage(raw),
		Payload:     payload,
		IDs:         cursor.FromPayload(payload, f.ID),
	}, true
}

// uniqueKeys reports whether the top-level object names each key once
func uniqueKeys(raw []byte) bool {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return false
	}
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		key, _ := tok.(string)
		if seen[key] {
			return false
		}
		seen[key] = true
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return false
		}
	}
	return true
}
