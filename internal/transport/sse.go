package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rajchodisetti/account-stream/internal/apperr"
	"github.com/Rajchodisetti/account-stream/internal/cursor"
	"github.com/Rajchodisetti/account-stream/internal/observ"
	"github.com/Rajchodisetti/account-stream/internal/sse"
	"github.com/Rajchodisetti/account-stream/internal/upstream"
)

var errStale = errors.New("stream stale")

// Client holds at most one live connection to the gateway. A single run
// loop dials, consumes and schedules reconnects; Close stops it for good.
type Client struct {
	config  Config
	url     string
	cursors *cursor.Store
	http    *http.Client
	events  chan Event

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanos
	everUp       atomic.Bool
	attempt      int // run loop only

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	errMu sync.Mutex
	err   error

	// Metrics
	reconnects    atomic.Int64
	eventsSeen    atomic.Int64
	heartbeats    atomic.Int64
	staleRestarts atomic.Int64
}

// NewClient builds a client for config.AccountID. The store is bound to the
// account, so switching accounts on a shared store starts without a cursor.
func NewClient(config Config, store *cursor.Store) *Client {
	config = config.withDefaults()
	if store == nil {
		store = cursor.NewStore()
	}
	store.Bind(config.AccountID)

	c := &Client{
		config:  config,
		url:     strings.TrimRight(config.BaseURL, "/") + config.Path,
		cursors: store,
		// No overall timeout: the body is read for the connection's lifetime
		http:   &http.Client{Transport: &http.Transport{Proxy: http.ProxyFromEnvironment, ResponseHeaderTimeout: 15 * time.Second}},
		events: make(chan Event, config.MaxChannelBuffer),
		done:   make(chan struct{}),
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// Start launches the run loop and returns the event channel. The channel is
// closed once the client stops.
func (c *Client) Start(ctx context.Context) (<-chan Event, error) {
	started := false
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		go c.run(ctx)
		started = true
	})
	if !started {
		return nil, errors.New("transport: client already started")
	}
	return c.events, nil
}

// Close stops the client. Any pending reconnect is cancelled and no further
// connection is attempted.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.startOnce.Do(func() {
			c.setState(StateClosed)
			close(c.events)
			close(c.done)
		})
		if c.cancel != nil {
			c.cancel()
		}
		<-c.done
	})
	return nil
}

// Done is closed when the run loop has exited
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the terminal error, if the client gave up on its own
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// LastActivity is when the last event or heartbeat arrived
func (c *Client) LastActivity() time.Time {
	n := c.lastActivity.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Cursor returns the current resume point
func (c *Client) Cursor() (cursor.Cursor, bool) {
	return c.cursors.Get()
}

func (c *Client) setState(s ConnectionState) {
	c.state.Store(int32(s))
	gauge := observ.StreamDown
	switch s {
	case StateConnected:
		gauge = observ.StreamUp
	case StateConnecting, StateReconnectScheduled:
		gauge = observ.StreamConnecting
	}
	observ.SetGauge("stream_connection_state", float64(gauge), map[string]string{"account_id": c.config.AccountID})
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) run(ctx context.Context) {
	defer func() {
		c.setState(StateClosed)
		close(c.events)
		close(c.done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		c.setState(StateConnecting)
		err := c.connectAndConsume(ctx)
		if ctx.Err() != nil {
			return
		}
		if terminal(err) || (!c.everUp.Load() && (!retryable(err) || c.attempt+1 >= c.config.MaxInitialAttempts)) {
			c.fail(err)
			return
		}

		c.setState(StateError)
		c.attempt++
		delay := c.config.Reconnect.Backoff(c.attempt)
		observ.Log("stream_reconnect_scheduled", map[string]any{
			"account_id": c.config.AccountID,
			"attempt":    c.attempt,
			"delay_ms":   delay.Milliseconds(),
			"error":      err,
		})
		c.setState(StateReconnectScheduled)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		c.reconnects.Add(1)
		observ.IncCounter("stream_reconnects_total", nil)
	}
}

func terminal(err error) bool {
	k := apperr.KindOf(err)
	return k == apperr.KindForbidden || k == apperr.KindUnauthorized || k == apperr.KindBadRequest
}

// retryable errors may clear up on their own: gateway or brokerage restarts
func retryable(err error) bool {
	k := apperr.KindOf(err)
	return k == apperr.KindUpstreamUnavailable || k == apperr.KindTransientStream
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
	observ.Log("stream_failed", map[string]any{"account_id": c.config.AccountID, "error": err})
}

func (c *Client) request(ctx context.Context) (*http.Request, error) {
	q := url.Values{}
	q.Set("accountId", c.config.AccountID)
	if cur, ok := c.cursors.Get(); ok {
		cur.Apply(q)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", sse.ContentType)
	req.Header.Set("Cache-Control", "no-cache")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	return req, nil
}

// connectAndConsume opens one connection and reads it until it fails, goes
// stale or ctx ends. The connection is always torn down before returning.
func (c *Client) connectAndConsume(ctx context.Context) error {
	connCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := c.request(connCtx)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.TransientStream("connect", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(body))
		switch resp.StatusCode {
		case http.StatusForbidden:
			return apperr.Forbidden(msg)
		case http.StatusUnauthorized:
			return apperr.Unauthorized(msg)
		case http.StatusBadRequest:
			return apperr.BadRequest(msg)
		}
		return apperr.UpstreamUnavailable(msg, resp.StatusCode, nil)
	}

	c.attempt = 0
	c.everUp.Store(true)
	c.touch()
	c.setState(StateConnected)
	cur, _ := c.cursors.Get()
	observ.Log("stream_connected", map[string]any{
		"account_id": c.config.AccountID,
		"cursor":     cur.Kind.String(),
	})

	go c.watchdog(connCtx, cancel)

	err = c.consume(connCtx, resp.Body)
	if cause := context.Cause(connCtx); errors.Is(cause, errStale) {
		return apperr.TransientStream("watchdog", errStale)
	}
	if err == nil {
		err = io.EOF
	}
	return apperr.TransientStream("read", err)
}

// watchdog forces the connection closed once nothing has arrived for the
// stale window. The run loop then reconnects.
func (c *Client) watchdog(ctx context.Context, cancel context.CancelCauseFunc) {
	interval := time.Duration(c.config.WatchdogIntervalMs) * time.Millisecond
	stale := time.Duration(c.config.StaleAfterMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(c.LastActivity())
			if idle > stale {
				c.staleRestarts.Add(1)
				observ.IncCounter("stream_stale_restarts_total", nil)
				observ.Log("stream_stale", map[string]any{
					"account_id": c.config.AccountID,
					"idle_ms":    idle.Milliseconds(),
				})
				cancel(errStale)
				return
			}
		}
	}
}

func (c *Client) consume(ctx context.Context, body io.Reader) error {
	r := sse.NewReader(body)
	for {
		f, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		c.touch()
		if f.Comment {
			c.heartbeats.Add(1)
			continue
		}
		ev, ok := upstream.Decode(f)
		if !ok {
			continue
		}
		c.cursors.Observe(ev.IDs)
		c.eventsSeen.Add(1)
		observ.IncCounter("stream_events_total", nil)

		select {
		case c.events <- Event{ID: ev.TransportID, Payload: ev.Raw, Fields: ev.Payload, IDs: ev.IDs, ReceivedAt: time.Now()}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// GetMetrics returns current client metrics
func (c *Client) GetMetrics() map[string]any {
	cur, _ := c.cursors.Get()
	return map[string]any{
		"connection_state": c.State().String(),
		"reconnects":       c.reconnects.Load(),
		"events_received":  c.eventsSeen.Load(),
		"heartbeats":       c.heartbeats.Load(),
		"stale_restarts":   c.staleRestarts.Load(),
		"cursor_kind":      cur.Kind.String(),
		"cursor":           cur.Value,
	}
}
