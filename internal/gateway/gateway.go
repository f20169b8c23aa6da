// Package gateway relays the upstream account status stream to one viewer,
// filtered to a single account the viewer owns.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Rajchodisetti/account-stream/internal/apperr"
	"github.com/Rajchodisetti/account-stream/internal/cursor"
	"github.com/Rajchodisetti/account-stream/internal/observ"
	"github.com/Rajchodisetti/account-stream/internal/sse"
	"github.com/Rajchodisetti/account-stream/internal/upstream"
)

// Route is where the gateway is mounted
const Route = "GET /v1/stream/account-status"

// Upstream opens one upstream stream per session
type Upstream interface {
	Open(ctx context.Context, resume upstream.Resume) (*upstream.Stream, error)
}

// Options tune a Gateway; zero values get defaults
type Options struct {
	HeartbeatInterval   time.Duration
	OwnershipFailClosed bool
}

type Gateway struct {
	auth      Authenticator
	ownership OwnershipChecker
	upstream  Upstream
	opts      Options
}

func New(auth Authenticator, ownership OwnershipChecker, up Upstream, opts Options) *Gateway {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 25 * time.Second
	}
	return &Gateway{auth: auth, ownership: ownership, upstream: up, opts: opts}
}

// Mux mounts the stream route plus /health and /metrics
func (g *Gateway) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(Route, g)
	mux.Handle("GET /health", observ.HealthHandler())
	mux.Handle("GET /metrics", observ.Handler())
	return mux
}

// ParseResume reads the optional resume parameters. Supplying more than one
// of since, since_id and since_ulid is a bad request.
func ParseResume(q url.Values) (upstream.Resume, error) {
	var r upstream.Resume
	n := 0
	if v := q.Get(cursor.ParamSinceULID); v != "" {
		r.Cursor = cursor.Cursor{Kind: cursor.KindULID, Value: v}
		n++
	}
	if v := q.Get(cursor.ParamSinceID); v != "" {
		r.Cursor = cursor.Cursor{Kind: cursor.KindEventID, Value: v}
		n++
	}
	if v := q.Get(cursor.ParamSince); v != "" {
		r.Since = v
		n++
	}
	if n > 1 {
		return upstream.Resume{}, apperr.BadRequest("at most one of since, since_id, since_ulid")
	}
	return r, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	viewer, err := g.auth.Viewer(r)
	if err != nil {
		if apperr.KindOf(err) == "" {
			err = apperr.Unauthorized(err.Error())
		}
		g.fail(w, "", err)
		return
	}

	q := r.URL.Query()
	accountID := q.Get("accountId")
	if accountID == "" {
		g.fail(w, viewer, apperr.BadRequest("accountId is required"))
		return
	}
	resume, err := ParseResume(q)
	if err != nil {
		g.fail(w, viewer, err)
		return
	}

	if err := g.authorize(ctx, viewer, accountID); err != nil {
		g.fail(w, viewer, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	stream, err := g.upstream.Open(ctx, resume)
	if err != nil {
		if apperr.KindOf(err) == "" {
			err = apperr.UpstreamUnavailable("open upstream", 0, err)
		}
		g.fail(w, viewer, err)
		return
	}
	defer stream.Close()

	observ.IncCounter("gateway_sessions_total", nil)
	observ.Log("gateway_session_open", map[string]any{
		"viewer":     viewer,
		"account_id": accountID,
		"cursor":     resume.Cursor.Kind.String(),
	})
	start := time.Now()

	w.Header().Set("Content-Type", sse.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	reason := g.relay(ctx, sse.NewWriter(w), stream, accountID)

	observ.Log("gateway_session_closed", map[string]any{
		"viewer":      viewer,
		"account_id":  accountID,
		"reason":      reason,
		"duration_ms": time.Since(start).Milliseconds(),
		"discarded":   stream.Discarded(),
	})
}

func (g *Gateway) authorize(ctx context.Context, viewer, accountID string) error {
	owns, err := g.ownership.Owns(ctx, viewer, accountID)
	if err != nil {
		if g.opts.OwnershipFailClosed {
			return apperr.Forbidden("ownership could not be verified")
		}
		observ.IncCounter("gateway_ownership_soft_allow_total", nil)
		observ.Log("ownership_check_soft_allow", map[string]any{
			"viewer":     viewer,
			"account_id": accountID,
			"error":      err,
		})
		return nil
	}
	if !owns {
		return apperr.Forbidden("account not owned by viewer")
	}
	return nil
}

type next struct {
	ev  upstream.Event
	err error
}

// relay forwards filtered events until the client leaves or the upstream ends.
// It returns the reason the session ended.
func (g *Gateway) relay(ctx context.Context, sw *sse.Writer, stream *upstream.Stream, accountID string) string {
	events := make(chan next)
	go func() {
		for {
			ev, err := stream.Next()
			select {
			case events <- next{ev: ev, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	if err := sw.WriteComment("connected"); err != nil {
		return "client_write_failed"
	}

	heartbeat := time.NewTicker(g.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return "client_disconnected"
		case <-heartbeat.C:
			if err := sw.WriteComment("heartbeat"); err != nil {
				return "client_write_failed"
			}
		case n := <-events:
			if n.err != nil {
				if errors.Is(n.err, io.EOF) {
					return "upstream_completed"
				}
				observ.Log("gateway_upstream_error", map[string]any{"account_id": accountID, "error": n.err})
				return "upstream_error"
			}
			if AccountID(n.ev.Payload) != accountID {
				observ.IncCounter("gateway_frames_dropped_total", map[string]string{"reason": "account_mismatch"})
				continue
			}
			// Forward what was filtered on, not the upstream bytes
			data, err := json.Marshal(n.ev.Payload)
			if err != nil {
				observ.IncCounter("gateway_frames_dropped_total", map[string]string{"reason": "encode_failed"})
				continue
			}
			frame := sse.Frame{Data: string(data)}
			if c, ok := n.ev.IDs.Best(); ok {
				frame.ID = c.Value
			}
			if err := sw.WriteFrame(frame); err != nil {
				return "client_write_failed"
			}
			observ.IncCounter("gateway_frames_forwarded_total", nil)
		}
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"upstream_status,omitempty"`
}

func (g *Gateway) fail(w http.ResponseWriter, viewer string, err error) {
	status := apperr.HTTPStatus(err)
	body := errorBody{Error: string(apperr.KindOf(err)), Message: err.Error()}
	var e *apperr.Error
	if errors.As(err, &e) {
		body.Status = e.Status
	}
	observ.IncCounter("gateway_rejections_total", map[string]string{"kind": body.Error})
	observ.Log("gateway_rejected", map[string]any{
		"viewer": viewer,
		"status": status,
		"error":  err,
	})
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
