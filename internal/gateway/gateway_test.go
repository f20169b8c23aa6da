package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Rajchodisetti/account-stream/internal/cursor"
	"github.com/Rajchodisetti/account-stream/internal/ledger"
	"github.com/Rajchodisetti/account-stream/internal/observ"
	"github.com/Rajchodisetti/account-stream/internal/sse"
	"github.com/Rajchodisetti/account-stream/internal/stubs"
	"github.com/Rajchodisetti/account-stream/internal/upstream"
)

type harness struct {
	sim     *stubs.Brokerage
	gateway *httptest.Server
}

func newHarness(t *testing.T, own OwnershipChecker, opts Options) *harness {
	t.Helper()
	observ.SetLogger(zap.NewNop())
	observ.Reset()

	sim := stubs.NewBrokerage()
	sim.SetHeartbeat(time.Hour)
	up := httptest.NewServer(sim.Handler())
	t.Cleanup(up.Close)

	if own == nil {
		l := ledger.NewMemory()
		_, err := l.Append(context.Background(), ledger.Activity{
			OwnerID: "viewer-1",
			Type:    ledger.TypeAccountCreated,
			Meta:    ledger.Meta{}.Set(ledger.MetaAccountID, "acct-1"),
		})
		require.NoError(t, err)
		own = LedgerOwnership{Ledger: l}
	}

	g := New(TokenAuthenticator{"tok-1": "viewer-1", "tok-2": "viewer-2"}, own,
		upstream.NewSource(upstream.Config{BaseURL: up.URL}), opts)
	gw := httptest.NewServer(g.Mux())
	t.Cleanup(gw.Close)
	return &harness{sim: sim, gateway: gw}
}

func (h *harness) get(t *testing.T, ctx context.Context, token string, q url.Values) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.gateway.URL+"/v1/stream/account-status?"+q.Encode(), nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func frames(resp *http.Response) <-chan sse.Frame {
	out := make(chan sse.Frame, 16)
	go func() {
		defer close(out)
		r := sse.NewReader(resp.Body)
		for {
			f, err := r.Next()
			if err != nil {
				return
			}
			out <- f
		}
	}()
	return out
}

func nextData(t *testing.T, ch <-chan sse.Frame) sse.Frame {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			require.True(t, ok, "stream ended")
			if !f.Comment {
				return f
			}
		case <-deadline:
			t.Fatal("no data frame")
		}
	}
}

func TestForwardsOnlyRequestedAccount(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := h.get(t, ctx, "tok-1", url.Values{"accountId": {"acct-1"}})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sse.ContentType, resp.Header.Get("Content-Type"))
	ch := frames(resp)

	require.Eventually(t, func() bool { return h.sim.ConnectedStreams() == 1 }, 2*time.Second, 10*time.Millisecond)
	h.sim.SetStatus("acct-2", "APPROVED")
	h.sim.PublishRaw(`{"account":{"id":"acct-2"},"status_to":"ACTIVE"}`)
	h.sim.PublishRaw("garbage")
	ev := h.sim.SetStatus("acct-1", "ACTIVE")

	f := nextData(t, ch)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.Data), &payload))
	assert.Equal(t, "acct-1", payload["account_id"])
	assert.Equal(t, ev.EventULID, f.ID)
	assert.Equal(t, int64(2), observ.CounterValue("gateway_frames_dropped_total"))
	assert.Equal(t, int64(1), observ.CounterValue("gateway_frames_forwarded_total"))
}

func TestAmbiguousFramesAreNotForwarded(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := h.get(t, ctx, "tok-1", url.Values{"accountId": {"acct-1"}})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ch := frames(resp)

	require.Eventually(t, func() bool { return h.sim.ConnectedStreams() == 1 }, 2*time.Second, 10*time.Millisecond)
	h.sim.PublishRaw(`{"account_id":"acct-1"} {"account_id":"acct-2","ssn":"secret"}`)
	h.sim.PublishRaw(`{"account_id":"acct-2","ssn":"secret","account_id":"acct-1"}`)
	ev := h.sim.SetStatus("acct-1", "ACTIVE")

	f := nextData(t, ch)
	assert.False(t, strings.Contains(f.Data, "secret"), "forwarded %q", f.Data)
	assert.False(t, strings.Contains(f.Data, "acct-2"), "forwarded %q", f.Data)
	assert.Equal(t, ev.EventULID, f.ID)
	assert.Equal(t, int64(1), observ.CounterValue("gateway_frames_forwarded_total"))
}

func TestResumeCursorIsForwarded(t *testing.T) {
	h := newHarness(t, nil, Options{})
	first := h.sim.SetStatus("acct-1", "SUBMITTED")
	h.sim.SetStatus("acct-1", "APPROVED")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp := h.get(t, ctx, "tok-1", url.Values{"accountId": {"acct-1"}, "since_ulid": {first.EventULID}})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f := nextData(t, frames(resp))
	assert.Contains(t, f.Data, `"status_to":"APPROVED"`)
}

func TestRejections(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ctx := context.Background()

	cases := []struct {
		name   string
		token  string
		query  url.Values
		status int
		kind   string
	}{
		{"no token", "", url.Values{"accountId": {"acct-1"}}, http.StatusUnauthorized, "unauthorized"},
		{"unknown token", "nope", url.Values{"accountId": {"acct-1"}}, http.StatusUnauthorized, "unauthorized"},
		{"not owner", "tok-2", url.Values{"accountId": {"acct-1"}}, http.StatusForbidden, "forbidden"},
		{"missing account", "tok-1", url.Values{}, http.StatusBadRequest, "bad_request"},
		{"two cursors", "tok-1", url.Values{"accountId": {"acct-1"}, "since_id": {"1"}, "since_ulid": {"01J"}}, http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.get(t, ctx, tc.token, tc.query)
			defer resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.kind, body.Error)
		})
	}
	assert.Equal(t, 0, h.sim.ConnectedStreams())
}

func TestUpstreamFailureIsBadGateway(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.sim.StreamStatus = http.StatusServiceUnavailable

	resp := h.get(t, context.Background(), "tok-1", url.Values{"accountId": {"acct-1"}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "upstream_unavailable", body.Error)
	assert.Equal(t, http.StatusServiceUnavailable, body.Status)
}

type brokenOwnership struct{}

func (brokenOwnership) Owns(context.Context, string, string) (bool, error) {
	return false, errors.New("ledger offline")
}

func TestOwnershipLookupFailure(t *testing.T) {
	t.Run("soft allow", func(t *testing.T) {
		h := newHarness(t, brokenOwnership{}, Options{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		resp := h.get(t, ctx, "tok-2", url.Values{"accountId": {"acct-1"}})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int64(1), observ.CounterValue("gateway_ownership_soft_allow_total"))
	})
	t.Run("fail closed", func(t *testing.T) {
		h := newHarness(t, brokenOwnership{}, Options{OwnershipFailClosed: true})
		resp := h.get(t, context.Background(), "tok-2", url.Values{"accountId": {"acct-1"}})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestHeartbeatsAndTeardown(t *testing.T) {
	h := newHarness(t, nil, Options{HeartbeatInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	resp := h.get(t, ctx, "tok-1", url.Values{"accountId": {"acct-1"}})
	defer resp.Body.Close()
	ch := frames(resp)

	var beats int
	deadline := time.After(2 * time.Second)
	for beats < 2 {
		select {
		case f := <-ch:
			if f.Comment && f.Data == "heartbeat" {
				beats++
			}
		case <-deadline:
			t.Fatal("no heartbeats")
		}
	}
	require.Equal(t, 1, h.sim.ConnectedStreams())

	cancel()
	assert.Eventually(t, func() bool { return h.sim.ConnectedStreams() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestUpstreamDropEndsSession(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := h.get(t, ctx, "tok-1", url.Values{"accountId": {"acct-1"}})
	defer resp.Body.Close()
	ch := frames(resp)
	require.Eventually(t, func() bool { return h.sim.ConnectedStreams() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.sim.DropStreams()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("session did not end")
		}
	}
}

func TestAccountID(t *testing.T) {
	cases := []struct {
		payload map[string]any
		want    string
	}{
		{map[string]any{"account_id": "a"}, "a"},
		{map[string]any{"accountId": "b"}, "b"},
		{map[string]any{"account": map[string]any{"id": "c"}}, "c"},
		{map[string]any{"data": map[string]any{"account_id": "d"}}, "d"},
		{map[string]any{"account_id": json.Number("42")}, "42"},
		{map[string]any{"account_id": "", "accountId": "e"}, "e"},
		{map[string]any{"status_to": "ACTIVE"}, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AccountID(tc.payload))
	}
}

func TestParseResume(t *testing.T) {
	r, err := ParseResume(url.Values{"since_id": {"7"}})
	require.NoError(t, err)
	assert.Equal(t, cursor.Cursor{Kind: cursor.KindEventID, Value: "7"}, r.Cursor)

	r, err = ParseResume(url.Values{"since": {"2024-01-01T00:00:00Z"}})
	require.NoError(t, err)
	assert.True(t, r.Cursor.IsZero())
	assert.Equal(t, "2024-01-01T00:00:00Z", r.Since)

	_, err = ParseResume(url.Values{"since": {"x"}, "since_id": {"1"}})
	assert.Error(t, err)
}

func TestTokenAuthenticatorQueryParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/stream/account-status?access_token=tok-1", nil)
	viewer, err := TokenAuthenticator{"tok-1": "viewer-1"}.Viewer(req)
	require.NoError(t, err)
	assert.Equal(t, "viewer-1", viewer)

	req.Header.Set("Authorization", "Basic abc")
	_, err = TokenAuthenticator{"tok-1": "viewer-1"}.Viewer(req)
	assert.Error(t, err)
}
