package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/account-stream/internal/apperr"
	"github.com/Rajchodisetti/account-stream/internal/cursor"
	"github.com/Rajchodisetti/account-stream/internal/sse"
	"github.com/Rajchodisetti/account-stream/internal/stubs"
)

func TestOpenResumesAndSkipsGarbage(t *testing.T) {
	sim := stubs.NewBrokerage()
	sim.APIKey, sim.APISecret = "k", "s"
	srv := httptest.NewServer(sim.Handler())
	defer srv.Close()

	sim.SetStatus("acct-1", "SUBMITTED")
	first := sim.SetStatus("acct-1", "APPROVED")
	sim.PublishRaw("not json")
	sim.PublishRaw(`["array"]`)
	sim.SetStatus("acct-1", "ACTIVE")

	src := NewSource(Config{BaseURL: srv.URL, APIKey: "k", APISecret: "s"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := src.Open(ctx, Resume{Cursor: cursor.Cursor{Kind: cursor.KindULID, Value: first.EventULID}})
	require.NoError(t, err)
	defer st.Close()

	ev, err := st.Next()
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", ev.Payload["status_to"])
	assert.Equal(t, "acct-1", ev.Payload["account_id"])
	assert.NotEmpty(t, ev.IDs.ULID)
	assert.Equal(t, "5", ev.IDs.EventID)
	assert.Equal(t, int64(2), st.Discarded())
}

func TestOpenFailureEmbedsStatus(t *testing.T) {
	sim := stubs.NewBrokerage()
	sim.StreamStatus = http.StatusServiceUnavailable
	srv := httptest.NewServer(sim.Handler())
	defer srv.Close()

	_, err := NewSource(Config{BaseURL: srv.URL}).Open(context.Background(), Resume{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUpstreamUnavailable))
	var e *apperr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusServiceUnavailable, e.Status)
}

func TestOpenRejectsBadCredentials(t *testing.T) {
	sim := stubs.NewBrokerage()
	sim.APIKey, sim.APISecret = "k", "s"
	srv := httptest.NewServer(sim.Handler())
	defer srv.Close()

	_, err := NewSource(Config{BaseURL: srv.URL, APIKey: "k", APISecret: "wrong"}).Open(context.Background(), Resume{})
	var e *apperr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusUnauthorized, e.Status)
}

func TestCloseEndsStream(t *testing.T) {
	sim := stubs.NewBrokerage()
	srv := httptest.NewServer(sim.Handler())
	defer srv.Close()

	st, err := NewSource(Config{BaseURL: srv.URL}).Open(context.Background(), Resume{Since: time.Now().UTC().Format(time.RFC3339)})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sim.ConnectedStreams() == 1 }, 2*time.Second, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := st.Next()
		done <- err
	}()
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
		assert.NotEqual(t, io.ErrUnexpectedEOF, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
	assert.Eventually(t, func() bool { return sim.ConnectedStreams() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDecodeAcceptsOnlyOneUnambiguousObject(t *testing.T) {
	cases := []struct {
		name string
		data string
		ok   bool
	}{
		{"object", `{"account_id":"acct-1"}`, true},
		{"trailing whitespace", "{\"account_id\":\"acct-1\"}  \n", true},
		{"concatenated objects", `{"account_id":"acct-1"} {"account_id":"acct-2","ssn":"secret"}`, false},
		{"trailing garbage", `{"account_id":"acct-1"} x`, false},
		{"duplicate key", `{"account_id":"acct-2","ssn":"secret","account_id":"acct-1"}`, false},
		{"array", `[{"account_id":"acct-1"}]`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := Decode(sse.Frame{Data: tc.data})
			assert.Equal(t, tc.ok, ok)
		})
	}
}
