package sse

import (
	"bytes"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderReassemblesMultilineData(t *testing.T) {
	stream := ": hello\n\n" +
		"id: 7\n" +
		"event: account_status\n" +
		"data: {\"account_id\":\n" +
		"data: \"acct-1\"}\n\n" +
		"data: partial"

	r := NewReader(strings.NewReader(stream))

	f, err := r.Next()
	require.NoError(t, err)
	assert.True(t, f.Comment)
	assert.Equal(t, "hello", f.Data)

	f, err = r.Next()
	require.NoError(t, err)
	assert.False(t, f.Comment)
	assert.Equal(t, "7", f.ID)
	assert.Equal(t, "account_status", f.Event)
	assert.Equal(t, "{\"account_id\":\n\"acct-1\"}", f.Data)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderHandlesCRLFAndRetry(t *testing.T) {
	r := NewReader(strings.NewReader("retry: 1500\r\ndata:x\r\n\r\n"))
	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 1500, f.Retry)
	assert.Equal(t, "x", f.Data)
}

func TestWriterRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	require.NoError(t, w.WriteComment("ping"))
	require.NoError(t, w.WriteFrame(Frame{ID: "01J0", Data: "line1\nline2"}))
	assert.True(t, rec.Flushed)

	out := rec.Body.String()
	assert.Equal(t, ": ping\n\nid: 01J0\ndata: line1\ndata: line2\n\n", out)

	r := NewReader(bytes.NewBufferString(out))
	f, err := r.Next()
	require.NoError(t, err)
	assert.True(t, f.Comment)
	f, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", f.Data)
}

func TestReaderSkipsOversizedRecord(t *testing.T) {
	huge := strings.Repeat("x", MaxLineBytes+10)
	stream := "id: 1\ndata: " + huge + "\n\n" + "id: 2\ndata: {\"ok\":true}\n\n"

	r := NewReader(strings.NewReader(stream))
	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "2", f.ID)
	assert.Equal(t, `{"ok":true}`, f.Data)
	assert.Equal(t, int64(1), r.Skipped())

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}
