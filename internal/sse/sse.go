// Package sse reads and writes text/event-stream framing.
package sse

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
)

// ContentType is the media type of an event stream
const ContentType = "text/event-stream"

// Frame is one dispatched record. A record made only of comment lines
// comes back with Comment set and the comment text in Data.
type Frame struct {
	Event   string
	ID      string
	Data    string
	Retry   int
	Comment bool
}

// MaxLineBytes bounds a single field line. A record holding a longer line is
// skipped as a whole and counted in Skipped.
const MaxLineBytes = 1024 * 1024

// Reader splits a stream into frames on blank lines
type Reader struct {
	br      *bufio.Reader
	max     int
	skipped atomic.Int64
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024), max: MaxLineBytes}
}

// Skipped counts records dropped for exceeding MaxLineBytes
func (r *Reader) Skipped() int64 { return r.skipped.Load() }

// readLine returns one line without its terminator. An overlong line is
// drained and reported with tooLong set.
func (r *Reader) readLine() (line string, tooLong bool, err error) {
	var buf []byte
	for {
		chunk, isPrefix, err := r.br.ReadLine()
		if err != nil {
			return "", false, err
		}
		if !tooLong {
			if len(buf)+len(chunk) > r.max {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !isPrefix {
			return string(buf), tooLong, nil
		}
	}
}

// Next returns the next complete frame. A record cut short by EOF is discarded.
func (r *Reader) Next() (Frame, error) {
	var (
		f        Frame
		data     []string
		comments []string
		seen     bool
		oversize bool
	)
	for {
		raw, tooLong, err := r.readLine()
		if err != nil {
			return Frame{}, err
		}
		line := strings.TrimSuffix(raw, "\r")

		if tooLong {
			seen, oversize = true, true
			continue
		}
		if line == "" {
			if !seen {
				continue
			}
			if oversize {
				r.skipped.Add(1)
				f, data, comments, seen, oversize = Frame{}, nil, nil, false, false
				continue
			}
			if len(data) == 0 && f.Event == "" && f.ID == "" && len(comments) > 0 {
				return Frame{Comment: true, Data: strings.Join(comments, "\n")}, nil
			}
			f.Data = strings.Join(data, "\n")
			return f, nil
		}
		seen = true
		if oversize {
			continue
		}

		if strings.HasPrefix(line, ":") {
			comments = append(comments, strings.TrimPrefix(line[1:], " "))
			continue
		}

		field, value := line, ""
		if i := strings.IndexByte(line, ':'); i >= 0 {
			field = line[:i]
			value = strings.TrimPrefix(line[i+1:], " ")
		}
		switch field {
		case "event":
			f.Event = value
		case "id":
			f.ID = value
		case "data":
			data = append(data, value)
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil {
				f.Retry = ms
			}
		}
	}
}

// Writer emits frames and flushes after each one when the destination supports it
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

func NewWriter(w io.Writer) *Writer {
	fl, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: fl}
}

// WriteFrame writes f as a data frame; multi-line data becomes several data: lines
func (w *Writer) WriteFrame(f Frame) error {
	var b strings.Builder
	if f.Event != "" {
		fmt.Fprintf(&b, "event: %s\n", f.Event)
	}
	if f.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", f.ID)
	}
	if f.Retry > 0 {
		fmt.Fprintf(&b, "retry: %d\n", f.Retry)
	}
	for _, line := range strings.Split(f.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	return w.write(b.String())
}

// WriteComment writes an idle/heartbeat comment frame
func (w *Writer) WriteComment(text string) error {
	return w.write(": " + text + "\n\n")
}

func (w *Writer) write(s string) error {
	if _, err := io.WriteString(w.w, s); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
