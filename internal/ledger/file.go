package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileLedger appends one JSON activity per line
type FileLedger struct {
	path string
	mu   sync.Mutex
}

var _ Ledger = (*FileLedger)(nil)

func NewFile(path string) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &FileLedger{path: path}, nil
}

func (l *FileLedger) Append(ctx context.Context, a Activity) (Activity, error) {
	if err := ctx.Err(); err != nil {
		return Activity{}, err
	}
	a = prepare(a)
	data, err := json.Marshal(a)
	if err != nil {
		return Activity{}, fmt.Errorf("marshal activity: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return Activity{}, err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return Activity{}, err
	}
	return a, nil
}

func (l *FileLedger) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Activity
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var a Activity
		if err := json.Unmarshal(line, &a); err != nil {
			continue
		}
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	newestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryLedger keeps activities in process
type MemoryLedger struct {
	mu   sync.RWMutex
	rows []Activity
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemory() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) Append(ctx context.Context, a Activity) (Activity, error) {
	if err := ctx.Err(); err != nil {
		return Activity{}, err
	}
	a = prepare(a)
	l.mu.Lock()
	l.rows = append(l.rows, a)
	l.mu.Unlock()
	return a, nil
}

func (l *MemoryLedger) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	var out []Activity
	for _, a := range l.rows {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	l.mu.RUnlock()

	newestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
