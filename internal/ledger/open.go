package ledger

import (
	"context"
	"fmt"
)

// Open builds the ledger named by driver: "file", "postgres" or "memory".
// The returned close func is never nil.
func Open(ctx context.Context, driver, path, dsn string) (Ledger, func(), error) {
	switch driver {
	case "file", "":
		l, err := NewFile(path)
		return l, func() {}, err
	case "postgres":
		l, err := NewPostgres(ctx, dsn)
		if err != nil {
			return nil, func() {}, err
		}
		return l, l.Close, nil
	case "memory":
		return NewMemory(), func() {}, nil
	}
	return nil, func() {}, fmt.Errorf("unknown ledger driver %q", driver)
}
