package observ

import (
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

// SetLogger replaces the sink used by Log. Tests pass zap.NewNop().
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

// Logger returns the current sink for callers that want zap directly
func Logger() *zap.Logger {
	return logger.Load()
}

// Log emits one structured line for event with the given fields.
// An "error" key holding an error is logged at error level.
func Log(event string, kv map[string]any) {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(kv)+1)
	fields = append(fields, zap.String("ts", time.Now().UTC().Format(time.RFC3339Nano)))
	isErr := false
	for _, k := range keys {
		v := kv[k]
		if e, ok := v.(error); ok {
			isErr = true
			fields = append(fields, zap.NamedError(k, e))
			continue
		}
		fields = append(fields, zap.Any(k, v))
	}

	l := logger.Load()
	if isErr {
		l.Error(event, fields...)
		return
	}
	l.Info(event, fields...)
}
