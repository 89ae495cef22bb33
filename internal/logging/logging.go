// Package logging wraps zerolog behind the small Logger interface every
// component in fluxgate receives (see fluxgate.Logger), the way the
// teacher's pkg/engine/logger.go wraps zerolog behind hermod.Logger.
package logging

import (
	"io"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/user/fluxgate"
)

// Logger adapts a zerolog.Logger to fluxgate.Logger, with an optional
// sampler for high-volume debug events (per-connection reads, per-record
// dispatch) driven by the FLUXGATE_LOG_SAMPLE_N environment variable: 1
// in N debug calls is actually emitted, the rest are dropped before
// touching zerolog. 0 or unset disables sampling (every call emitted).
type Logger struct {
	z        zerolog.Logger
	sampleN  int64
	debugHit int64
}

// New builds a Logger writing to w (os.Stdout if nil) at the given
// minimum level ("debug", "info", "warn", "error"; defaults to "info").
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = os.Stdout
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	z := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	sampleN := int64(0)
	if v := os.Getenv("FLUXGATE_LOG_SAMPLE_N"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			sampleN = n
		}
	}
	return &Logger{z: z, sampleN: sampleN}
}

func fields(e *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}

// Debug emits at debug level, subject to the sampler.
func (l *Logger) Debug(msg string, kv ...interface{}) {
	if l.sampleN > 0 {
		n := atomic.AddInt64(&l.debugHit, 1)
		if n%l.sampleN != 0 {
			return
		}
	}
	fields(l.z.Debug(), kv).Msg(msg)
}

// Info emits at info level.
func (l *Logger) Info(msg string, kv ...interface{}) { fields(l.z.Info(), kv).Msg(msg) }

// Warn emits at warn level.
func (l *Logger) Warn(msg string, kv ...interface{}) { fields(l.z.Warn(), kv).Msg(msg) }

// Error emits at error level.
func (l *Logger) Error(msg string, kv ...interface{}) { fields(l.z.Error(), kv).Msg(msg) }

var _ fluxgate.Logger = (*Logger)(nil)

// Nop is a Logger that discards everything, used as a safe default
// before a real Logger is wired in via Loggable.SetLogger.
var Nop fluxgate.Logger = New(io.Discard, "error")
