package logger

import (
	"context"
	"time"
)

type contextKey struct{}

// LogContext carries fields that every log line of one resolution or exchange
// should repeat.
type LogContext struct {
	TraceID   string
	SpanID    string
	Operation string // resolve, exchange, sweep, ...
	Kind      string // metadata, artwork, waveform, beatgrid
	Player    int
	StartTime time.Time
}

// WithContext returns a context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the LogContext stored in ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// NewLogContext starts a LogContext for one operation.
func NewLogContext(operation string) *LogContext {
	return &LogContext{Operation: operation, StartTime: time.Now()}
}

// WithPlayer returns a copy bound to player.
func (lc *LogContext) WithPlayer(player int) *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	c.Player = player
	return &c
}

// WithKind returns a copy bound to a resource kind.
func (lc *LogContext) WithKind(kind string) *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	c.Kind = kind
	return &c
}

// WithTrace returns a copy with trace identifiers set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	c.TraceID = traceID
	c.SpanID = spanID
	return &c
}

// DurationMs returns milliseconds since StartTime.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}
