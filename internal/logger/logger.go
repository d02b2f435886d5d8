// Package logger is the logging seam used by the ledger and the HTTP layer.
//
// Components depend on the small [Logger] interface; the process wires in a
// zap logger, tests usually pass [Noop] or an observed zap core.
package logger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the leveled, printf-style logger components accept.
type Logger interface {
	DebugfCtx(ctx context.Context, template string, args ...any)
	InfofCtx(ctx context.Context, template string, args ...any)
	ErrorfCtx(ctx context.Context, template string, args ...any)
}

// Noop discards everything.
type Noop struct{}

func (Noop) DebugfCtx(context.Context, string, ...any) {}
func (Noop) InfofCtx(context.Context, string, ...any)  {}
func (Noop) ErrorfCtx(context.Context, string, ...any) {}

type requestIDKey struct{}

// WithRequestID stores a request id that the adapters attach to every line.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by [WithRequestID], or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	id, _ := ctx.Value(requestIDKey{}).(string)

	return id
}

// Zap adapts a zap logger.
type Zap struct {
	sugar *zap.SugaredLogger
}

// NewZap wraps l. A nil l yields a no-op zap logger.
func NewZap(l *zap.Logger) *Zap {
	if l == nil {
		l = zap.NewNop()
	}

	return &Zap{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (z *Zap) DebugfCtx(ctx context.Context, template string, args ...any) {
	z.with(ctx).Debugf(template, args...)
}

func (z *Zap) InfofCtx(ctx context.Context, template string, args ...any) {
	z.with(ctx).Infof(template, args...)
}

func (z *Zap) ErrorfCtx(ctx context.Context, template string, args ...any) {
	z.with(ctx).Errorf(template, args...)
}

// Sync flushes buffered entries.
func (z *Zap) Sync() error {
	return z.sugar.Sync()
}

func (z *Zap) with(ctx context.Context) *zap.SugaredLogger {
	if id := RequestID(ctx); id != "" {
		return z.sugar.With("request_id", id)
	}

	return z.sugar
}

// Options selects the zap encoder and level built by [New].
type Options struct {
	Level  string // debug | info | warn | error
	Format string // json | console
}

// New builds a zap-backed Logger writing to stderr.
func New(opts Options) (*Zap, error) {
	level := zapcore.InfoLevel

	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}

		level = parsed
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Sampling = nil
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch strings.ToLower(opts.Format) {
	case "", "json":
		cfg.Encoding = "json"
	case "console":
		cfg.Encoding = "console"
	default:
		return nil, fmt.Errorf("log format %q: want json or console", opts.Format)
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return NewZap(l), nil
}
