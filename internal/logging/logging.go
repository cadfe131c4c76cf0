// Package logging builds the process logger: zap as the sink, exposed as a
// logr.Logger so packages depend only on the logr API.
package logging

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls logger construction.
type Options struct {
	// Verbosity enables logr V-levels up to this value.
	Verbosity int
	// Development switches to a human-readable console encoder.
	Development bool
	// JSON forces the JSON encoder even in development mode.
	JSON bool
}

// New creates a logr.Logger backed by zap. The returned func flushes buffered
// entries and should be deferred by the caller.
func New(opts Options) (logr.Logger, func(), error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	if opts.JSON {
		cfg.Encoding = "json"
		cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	}
	// logr V(n) maps to zap level -n.
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-opts.Verbosity))
	cfg.DisableStacktrace = !opts.Development

	zl, err := cfg.Build()
	if err != nil {
		return logr.Discard(), func() {}, fmt.Errorf("failed to build logger: %w", err)
	}

	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}

// FromContext returns the logger stored in ctx, or a discarding logger.
func FromContext(ctx context.Context) logr.Logger {
	return logr.FromContextOrDiscard(ctx)
}

// IntoContext stores logger in ctx.
func IntoContext(ctx context.Context, logger logr.Logger) context.Context {
	return logr.NewContext(ctx, logger)
}
