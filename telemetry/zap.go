package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// ZapLogger adapts a *zap.SugaredLogger to the Logger interface. Callers
// configure the underlying zap.Logger (level, encoding, output) before
// wrapping it; this module does not reach for a global zap logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger constructs a Logger backed by the given zap logger.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		return NewNoopLogger()
	}
	return &ZapLogger{sugar: l.Sugar()}
}

func (z *ZapLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	z.sugar.Debugw(msg, keyvals...)
}

func (z *ZapLogger) Info(_ context.Context, msg string, keyvals ...any) {
	z.sugar.Infow(msg, keyvals...)
}

func (z *ZapLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	z.sugar.Warnw(msg, keyvals...)
}

func (z *ZapLogger) Error(_ context.Context, msg string, keyvals ...any) {
	z.sugar.Errorw(msg, keyvals...)
}
