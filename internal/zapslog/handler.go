// Package zapslog adapts a *zap.Logger into an slog.Handler, so the stm
// package's slog-typed options can be backed by zap's sampling and
// structured-field encoding without the rest of the codebase knowing the
// difference.
package zapslog

import (
	"context"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Handler is an slog.Handler backed by a *zap.Logger.
type Handler struct {
	core zapcore.Core
	name string
	attr []zap.Field
}

// New wraps l as an slog.Handler.
func New(l *zap.Logger) *Handler {
	return &Handler{core: l.Core()}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.core.Enabled(toZapLevel(level))
}

func (h *Handler) Handle(_ context.Context, rec slog.Record) error {
	fields := make([]zapcore.Field, 0, rec.NumAttrs()+len(h.attr))
	for _, f := range h.attr {
		fields = append(fields, f)
	}
	rec.Attrs(func(a slog.Attr) bool {
		fields = append(fields, zap.Any(a.Key, a.Value.Any()))
		return true
	})
	ce := h.core.Check(zapcore.Entry{
		Level:      toZapLevel(rec.Level),
		Time:       rec.Time,
		LoggerName: h.name,
		Message:    rec.Message,
	}, nil)
	if ce == nil {
		return nil
	}
	ce.Write(fields...)
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &Handler{core: h.core, name: h.name, attr: append([]zap.Field{}, h.attr...)}
	for _, a := range attrs {
		next.attr = append(next.attr, zap.Any(a.Key, a.Value.Any()))
	}
	return next
}

func (h *Handler) WithGroup(name string) slog.Handler {
	next := *h
	if next.name == "" {
		next.name = name
	} else {
		next.name = next.name + "." + name
	}
	return &next
}

func toZapLevel(l slog.Level) zapcore.Level {
	switch {
	case l >= slog.LevelError:
		return zapcore.ErrorLevel
	case l >= slog.LevelWarn:
		return zapcore.WarnLevel
	case l >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
