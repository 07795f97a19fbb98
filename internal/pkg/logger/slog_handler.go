package logger

import (
	"context"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// slogZapHandler 将 log/slog 记录转发到 zap core。
// Record 自带的时间戳不转成字段，避免与 encoder 的 time 键重复。
type slogZapHandler struct {
	logger *zap.Logger
	fields []zapcore.Field
	groups []string
}

func newSlogZapHandler(l *zap.Logger) *slogZapHandler {
	if l == nil {
		l = zap.NewNop()
	}
	return &slogZapHandler{logger: l}
}

func (h *slogZapHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.Core().Enabled(slogLevelToZap(level))
}

func (h *slogZapHandler) Handle(_ context.Context, record slog.Record) error {
	fields := make([]zapcore.Field, 0, len(h.fields)+record.NumAttrs())
	fields = append(fields, h.fields...)

	record.Attrs(func(attr slog.Attr) bool {
		fields = append(fields, h.attrToField(attr))
		return true
	})

	if ce := h.logger.Check(slogLevelToZap(record.Level), record.Message); ce != nil {
		if !record.Time.IsZero() {
			ce.Time = record.Time
		}
		ce.Write(fields...)
	}
	return nil
}

func (h *slogZapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := make([]zapcore.Field, 0, len(h.fields)+len(attrs))
	next = append(next, h.fields...)
	for _, attr := range attrs {
		next = append(next, h.attrToField(attr))
	}
	return &slogZapHandler{logger: h.logger, fields: next, groups: h.groups}
}

func (h *slogZapHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &slogZapHandler{logger: h.logger, fields: h.fields, groups: groups}
}

func (h *slogZapHandler) attrToField(attr slog.Attr) zapcore.Field {
	key := attr.Key
	for i := len(h.groups) - 1; i >= 0; i-- {
		key = h.groups[i] + "." + key
	}

	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindBool:
		return zap.Bool(key, value.Bool())
	case slog.KindInt64:
		return zap.Int64(key, value.Int64())
	case slog.KindUint64:
		return zap.Uint64(key, value.Uint64())
	case slog.KindFloat64:
		return zap.Float64(key, value.Float64())
	case slog.KindString:
		return zap.String(key, value.String())
	case slog.KindDuration:
		return zap.Duration(key, value.Duration())
	case slog.KindTime:
		return zap.Time(key, value.Time())
	case slog.KindGroup:
		attrs := value.Group()
		inner := make(map[string]any, len(attrs))
		for _, a := range attrs {
			inner[a.Key] = a.Value.Any()
		}
		return zap.Any(key, inner)
	default:
		return zap.Any(key, value.Any())
	}
}

func slogLevelToZap(level slog.Level) zapcore.Level {
	switch {
	case level >= slog.LevelError:
		return zapcore.ErrorLevel
	case level >= slog.LevelWarn:
		return zapcore.WarnLevel
	case level >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
