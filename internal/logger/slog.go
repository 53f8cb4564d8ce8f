package logger

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Value written instead of secrets
const redacted = "[REDACTED]"

// Attribute keys never written as is, compared case insensitively
var sensitiveKeys = map[string]struct{}{
	"authorization":  {},
	"password":       {},
	"secret":         {},
	"secret_key":     {},
	"signature":      {},
	"token":          {},
	"access_token":   {},
	"webhook_secret": {},
}

var levels = map[string]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

func parseLevel(level string) (slog.Level, error) {
	lvl, ok := levels[strings.ToLower(level)]
	if !ok {
		return 0, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}

// slogLogger writes records straight to the handler so source points to the caller of Info, Warn, etc
type slogLogger struct {
	h slog.Handler
}

func (l *slogLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l *slogLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args) }
func (l *slogLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args) }
func (l *slogLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

func (l *slogLogger) With(args ...any) Logger {
	if len(args) == 0 {
		return l
	}
	r := slog.NewRecord(time.Time{}, 0, "", 0)
	r.Add(args...)

	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	return &slogLogger{h: l.h.WithAttrs(attrs)}
}

func (l *slogLogger) WithGroup(name string) Logger {
	if name == "" {
		return l
	}
	return &slogLogger{h: l.h.WithGroup(name)}
}

// Frames skipped: runtime.Callers, log and the exported level method
const callerDepth = 3

func (l *slogLogger) log(level slog.Level, msg string, args []any) {
	ctx := context.Background()
	if !l.h.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(callerDepth, pcs[:])

	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.h.Handle(ctx, r)
}

// replaceAttr shortens source to file name and hides values of sensitive keys
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.SourceKey {
		if src, ok := a.Value.Any().(*slog.Source); ok {
			return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
		return a
	}

	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, redacted)
	}
	return a
}
