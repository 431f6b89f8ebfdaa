package logging

import (
	"context"
	"fmt"
	"log/slog"
)

// Wrap exposes a Log as a *slog.Logger for libraries that speak slog. The
// optional filter drops records before they are written.
func Wrap(l Log, filter func(string, context.Context, slog.Record) bool) *slog.Logger {
	if h, ok := l.(*levelLogger); ok {
		h.filter = filter
		return slog.New(h)
	}
	return slog.Default()
}

func (ll *levelLogger) Enabled(ctx context.Context, level slog.Level) bool {
	switch level {
	case slog.LevelDebug:
		return ll.TraceEnabled() || ll.DebugEnabled()
	case slog.LevelInfo:
		return ll.InfoEnabled()
	case slog.LevelWarn:
		return ll.WarnEnabled()
	case slog.LevelError:
		return ll.ErrorEnabled()
	}
	return false
}

func (ll *levelLogger) Handle(ctx context.Context, r slog.Record) error {
	lvl := LevelDebug
	switch r.Level {
	case slog.LevelDebug:
		lvl = LevelDebug
	case slog.LevelInfo:
		lvl = LevelInfo
	case slog.LevelWarn:
		lvl = LevelWarn
	default:
		lvl = LevelError
	}
	if ll.filter != nil && !ll.filter(ll.name, ctx, r) {
		return nil
	}
	args := []any{r.Message}
	r.Attrs(func(a slog.Attr) bool {
		args = append(args, fmt.Sprintf("%v=%v", a.Key, a.Value))
		return true
	})
	ll.write(lvl, "", args)
	return nil
}

func (ll *levelLogger) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ll
}

func (ll *levelLogger) WithGroup(name string) slog.Handler {
	return ll
}
