package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"alertrelay/internal/config"
	"alertrelay/internal/templatefmt"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBlue   = "\x1b[34m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiGray   = "\x1b[90m"
)

// New builds a logger for configured sinks tagged with the process name.
// String attributes pass through credential redaction: provider errors embed
// the bot token in request URLs.
// Params: service name and console/file sink settings.
// Returns: slog logger, cleanup callback, and setup error.
func New(service string, cfg config.LogConfig) (*slog.Logger, func(), error) {
	return newWithConsole(service, cfg, os.Stdout)
}

func newWithConsole(service string, cfg config.LogConfig, console io.Writer) (*slog.Logger, func(), error) {
	var (
		sinks   []slog.Handler
		closers []io.Closer
	)
	closeAll := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}

	if cfg.Console.Enabled {
		handler, err := sinkHandler("console", cfg.Console, &levelTintWriter{dst: console})
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, handler)
	}
	if cfg.File.Enabled {
		file, err := os.OpenFile(cfg.File.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", cfg.File.Path, err)
		}
		closers = append(closers, file)
		handler, err := sinkHandler("file", cfg.File, file)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, handler)
	}

	var handler slog.Handler
	switch len(sinks) {
	case 0:
		return nil, nil, errors.New("no log sinks enabled")
	case 1:
		handler = sinks[0]
	default:
		handler = fanoutHandler(sinks)
	}

	logger := slog.New(handler)
	if service != "" {
		logger = logger.With("service", service)
	}
	return logger, closeAll, nil
}

// sinkHandler builds a line or JSON handler for one sink. Console line output is tinted
// by level; the tint writer passes JSON and file output through unchanged.
func sinkHandler(name string, sink config.LogSinkConfig, dst io.Writer) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, fmt.Errorf("%s sink: %w", name, err)
	}
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redactAttr}

	switch sink.Format {
	case "line":
		return slog.NewTextHandler(dst, opts), nil
	case "json":
		if tint, ok := dst.(*levelTintWriter); ok {
			dst = tint.dst
		}
		return slog.NewJSONHandler(dst, opts), nil
	default:
		return nil, fmt.Errorf("%s sink: unsupported format %q", name, sink.Format)
	}
}

// redactAttr masks bot and bearer tokens in string and error values.
func redactAttr(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Value.Kind() {
	case slog.KindString:
		attr.Value = slog.StringValue(templatefmt.Redact(attr.Value.String()))
	case slog.KindAny:
		if err, ok := attr.Value.Any().(error); ok {
			attr.Value = slog.StringValue(templatefmt.Redact(err.Error()))
		}
	}
	return attr
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unsupported level %q", value)
	}
	return level, nil
}

// fanoutHandler sends one record to every sink that accepts its level.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range f {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle keeps writing to the remaining sinks after one fails.
func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var first error
	for _, handler := range f {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(handler slog.Handler) slog.Handler { return handler.WithAttrs(attrs) })
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	return f.each(func(handler slog.Handler) slog.Handler { return handler.WithGroup(name) })
}

func (f fanoutHandler) each(derive func(slog.Handler) slog.Handler) fanoutHandler {
	next := make(fanoutHandler, 0, len(f))
	for _, handler := range f {
		next = append(next, derive(handler))
	}
	return next
}

// levelTintWriter colors rendered text lines by their level marker.
type levelTintWriter struct {
	dst io.Writer
}

func (w *levelTintWriter) Write(payload []byte) (int, error) {
	tone := levelTone(payload)
	if tone == "" {
		return w.dst.Write(payload)
	}
	line := strings.TrimRight(string(payload), "\n")
	if _, err := io.WriteString(w.dst, tone+line+ansiReset+"\n"); err != nil {
		return 0, err
	}
	return len(payload), nil
}

var levelTones = []struct {
	marker string
	tone   string
}{
	{"level=DEBUG", ansiGray},
	{"level=INFO", ansiBlue},
	{"level=WARN", ansiYellow},
	{"level=ERROR", ansiRed},
}

func levelTone(payload []byte) string {
	line := string(payload)
	for _, candidate := range levelTones {
		if strings.Contains(line, candidate.marker) {
			return candidate.tone
		}
	}
	return ""
}
