package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// New builds a structured JSON logger writing to w. Every line carries the
// service name, plus the environment when provided; the "local" environment
// lowers the threshold to debug.
func New(w io.Writer, service, env string) *slog.Logger {
	return slog.New(handler(w, env)).With(attrsFor(service, env)...)
}

// Setup installs a process-wide JSON logger on stdout and returns it. The
// standard library logger is bridged onto the same handler so third-party
// packages logging through "log" land in the structured stream.
func Setup(service, env string) *slog.Logger {
	h := handler(os.Stdout, env)

	args := attrsFor(service, env)
	attrs := make([]slog.Attr, 0, len(args))
	for _, arg := range args {
		attrs = append(attrs, arg.(slog.Attr))
	}

	base := slog.New(h).With(args...)
	slog.SetDefault(base)

	stdBridge := slog.NewLogLogger(h.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

func handler(w io.Writer, env string) slog.Handler {
	level := slog.LevelInfo
	if strings.TrimSpace(env) == "local" {
		level = slog.LevelDebug
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})
}

func attrsFor(service, env string) []any {
	args := []any{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		args = append(args, slog.String("env", env))
	}
	return args
}
