package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

// Setup installs a JSON slog handler as the process default and returns it.
// Every line carries the service name, and the environment when provided. The
// minimum level is read from LENDBOOK_LOG_LEVEL (debug, info, warn, error),
// defaulting to info.
func Setup(service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       levelFromEnv(),
		ReplaceAttr: renameCoreKeys,
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	base := slog.New(handler.WithAttrs(attrs))
	slog.SetDefault(base)

	// Route the standard library logger through the same handler so
	// dependencies that still use log.Printf end up in the JSON stream.
	bridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	bridge.SetFlags(0)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

// renameCoreKeys maps slog's default keys onto the field names the log
// pipeline indexes: timestamp, severity and message.
func renameCoreKeys(groups []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "timestamp"
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		attr.Key = "message"
	}
	return attr
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LENDBOOK_LOG_LEVEL"))) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
