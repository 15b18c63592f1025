package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/config"
)

// Cleanup closes whatever the logger opened.
type Cleanup func() error

const redacted = "[redacted]"

// New builds the process logger. Output always goes to stdout and is
// mirrored to cfg.File when set.
func New(cfg config.LoggingConfig, service string) (*slog.Logger, Cleanup, error) {
	handlerOptions := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		AddSource:   true,
		ReplaceAttr: redactSecrets,
	}

	writers := []io.Writer{os.Stdout}
	var file *os.File
	if cfg.File != "" {
		if dir := filepath.Dir(cfg.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, err
			}
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		file = f
		writers = append(writers, file)
	}

	out := io.MultiWriter(writers...)
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, handlerOptions)
	} else {
		handler = slog.NewTextHandler(out, handlerOptions)
	}

	logger := slog.New(handler)
	if service != "" {
		logger = logger.With("service", service)
	}
	cleanup := func() error {
		if file == nil {
			return nil
		}
		return file.Close()
	}
	return logger, cleanup, nil
}

func parseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redactSecrets masks attribute values whose key names a credential.
// Callback payloads and gateway errors are logged verbatim elsewhere, so
// this keeps tokens out of log files.
func redactSecrets(_ []string, attr slog.Attr) slog.Attr {
	key := strings.ToLower(attr.Key)
	switch {
	case strings.Contains(key, "password"),
		strings.Contains(key, "secret"),
		strings.HasSuffix(key, "token"),
		key == "authorization",
		key == "init_data":
		return slog.String(attr.Key, redacted)
	}
	return attr
}
