package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/storagefabric/fabric/pkg/log"
)

// newLogger builds the process-wide Logger from the config's level/format,
// the same text-or-json handler choice the teacher's cmd/dex/logger.go
// makes, but backed directly by slog rather than wrapped in the OIDC
// request-context handler that repo adds (this domain has no equivalent
// per-request-id middleware to thread through).
func newLogger(cfg Logger) (log.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("log format is not one of the supported values (text, json): %s", cfg.Format)
	}

	return log.NewSlogLogger(slog.New(handler)), nil
}

func parseLevel(level string) (slog.Level, error) {
	switch level {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log level is not one of the supported values (debug, info, warn, error): %s", level)
	}
}

// redisLogger builds a logrus-backed Logger for the Redis client's own
// diagnostics, matching the teacher project's dual slog/logrus split
// between application logging and third-party-library logging.
func redisLogger(lvl string) log.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	switch lvl {
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
	return log.NewLogrusLogger(l)
}

// redisLogAdapter satisfies go-redis's internal Logging interface
// (Printf(ctx, format, v...)) by forwarding to a Logger, so the driver's own
// connection-pool diagnostics land in the same log stream as the rest of
// the process.
type redisLogAdapter struct{ logger log.Logger }

func (a redisLogAdapter) Printf(_ context.Context, format string, v ...interface{}) {
	a.logger.Infof(format, v...)
}
