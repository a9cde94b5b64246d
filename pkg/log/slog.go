package log

import (
	"fmt"
	"log/slog"
)

// SlogLogger adapts a *slog.Logger to the Logger interface. This is the
// production default, wired the way the teacher project wired its
// cmd/dex/logger.go: a selectable text or JSON handler.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps logger.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

func (l *SlogLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *SlogLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *SlogLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *SlogLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }

func (l *SlogLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *SlogLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *SlogLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *SlogLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// With returns a Logger whose lines all carry keyvals as structured slog
// attributes.
func (l *SlogLogger) With(keyvals ...interface{}) Logger {
	return &SlogLogger{logger: l.logger.With(keyvals...)}
}
