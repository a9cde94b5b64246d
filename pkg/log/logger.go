// Package log provides a logger interface so the rest of this module does
// not depend on a specific logging library directly. The default
// implementation is backed by log/slog; LogrusLogger backs the Redis
// driver's own Printf-style logging hook.
package log

// Logger is the adapter interface every package in this module logs
// through.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// With returns a derived Logger that attaches keyvals (alternating
	// key, value, key, value...) to every subsequent line, the way the
	// teacher project's requestContextHandler attaches a request id and
	// remote IP pulled off the request context. Callers use it to carry
	// connection/channel/tenant ids without threading them through every
	// log call by hand.
	With(keyvals ...interface{}) Logger
}
