package log

import "io"

// Writer returns an io.Writer that forwards each Write as a single Info log
// line, for consumers (such as the access-log handler on fabricd's
// telemetry listener) that only know how to log through an io.Writer rather
// than this package's Logger interface.
func Writer(logger Logger) io.Writer {
	return writerAdapter{logger}
}

type writerAdapter struct{ logger Logger }

func (w writerAdapter) Write(p []byte) (int, error) {
	w.logger.Info(string(p))
	return len(p), nil
}
