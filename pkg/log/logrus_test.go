package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLogrusLoggerImplementsLoggerInterface(t *testing.T) {
	var i interface{} = new(LogrusLogger)
	if _, ok := i.(Logger); !ok {
		t.Errorf("expected %T to implement Logger interface", i)
	}
}

func TestLogrusLoggerWithAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})

	logger := NewLogrusLogger(base)
	scoped := logger.With("conn_id", "c-1")
	scoped.Warnf("disconnected")

	require.Contains(t, buf.String(), `"conn_id":"c-1"`)
}
