package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlogLoggerWithAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	scoped := logger.With("conn_id", "c-1", "tenant_id", "t-1")
	scoped.Infof("hello %s", "world")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "c-1", line["conn_id"])
	require.Equal(t, "t-1", line["tenant_id"])
	require.Equal(t, "hello world", line["msg"])
}

func TestSlogLoggerImplementsLoggerInterface(t *testing.T) {
	var i interface{} = new(SlogLogger)
	if _, ok := i.(Logger); !ok {
		t.Errorf("expected %T to implement Logger interface", i)
	}
}
