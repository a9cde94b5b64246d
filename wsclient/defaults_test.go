package wsclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{URL: "ws://example/ws", Token: "tok"}.withDefaults()
	require.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	require.Equal(t, DefaultReconnectInterval, cfg.ReconnectInterval)
	require.Equal(t, DefaultMaxReconnectAttempts, cfg.MaxReconnectAttempts)
	require.NotNil(t, cfg.Logger)
}

func TestConfigWithDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{
		URL:                  "ws://example/ws",
		Token:                "tok",
		ReconnectInterval:    250,
		MaxReconnectAttempts: 3,
	}.withDefaults()
	require.EqualValues(t, 250, cfg.ReconnectInterval)
	require.Equal(t, 3, cfg.MaxReconnectAttempts)
}
