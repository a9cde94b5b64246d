package main

import (
	"testing"

	"github.com/ghodss/yaml"
	"github.com/stretchr/testify/require"
)

func TestValidConfiguration(t *testing.T) {
	c := Config{
		Port:           3000,
		AllowAllTokens: true,
		Storage:        Storage{URL: "redis://localhost:6379"},
	}
	require.NoError(t, c.Validate())
}

func TestInvalidConfigurationReportsEveryCheck(t *testing.T) {
	c := Config{}
	err := c.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "port must be between 1 and 65535")
	require.Contains(t, err.Error(), "no storage url supplied in config file")
	require.Contains(t, err.Error(), "must set allowAllTokens or supply allowedTokens")
}

func TestApplyDefaults(t *testing.T) {
	var c Config
	c.applyDefaults()
	require.Equal(t, 3000, c.Port)
	require.Equal(t, defaultStorageURL, c.Storage.URL)
	require.Equal(t, defaultLogLevel, c.Logger.Level)
	require.Equal(t, defaultLogFormat, c.Logger.Format)
	require.Equal(t, defaultTelemetry, c.Telemetry.HTTP)
}

func TestUnmarshalConfig(t *testing.T) {
	raw := []byte(`
port: 4000
allowedTokens:
  - tok-a
  - tok-b
adminTokens:
  - tok-a
storage:
  url: redis://localhost:6379
  database: 2
logger:
  level: debug
  format: json
telemetry:
  http: 0.0.0.0:5558
`)
	var c Config
	require.NoError(t, yaml.Unmarshal(raw, &c))
	require.Equal(t, 4000, c.Port)
	require.Equal(t, []string{"tok-a", "tok-b"}, c.AllowedTokens)
	require.Equal(t, []string{"tok-a"}, c.AdminTokens)
	require.Equal(t, "redis://localhost:6379", c.Storage.URL)
	require.Equal(t, 2, c.Storage.Database)
	require.Equal(t, "debug", c.Logger.Level)
	require.Equal(t, "json", c.Logger.Format)
}
