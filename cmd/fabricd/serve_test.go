package main

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestNewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		logger, err := newLogger(Logger{Level: "info", Format: "json"})
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("text", func(t *testing.T) {
		logger, err := newLogger(Logger{Level: "error", Format: "text"})
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("unknown format", func(t *testing.T) {
		logger, err := newLogger(Logger{Level: "info", Format: "gofmt"})
		require.Error(t, err)
		require.Nil(t, logger)
	})

	t.Run("unknown level", func(t *testing.T) {
		logger, err := newLogger(Logger{Level: "verbose"})
		require.Error(t, err)
		require.Nil(t, logger)
	})
}

func TestApplyConfigOverrides(t *testing.T) {
	c := Config{Port: 3000, Telemetry: Telemetry{HTTP: "0.0.0.0:5558"}}
	applyConfigOverrides(serveOptions{port: 4001, telemetryAddr: "0.0.0.0:9999"}, &c)
	require.Equal(t, 4001, c.Port)
	require.Equal(t, "0.0.0.0:9999", c.Telemetry.HTTP)
}

func TestApplyConfigOverridesLeavesUnsetFieldsAlone(t *testing.T) {
	c := Config{Port: 3000}
	applyConfigOverrides(serveOptions{}, &c)
	require.Equal(t, 3000, c.Port)
}

func TestTokenValidator(t *testing.T) {
	t.Run("allow all", func(t *testing.T) {
		v := tokenValidator(Config{AllowAllTokens: true})
		require.True(t, v("anything"))
	})

	t.Run("allowlist", func(t *testing.T) {
		v := tokenValidator(Config{AllowedTokens: []string{"tok-a"}})
		require.True(t, v("tok-a"))
		require.False(t, v("tok-b"))
	})
}

func TestAdminTokenValidator(t *testing.T) {
	t.Run("empty list denies everyone", func(t *testing.T) {
		v := adminTokenValidator(Config{})
		require.False(t, v("tok-a"))
	})

	t.Run("listed admin token allowed", func(t *testing.T) {
		v := adminTokenValidator(Config{AdminTokens: []string{"tok-a"}})
		require.True(t, v("tok-a"))
		require.False(t, v("tok-b"))
	})

	t.Run("bcrypt hashed admin token allowed", func(t *testing.T) {
		hash, err := bcrypt.GenerateFromPassword([]byte("super-secret-admin-token"), bcrypt.DefaultCost)
		require.NoError(t, err)

		v := adminTokenValidator(Config{AdminTokens: []string{string(hash)}})
		require.True(t, v("super-secret-admin-token"))
		require.False(t, v("wrong-token"))
	})

	t.Run("plaintext and bcrypt entries coexist", func(t *testing.T) {
		hash, err := bcrypt.GenerateFromPassword([]byte("hashed-token"), bcrypt.DefaultCost)
		require.NoError(t, err)

		v := adminTokenValidator(Config{AdminTokens: []string{"plain-token", string(hash)}})
		require.True(t, v("plain-token"))
		require.True(t, v("hashed-token"))
		require.False(t, v("neither"))
	})
}
