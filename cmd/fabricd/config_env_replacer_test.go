package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type envReplacerChild struct {
	String string
	NotMe  string
}

type envReplacerFixture struct {
	Int    int
	String string
	Child  envReplacerChild
}

func TestReplaceEnvKeys(t *testing.T) {
	data := &envReplacerFixture{
		String: "$REPLACE_ME",
		Child: envReplacerChild{
			String: "$ME_TOO",
			NotMe:  "$DOES_NOT_EXIST",
		},
	}

	getenv := func(key string) string {
		switch key {
		case "REPLACE_ME":
			return "foo"
		case "ME_TOO":
			return "bar"
		default:
			return ""
		}
	}

	require.NoError(t, replaceEnvKeys(data, getenv))
	require.Equal(t, "foo", data.String)
	require.Equal(t, "bar", data.Child.String)
	require.Equal(t, "", data.Child.NotMe)
}

func TestReplaceEnvKeysLeavesNonDollarStringsAlone(t *testing.T) {
	data := &envReplacerFixture{String: "redis://localhost:6379"}
	require.NoError(t, replaceEnvKeys(data, func(string) string { return "should-not-be-used" }))
	require.Equal(t, "redis://localhost:6379", data.String)
}
