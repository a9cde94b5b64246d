package presence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilderProducesValidUpdate(t *testing.T) {
	update, err := NewBuilder(StatusIdle).
		WithActivity(Activity{Name: "building a gateway", Type: ActivityPlaying}).
		WithAFK(true).
		Build()
	require.NoError(t, err)
	require.Equal(t, StatusIdle, update.Status)
	require.True(t, update.AFK)
	require.Len(t, update.Activities, 1)
}

func TestValidateRejectsEmptyName(t *testing.T) {
	a := Activity{Type: ActivityPlaying}
	require.Error(t, a.Validate())
}

func TestValidateRejectsStreamingWithoutURL(t *testing.T) {
	a := Activity{Name: "going live", Type: ActivityStreaming}
	require.Error(t, a.Validate())
}

func TestValidateRejectsUnknownStatus(t *testing.T) {
	u := Update{Status: "on-fire"}
	require.Error(t, u.Validate())
}

func TestMarshalPayloadRejectsInvalidUpdate(t *testing.T) {
	_, err := MarshalPayload(Update{Status: "bogus"})
	require.Error(t, err)
}
