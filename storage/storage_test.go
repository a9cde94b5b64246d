package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorSatisfiesErrValidation(t *testing.T) {
	err := ValidateSchema(SchemaFunc(func(interface{}) error {
		return errors.New("must be a string")
	}), "widgets", "color", 42)

	require.Error(t, err)
	require.True(t, errors.Is(err, ErrValidation))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "widgets", verr.Collection)
}

func TestValidateSchemaAcceptsNilSchema(t *testing.T) {
	require.NoError(t, ValidateSchema(nil, "widgets", "color", 42))
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	require.False(t, errors.Is(ErrNotFound, ErrAlreadyExists))
	require.False(t, errors.Is(ErrAlreadyExists, ErrValidation))
	require.False(t, errors.Is(ErrTransport, ErrClosed))
}
