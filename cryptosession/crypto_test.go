package cryptosession

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionKeyWrapRoundTrip(t *testing.T) {
	secret := DeriveLongTermSecret("meow moew meow")

	sess, err := NewSession()
	require.NoError(t, err)

	encKeyB64, ivB64, err := SealSessionKey(secret, sess)
	require.NoError(t, err)

	unsealed, err := UnsealSessionKey(secret, encKeyB64, ivB64)
	require.NoError(t, err)
	require.Equal(t, sess.Key, unsealed.Key)
	require.Equal(t, sess.IV, unsealed.IV)
}

func TestUnsealSessionKeyRejectsWrongSecret(t *testing.T) {
	secret := DeriveLongTermSecret("token-a")
	otherSecret := DeriveLongTermSecret("token-b")

	sess, err := NewSession()
	require.NoError(t, err)

	encKeyB64, ivB64, err := SealSessionKey(secret, sess)
	require.NoError(t, err)

	_, err = UnsealSessionKey(otherSecret, encKeyB64, ivB64)
	require.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	sess, err := NewSession()
	require.NoError(t, err)

	plaintext := []byte(`{"action":"get","id":"1","collection":"test","key":"data"}`)
	wire, err := EncryptFrame(sess, plaintext)
	require.NoError(t, err)

	got, err := DecryptFrame(sess, wire)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestFrameEncryptionUsesFreshIVPerMessage(t *testing.T) {
	sess, err := NewSession()
	require.NoError(t, err)

	a, err := EncryptFrame(sess, []byte("same plaintext"))
	require.NoError(t, err)
	b, err := EncryptFrame(sess, []byte("same plaintext"))
	require.NoError(t, err)

	require.NotEqual(t, a, b, "two frames of identical plaintext must not produce identical ciphertext")
}

func TestDecryptFrameRejectsTamperedCiphertext(t *testing.T) {
	sess, err := NewSession()
	require.NoError(t, err)

	wire, err := EncryptFrame(sess, []byte("hello"))
	require.NoError(t, err)

	tampered := wire[:len(wire)-4] + "abcd"
	_, err = DecryptFrame(sess, tampered)
	require.Error(t, err)
}

func TestChannelIDIsDeterministicWithFixedLength(t *testing.T) {
	a := ChannelID("meow moew meow")
	b := ChannelID("meow moew meow")
	require.Equal(t, a, b)
	require.Len(t, a, len("channel_")+16)
}
