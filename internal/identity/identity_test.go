package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPairAndNetworkID(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	id := kp.NetworkID()
	again := ComputeNetworkID(kp.Public)
	assert.Equal(t, id, again)
	assert.Len(t, id.Bytes(), 32)
}

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("challenge-bytes")
	sig := kp.Sign(msg)

	assert.True(t, Verify(kp.Public, msg, sig))
	assert.False(t, Verify(kp.Public, []byte("other"), sig))
}

func TestNetworkIDFromBytesRejectsWrongLength(t *testing.T) {
	_, err := NetworkIDFromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestNewChallengeIsRandomAndFixedSize(t *testing.T) {
	a, err := NewChallenge()
	require.NoError(t, err)
	b, err := NewChallenge()
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
