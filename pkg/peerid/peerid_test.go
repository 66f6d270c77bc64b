package peerid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsUniqueAndRoundTrips(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "two random peer ids should not collide")

	parsed, err := FromHex(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestFromBytesRejectsWrongLength(t *testing.T) {
	_, err := FromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestLessIsTotalOrderOverBytes(t *testing.T) {
	a := PeerId{0x01}
	b := PeerId{0x02}

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 0, a.Compare(a))
}

func TestIsNil(t *testing.T) {
	assert.True(t, Nil.IsNil())
	id, err := New()
	require.NoError(t, err)
	assert.False(t, id.IsNil())
}
