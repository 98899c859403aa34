package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	v := New([]byte("hello"), 7, 99)
	decoded, err := FromBytes(v.Bytes())
	require.NoError(t, err)
	assert.Equal(t, v.Data, decoded.Data)
	assert.Equal(t, v.Flags, decoded.Flags)
	assert.Equal(t, v.Exptime, decoded.Exptime)
}

func TestRoundTripEmptyData(t *testing.T) {
	v := New(nil, 0, 0)
	decoded, err := FromBytes(v.Bytes())
	require.NoError(t, err)
	assert.Empty(t, decoded.Data)
}

func TestNewCopiesInputSlice(t *testing.T) {
	data := []byte("abc")
	v := New(data, 0, 0)
	data[0] = 'z'
	assert.Equal(t, "abc", string(v.Data))
}

func TestFromBytesRejectsTruncatedBuffer(t *testing.T) {
	_, err := FromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestFromBytesRejectsEmptyBuffer(t *testing.T) {
	_, err := FromBytes(nil)
	assert.Error(t, err)
}
