package idcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeZero(t *testing.T) {
	assert.Equal(t, "A", Encode(0))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	values := []uint64{1, 62, 63, 1000, 1 << 32, ^uint64(0)}
	for _, v := range values {
		decoded, err := Decode(Encode(v))
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
	}
}

func TestDecodeRejectsEmptyAndInvalid(t *testing.T) {
	_, err := Decode("")
	assert.ErrorIs(t, err, ErrEmptyString)

	_, err = Decode("!!!")
	assert.ErrorIs(t, err, ErrInvalidChar)
}
