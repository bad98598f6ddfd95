package datauri

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripAroundChunkBoundary(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, size := range []int{0, 1, 100, ChunkSize - 1, ChunkSize, ChunkSize + 1, 3*ChunkSize + 17, 64 * 1024} {
		payload := make([]byte, size)
		rng.Read(payload)

		uri := Encode("image/jpeg", payload)
		decoded, mimeType, err := Decode(uri)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, "image/jpeg", mimeType)
		assert.True(t, bytes.Equal(payload, decoded), "size %d", size)
		assert.Equal(t, uri, Encode(mimeType, decoded), "size %d", size)
	}
}

func TestParse(t *testing.T) {
	uri, err := Parse("data:image/png;base64,QUJD")
	require.NoError(t, err)
	assert.Equal(t, "image/png", uri.MIMEType)
	assert.Equal(t, "QUJD", uri.Payload)

	uri, err = Parse("data:;base64,QUJD")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", uri.MIMEType)
}

func TestDecodeMalformed(t *testing.T) {
	for _, input := range []string{
		"",
		"QUJD",
		"data:image/png;base64",
		"data:image/png,QUJD",
		"data:image/png;base64,!!!not-base64!!!",
	} {
		_, _, err := Decode(input)
		assert.True(t, errors.Is(err, ErrMalformed), "input %q: %v", input, err)
	}
}

func TestFileExtension(t *testing.T) {
	assert.Equal(t, ".jpg", FileExtension("image/jpeg"))
	assert.Equal(t, ".png", FileExtension("image/png"))
	assert.Equal(t, ".bin", FileExtension("text/plain"))
}
