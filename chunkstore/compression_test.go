package chunkstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/replaybuf/testutil"
)

func TestCompressRoundtrip(t *testing.T) {
	// Repetitive payload so both codecs actually compress.
	payload := bytes.Repeat([]byte("timestep-observation-"), 500)

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		block, err := CompressData(payload, c)
		require.NoError(t, err)

		got, err := DecompressData(block, c)
		require.NoError(t, err)
		assert.Equal(t, payload, got)

		if c != CompressionNone {
			assert.Less(t, len(block), len(payload))
		}
	}
}

func TestCompressIncompressibleStoredRaw(t *testing.T) {
	rng := testutil.NewRNG(42)
	payload := rng.Bytes(4096)

	for _, c := range []Compression{CompressionLZ4, CompressionZSTD} {
		block, err := CompressData(payload, c)
		require.NoError(t, err)

		// Random bytes fall back to stored form, header included.
		assert.Equal(t, blockHeaderSize+len(payload), len(block))

		got, err := DecompressData(block, c)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	}
}

func TestDecompressRejectsTruncatedBlock(t *testing.T) {
	_, err := DecompressData([]byte{1, 2, 3}, CompressionZSTD)
	assert.Error(t, err)

	block, err := CompressData(bytes.Repeat([]byte("abc"), 100), CompressionZSTD)
	require.NoError(t, err)
	_, err = DecompressData(block[:len(block)-4], CompressionZSTD)
	assert.Error(t, err)
}

func TestCompressUnknownType(t *testing.T) {
	_, err := CompressData([]byte("x"), Compression(99))
	assert.Error(t, err)
}
