package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum_KnownVectors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want uint32
	}{
		{"empty", nil, 0x00000000},
		{"check string", []byte("123456789"), 0xCBF43926},
		{"single zero", []byte{0}, 0xD202EF8D},
		{"quick fox", []byte("The quick brown fox jumps over the lazy dog"), 0x414FA339},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sum(tt.in))
		})
	}
}

// Table-driven reference implementation with the documented constants.
func referenceCRC(data []byte) uint32 {
	var table [256]uint32
	for i := range table {
		c := uint32(i)
		for k := 0; k < 8; k++ {
			if c&1 == 1 {
				c = 0xEDB88320 ^ (c >> 1)
			} else {
				c >>= 1
			}
		}
		table[i] = c
	}
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = (crc >> 8) ^ table[(crc^uint32(b))&0xFF]
	}
	return crc ^ 0xFFFFFFFF
}

func TestSum_MatchesReferenceTable(t *testing.T) {
	sector := make([]byte, 512)
	for i := range sector {
		sector[i] = byte(i * 7)
	}
	assert.Equal(t, referenceCRC(sector), Sum(sector))
	assert.Equal(t, referenceCRC(make([]byte, 4096)), Sum(make([]byte, 4096)))
}

func TestSum_Deterministic(t *testing.T) {
	data := []byte("sector payload")
	require.Equal(t, Sum(data), Sum(data))
	require.True(t, Match(data, Sum(data)))
}

func TestSum_SingleBitFlip(t *testing.T) {
	base := make([]byte, 512)
	want := Sum(base)
	for _, bit := range []int{0, 1, 7, 8, 511*8 + 7, 2049} {
		flipped := append([]byte(nil), base...)
		flipped[bit/8] ^= 1 << (bit % 8)
		assert.NotEqual(t, want, Sum(flipped), "bit %d", bit)
		assert.False(t, Match(flipped, want))
	}
}
