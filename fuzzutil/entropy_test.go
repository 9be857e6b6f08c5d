package fuzzutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumBitsBoundaryValues(t *testing.T) {
	assert.Equal(t, 0, numBits(0))
	assert.Equal(t, 1, numBits(1))
	assert.Equal(t, 2, numBits(2))
	assert.Equal(t, 2, numBits(3))
	assert.Equal(t, 3, numBits(4))
	assert.Equal(t, 3, numBits(7))
	assert.Equal(t, 4, numBits(8))
	assert.Equal(t, 4, numBits(15))
	assert.Equal(t, 5, numBits(16))
}

func TestReadBitOrder(t *testing.T) {
	e := NewEntropy([]byte{0b10110010})
	want := []bool{false, true, false, false, true, true, false, true}
	for i, w := range want {
		assert.Equal(t, w, e.ReadBit(), "bit %d", i)
	}
}

func TestReadBitsPacksLowBitsFirst(t *testing.T) {
	e := NewEntropy([]byte{0x83, 0x92})
	assert.Equal(t, 0x3, e.ReadBits(4))
	assert.Equal(t, 0x28, e.ReadBits(8))
	assert.Equal(t, 1, e.ReadBits(2))
	assert.Equal(t, 2, e.ReadBits(2))
}

func TestReadRangeMatchesReferenceSequence(t *testing.T) {
	e := NewEntropy([]byte{0x2b})
	assert.Equal(t, 3, e.ReadRange(0, 7))
	assert.Equal(t, 6, e.ReadRange(1, 8))
	assert.Equal(t, 4, e.ReadRange(4, 6))

	e = NewEntropy([]byte{0x2b})
	assert.Equal(t, 2, e.ReadRange(0, 8))
	assert.Equal(t, 5, e.ReadRange(3, 15))
}

func TestReadRangeAlwaysWithinBounds(t *testing.T) {
	data := []byte{0x00, 0xff, 0x5a, 0x3c, 0x91}
	e := NewEntropy(data)
	for !e.IsEmpty() {
		v := e.ReadRange(5, 19)
		assert.GreaterOrEqual(t, v, 5)
		assert.LessOrEqual(t, v, 19)
	}
}

func TestReadRangeOverflowCanExceedMax(t *testing.T) {
	// All-zero entropy drives every read bit to 0, so the fold-down lands
	// on the canonical "too large" value (0) and ReadRangeOverflow reports
	// the sentinel instead of a value in range.
	e := NewEntropy([]byte{0x00, 0x00})
	v := e.ReadRangeOverflow(0, 3)
	assert.Equal(t, maxRange, v)
}

func TestReadPastEndYieldsZeroBits(t *testing.T) {
	e := NewEntropy(nil)
	assert.True(t, e.IsEmpty())
	assert.False(t, e.ReadBit())
	assert.Equal(t, 0, e.ReadRange(0, 100))
}
