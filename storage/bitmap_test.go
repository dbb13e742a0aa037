package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmap_SetAndLoad(t *testing.T) {
	data := make([]byte, 16)
	b := AsBitmap(data, 100)

	assert.False(t, b.LoadBit(0))
	prev := b.SetBit(0, true)
	assert.False(t, prev)
	assert.True(t, b.LoadBit(0))

	prev = b.SetBit(0, true)
	assert.True(t, prev)

	b.SetBit(99, true)
	assert.True(t, b.LoadBit(99))
	b.SetBit(99, false)
	assert.False(t, b.LoadBit(99))
}

// TestBitmap_WholeQueries exercises the word-stride paths with a bit count
// that is neither byte- nor word-aligned.
func TestBitmap_WholeQueries(t *testing.T) {
	const numBits = 131 // 16 full bytes + 3 tail bits
	data := make([]byte, BitmapBytes(numBits))
	b := AsBitmap(data, numBits)

	assert.True(t, b.NoneSet())
	assert.False(t, b.AllSet())
	assert.Equal(t, 0, b.CountSet())

	for i := 0; i < numBits; i++ {
		b.SetBit(i, true)
	}
	assert.True(t, b.AllSet())
	assert.False(t, b.NoneSet())
	assert.Equal(t, numBits, b.CountSet())

	b.SetBit(numBits-1, false)
	assert.False(t, b.AllSet())
	assert.Equal(t, numBits-1, b.CountSet())

	// Setting the cleared last bit again restores the all-set state.
	b.SetBit(numBits-1, true)
	require.True(t, b.AllSet())
}

func TestBitmap_FindFirstZero(t *testing.T) {
	const numBits = 70
	data := make([]byte, BitmapBytes(numBits))
	b := AsBitmap(data, numBits)

	assert.Equal(t, 0, b.FindFirstZero(0))

	for i := 0; i < 65; i++ {
		b.SetBit(i, true)
	}
	assert.Equal(t, 65, b.FindFirstZero(0))
	assert.Equal(t, 65, b.FindFirstZero(65))

	// Wrap-around: everything from the hint onward is set.
	for i := 65; i < numBits; i++ {
		b.SetBit(i, true)
	}
	b.SetBit(3, false)
	assert.Equal(t, 3, b.FindFirstZero(60))

	b.SetBit(3, true)
	assert.Equal(t, -1, b.FindFirstZero(0))
}
