package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyIndex(t *testing.T) {
	k := Index(2, 3)
	assert.Equal(t, KeyIndex(19), k)
	assert.Equal(t, 2, k.Row())
	assert.Equal(t, 3, k.Col())
	assert.Equal(t, "r2c3", k.String())
	assert.True(t, Index(7, 7).Valid())
	assert.False(t, KeyIndex(64).Valid())
}

func TestBitmap(t *testing.T) {
	var b Bitmap
	b = b.Set(63).Set(0).Set(19).Set(64)
	assert.Equal(t, 3, b.Count())
	assert.True(t, b.Has(63))
	assert.False(t, b.Has(64))
	assert.Equal(t, []KeyIndex{0, 19, 63}, b.Keys())
	assert.Equal(t, byte(0x08), b.Row(2))

	b = b.Clear(0)
	assert.Equal(t, uint32(1<<19), b.Low32())
	assert.Empty(t, Bitmap(0).Keys())
	assert.Equal(t, "......../......../...#..../......../......../......../......../.......#", b.String())
}
