package keyboard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chase3718/matrix-midi/internal/matrix"
)

func bits(keys ...matrix.KeyIndex) matrix.Bitmap {
	var b matrix.Bitmap
	for _, k := range keys {
		b = b.Set(k)
	}
	return b
}

func TestPressNeedsThreeReads(t *testing.T) {
	s := NewState(DefaultThreshold)
	raw := bits(19)

	assert.Zero(t, s.Update(raw))
	assert.Equal(t, 1, s.Counter(19))
	assert.Zero(t, s.Update(raw))
	assert.Equal(t, 2, s.Counter(19))

	changes := s.Update(raw)
	assert.Equal(t, bits(19), changes)
	assert.Equal(t, bits(19), s.Stable())
	assert.Zero(t, s.Previous())
	assert.Equal(t, 0, s.Counter(19))
	assert.Equal(t, []Change{{Key: 19, Pressed: true}}, s.Changes())

	assert.Zero(t, s.Update(raw))
	assert.Empty(t, s.Changes())
}

func TestBounceNeverFlips(t *testing.T) {
	s := NewState(DefaultThreshold)
	for i := 0; i < 51; i++ {
		raw := bits(7)
		if i%3 == 2 {
			raw = 0
		}
		assert.Zero(t, s.Update(raw), "read %d", i)
	}
	assert.Zero(t, s.Stable())

	// two disagreeing reads then an agreeing one start over
	s.Update(bits(7))
	s.Update(bits(7))
	s.Update(0)
	assert.Equal(t, 0, s.Counter(7))
	s.Update(bits(7))
	s.Update(bits(7))
	assert.Zero(t, s.Stable())
}

func TestRelease(t *testing.T) {
	s := NewState(2)
	s.Update(bits(40))
	assert.Equal(t, bits(40), s.Update(bits(40)))
	s.Update(0)
	assert.Equal(t, bits(40), s.Update(0))
	assert.Equal(t, []Change{{Key: 40, Pressed: false}}, s.Changes())
	assert.Zero(t, s.Stable())
}

func TestChangesAscending(t *testing.T) {
	s := NewState(1)
	s.Update(bits(5, 63))
	assert.Equal(t, []Change{{Key: 5, Pressed: true}, {Key: 63, Pressed: true}}, s.Changes())

	s.Update(bits(0, 5))
	assert.Equal(t, []Change{{Key: 0, Pressed: true}, {Key: 63, Pressed: false}}, s.Changes())
	assert.Equal(t, bits(0, 5), s.Raw())
}

func TestKeysIndependent(t *testing.T) {
	s := NewState(DefaultThreshold)
	s.Update(bits(1))
	s.Update(bits(1, 2))
	assert.Equal(t, bits(1), s.Update(bits(1, 2)))
	assert.Equal(t, 2, s.Counter(2))
	assert.Equal(t, bits(2), s.Update(bits(1, 2)))
}

func TestReset(t *testing.T) {
	s := NewState(0)
	s.Update(bits(3))
	s.Update(bits(3))
	s.Update(bits(3))
	s.Update(0)
	s.Reset()
	assert.Zero(t, s.Stable())
	assert.Zero(t, s.Raw())
	assert.Equal(t, 0, s.Counter(3))
	s.Update(bits(3))
	s.Update(bits(3))
	assert.Equal(t, bits(3), s.Update(bits(3)), "threshold survives reset")
}
