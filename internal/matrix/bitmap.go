package matrix

import (
	"fmt"
	"math/bits"
	"strings"
)

const (
	Rows    = 8
	Cols    = 8
	NumKeys = Rows * Cols
)

// KeyIndex identifies a matrix position as row*8+col.
type KeyIndex uint8

// Index returns the key at row, col.
func Index(row, col int) KeyIndex {
	return KeyIndex(row*Cols + col)
}

func (k KeyIndex) Row() int { return int(k) / Cols }
func (k KeyIndex) Col() int { return int(k) % Cols }

func (k KeyIndex) Valid() bool { return k < NumKeys }

func (k KeyIndex) String() string {
	return fmt.Sprintf("r%dc%d", k.Row(), k.Col())
}

// Bitmap holds one bit per key; bit i is KeyIndex i.
type Bitmap uint64

func (b Bitmap) Has(k KeyIndex) bool {
	return k < NumKeys && b&(1<<k) != 0
}

// Set returns b with key k set. Out of range keys are ignored.
func (b Bitmap) Set(k KeyIndex) Bitmap {
	if k >= NumKeys {
		return b
	}
	return b | 1<<k
}

func (b Bitmap) Clear(k KeyIndex) Bitmap {
	if k >= NumKeys {
		return b
	}
	return b &^ (1 << k)
}

func (b Bitmap) Count() int { return bits.OnesCount64(uint64(b)) }

// Keys lists the set keys in ascending order.
func (b Bitmap) Keys() []KeyIndex {
	keys := make([]KeyIndex, 0, b.Count())
	for v := uint64(b); v != 0; v &= v - 1 {
		keys = append(keys, KeyIndex(bits.TrailingZeros64(v)))
	}
	return keys
}

// Low32 is the first four rows only, the width older firmware reported.
func (b Bitmap) Low32() uint32 { return uint32(b) }

// Row returns the 8 column bits of one row.
func (b Bitmap) Row(row int) byte { return byte(b >> (row * Cols)) }

// String renders the matrix as eight rows of '.' and '#', row 0 first.
func (b Bitmap) String() string {
	var sb strings.Builder
	for r := 0; r < Rows; r++ {
		if r > 0 {
			sb.WriteByte('/')
		}
		for c := 0; c < Cols; c++ {
			if b.Has(Index(r, c)) {
				sb.WriteByte('#')
			} else {
				sb.WriteByte('.')
			}
		}
	}
	return sb.String()
}
