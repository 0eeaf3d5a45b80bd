// Package keyboard debounces raw matrix scans with a per-key counter and
// reports which keys changed their stable state.
package keyboard

import (
	"github.com/chase3718/matrix-midi/internal/matrix"
)

// DefaultThreshold is the number of consecutive disagreeing reads that flip
// a key's stable state.
const DefaultThreshold = 3

// Change is one key whose stable state flipped in the last Update.
type Change struct {
	Key     matrix.KeyIndex
	Pressed bool
}

// State holds the debounce state of all 64 keys. It is not safe for
// concurrent use.
type State struct {
	threshold uint8
	raw       matrix.Bitmap
	stable    matrix.Bitmap
	previous  matrix.Bitmap
	counters  [matrix.NumKeys]uint8
}

// NewState returns an all-released state. A threshold below 1 means
// DefaultThreshold.
func NewState(threshold int) *State {
	if threshold < 1 || threshold > 255 {
		threshold = DefaultThreshold
	}
	return &State{threshold: uint8(threshold)}
}

// Update feeds one raw scan and returns the keys whose stable state flipped.
// A key flips only after threshold consecutive reads that disagree with its
// stable state; a single agreeing read resets its counter.
func (s *State) Update(raw matrix.Bitmap) matrix.Bitmap {
	s.raw = raw
	s.previous = s.stable
	for i := matrix.KeyIndex(0); i < matrix.NumKeys; i++ {
		if raw.Has(i) == s.stable.Has(i) {
			s.counters[i] = 0
			continue
		}
		s.counters[i]++
		if s.counters[i] >= s.threshold {
			if raw.Has(i) {
				s.stable = s.stable.Set(i)
			} else {
				s.stable = s.stable.Clear(i)
			}
			s.counters[i] = 0
		}
	}
	return s.stable ^ s.previous
}

// Changes lists the flips of the last Update in ascending key order.
func (s *State) Changes() []Change {
	diff := s.stable ^ s.previous
	changes := make([]Change, 0, diff.Count())
	for _, k := range diff.Keys() {
		changes = append(changes, Change{Key: k, Pressed: s.stable.Has(k)})
	}
	return changes
}

func (s *State) Raw() matrix.Bitmap      { return s.raw }
func (s *State) Stable() matrix.Bitmap   { return s.stable }
func (s *State) Previous() matrix.Bitmap { return s.previous }

// Counter returns the debounce counter of key k.
func (s *State) Counter(k matrix.KeyIndex) int {
	if !k.Valid() {
		return 0
	}
	return int(s.counters[k])
}

// Reset releases every key and clears all counters.
func (s *State) Reset() {
	*s = State{threshold: s.threshold}
}
