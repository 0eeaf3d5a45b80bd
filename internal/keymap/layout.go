// Package keymap holds the per-key display labels and MIDI notes of the
// matrix. A Layout never changes after it is built.
package keymap

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/chase3718/matrix-midi/internal/matrix"
	"github.com/chase3718/matrix-midi/internal/midi"
)

var ErrLayout = errors.New("keymap: invalid layout")

// pianoBase is the note of key 0 in the default layout (C3).
const pianoBase = 48

var pianoLabels = [12]string{"C", "c#", "D", "d#", "E", "F", "f#", "G", "g#", "A", "a#", "B"}

// Layout maps each KeyIndex to a label and a note.
type Layout struct {
	labels [matrix.NumKeys]string
	notes  [matrix.NumKeys]uint8
}

// New builds a layout from two 64-entry tables. Notes must be 0..127.
func New(labels []string, notes []uint8) (*Layout, error) {
	if len(labels) != matrix.NumKeys || len(notes) != matrix.NumKeys {
		return nil, fmt.Errorf("%w: want %d labels and notes, got %d and %d",
			ErrLayout, matrix.NumKeys, len(labels), len(notes))
	}
	l := &Layout{}
	for i := range notes {
		if notes[i] > 127 {
			return nil, fmt.Errorf("%w: key %d note %d out of range", ErrLayout, i, notes[i])
		}
		l.notes[i] = notes[i]
		l.labels[i] = labels[i]
	}
	return l, nil
}

// DefaultPiano is a chromatic layout from C3 (key 0) to D#8 (key 63).
func DefaultPiano() *Layout {
	l := &Layout{}
	for i := 0; i < matrix.NumKeys; i++ {
		l.notes[i] = uint8(pianoBase + i)
		l.labels[i] = pianoLabels[i%12]
	}
	return l
}

func (l *Layout) Label(k matrix.KeyIndex) string {
	if !k.Valid() {
		return ""
	}
	return l.labels[k]
}

// Note returns the MIDI note of k; ok is false for an invalid key.
func (l *Layout) Note(k matrix.KeyIndex) (note uint8, ok bool) {
	if !k.Valid() {
		return 0, false
	}
	return l.notes[k], true
}

// Describe renders a key for logs, e.g. "g#4 G#4 r3c0".
func (l *Layout) Describe(k matrix.KeyIndex) string {
	n, ok := l.Note(k)
	if !ok {
		return k.String()
	}
	return fmt.Sprintf("%s %s %s", l.labels[k], midi.NoteName(n), k)
}

type layoutFile struct {
	Labels []string          `json:"labels"`
	Notes  []json.RawMessage `json:"notes"`
}

// Parse decodes a JSON layout. Notes may be numbers or names such as "C#3".
// Labels may be omitted, in which case the note names are used.
func Parse(data []byte) (*Layout, error) {
	var f layoutFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLayout, err)
	}
	notes := make([]uint8, len(f.Notes))
	for i, raw := range f.Notes {
		n, err := parseNote(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: key %d: %w", ErrLayout, i, err)
		}
		notes[i] = n
	}
	labels := f.Labels
	if labels == nil {
		labels = make([]string, len(notes))
		for i, n := range notes {
			labels[i] = midi.NoteName(n)
		}
	}
	return New(labels, notes)
}

func parseNote(raw json.RawMessage) (uint8, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		n := midi.NoteNameToNumber(name)
		if n == midi.InvalidNote {
			return 0, fmt.Errorf("bad note name %q", name)
		}
		return n, nil
	}
	n, err := strconv.ParseUint(string(raw), 10, 8)
	if err != nil || n > 127 {
		return 0, fmt.Errorf("bad note %s", raw)
	}
	return uint8(n), nil
}

// LoadFile reads a JSON layout from path.
func LoadFile(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keymap: read layout: %w", err)
	}
	return Parse(data)
}
