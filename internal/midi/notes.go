package midi

import (
	"fmt"
	"math"
)

// InvalidNote is returned by NoteNameToNumber for anything it cannot parse.
const InvalidNote uint8 = 255

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// flats maps a flat to the sharp of the letter below. C and F have none.
var flats = map[byte]byte{'D': 'C', 'E': 'D', 'G': 'F', 'A': 'G', 'B': 'A'}

// NoteNameToNumber parses names like "C4", "F#3" or "Bb5" with octave 0..9,
// where C4 is 60. It returns InvalidNote for unknown letters, flats of C or
// F, a missing or extra octave digit, and results above 127.
func NoteNameToNumber(name string) uint8 {
	if len(name) < 2 {
		return InvalidNote
	}
	letter, sharp, rest := name[0], false, name[1:]
	switch rest[0] {
	case '#':
		sharp, rest = true, rest[1:]
	case 'b':
		l, ok := flats[letter]
		if !ok {
			return InvalidNote
		}
		letter, sharp, rest = l, true, rest[1:]
	}
	if len(rest) != 1 || rest[0] < '0' || rest[0] > '9' {
		return InvalidNote
	}
	octave := int(rest[0] - '0')

	want := string(letter)
	if sharp {
		want += "#"
	}
	for semitone, n := range noteNames {
		if n != want {
			continue
		}
		note := (octave+1)*12 + semitone
		if note > maxData {
			return InvalidNote
		}
		return uint8(note)
	}
	return InvalidNote
}

// NoteToFrequency returns the equal-tempered pitch of note in Hz with A4
// (69) at 440 Hz, or 0 for notes above 127.
func NoteToFrequency(note uint8) float64 {
	if note > maxData {
		return 0
	}
	return 440 * math.Pow(2, (float64(note)-69)/12)
}

// NoteName is the inverse of NoteNameToNumber, using sharps.
func NoteName(note uint8) string {
	if note > maxData {
		return fmt.Sprintf("?%d", note)
	}
	return fmt.Sprintf("%s%d", noteNames[note%12], int(note/12)-1)
}
