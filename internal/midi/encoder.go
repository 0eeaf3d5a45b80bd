// Package midi builds MIDI channel messages for the key matrix and hands
// them to a byte transport.
package midi

import (
	"fmt"
	"log/slog"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
)

const (
	MinChannel = 1
	MaxChannel = 16

	maxData = 127

	PitchBendMin = -8192
	PitchBendMax = 8191

	// CCAllNotesOff is the channel mode controller that silences a channel.
	CCAllNotesOff = 123
)

// Sender delivers encoded bytes, in order and unmodified.
type Sender interface {
	Send(msg []byte) error
}

type Options struct {
	// Channel is the channel silenced by Init. Zero means 1.
	Channel uint8
	Logger  *slog.Logger
}

// Stats counts what the encoder did with its messages.
type Stats struct {
	Sent    int // handed to the sender without error
	Dropped int // rejected by range checks or sent before Init
	Failed  int // returned an error from the sender
}

// Encoder validates and encodes channel messages. Invalid arguments are
// dropped without an error so that a bad mapping never stalls the keys.
type Encoder struct {
	mu          sync.Mutex
	out         Sender
	channel     uint8
	initialized bool
	stats       Stats
	logger      *slog.Logger
}

func NewEncoder(out Sender, opts Options) *Encoder {
	e := &Encoder{out: out, channel: opts.Channel, logger: opts.Logger}
	if e.channel < MinChannel || e.channel > MaxChannel {
		e.channel = MinChannel
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Init enables sending and clears stuck notes on the default channel.
func (e *Encoder) Init() {
	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()
	e.AllNotesOff(e.channel)
	e.logger.Info("midi: encoder ready", "channel", e.channel)
}

// Initialized reports whether Init has run.
func (e *Encoder) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

func (e *Encoder) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func validChannel(ch uint8) bool { return ch >= MinChannel && ch <= MaxChannel }

func (e *Encoder) drop(kind string, args ...any) {
	e.mu.Lock()
	e.stats.Dropped++
	e.mu.Unlock()
	e.logger.Debug("midi: message dropped", append([]any{"kind", kind}, args...)...)
}

// NoteOn sends a note start. Velocity 0 is rejected since receivers treat
// it as a note end.
func (e *Encoder) NoteOn(ch, note, vel uint8) {
	if !validChannel(ch) || note > maxData || vel < 1 || vel > maxData {
		e.drop("note_on", "ch", ch, "note", note, "vel", vel)
		return
	}
	e.SendRaw(gomidi.NoteOn(ch-1, note, vel))
}

func (e *Encoder) NoteOff(ch, note, vel uint8) {
	if !validChannel(ch) || note > maxData || vel > maxData {
		e.drop("note_off", "ch", ch, "note", note, "vel", vel)
		return
	}
	e.SendRaw(gomidi.NoteOffVelocity(ch-1, note, vel))
}

func (e *Encoder) ControlChange(ch, controller, value uint8) {
	if !validChannel(ch) || controller > maxData || value > maxData {
		e.drop("control_change", "ch", ch, "controller", controller, "value", value)
		return
	}
	e.SendRaw(gomidi.ControlChange(ch-1, controller, value))
}

func (e *Encoder) ProgramChange(ch, program uint8) {
	if !validChannel(ch) || program > maxData {
		e.drop("program_change", "ch", ch, "program", program)
		return
	}
	e.SendRaw(gomidi.ProgramChange(ch-1, program))
}

// PitchBend sends a 14-bit bend centered on 0. Values outside
// PitchBendMin..PitchBendMax are dropped, not clamped.
func (e *Encoder) PitchBend(ch uint8, value int) {
	if !validChannel(ch) || value < PitchBendMin || value > PitchBendMax {
		e.drop("pitch_bend", "ch", ch, "value", value)
		return
	}
	e.SendRaw(gomidi.Pitchbend(ch-1, int16(value)))
}

func (e *Encoder) AllNotesOff(ch uint8) {
	e.ControlChange(ch, CCAllNotesOff, 0)
}

// SendRaw hands msg to the sender as is. Nothing is sent before Init or for
// an empty message. A sender error is logged and counted, not returned.
func (e *Encoder) SendRaw(msg []byte) {
	e.mu.Lock()
	if !e.initialized || len(msg) == 0 {
		e.stats.Dropped++
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if err := e.out.Send(msg); err != nil {
		e.mu.Lock()
		e.stats.Failed++
		e.mu.Unlock()
		e.logger.Warn("midi: send failed", "msg", gomidi.Message(msg).String(), "err", err)
		return
	}
	e.mu.Lock()
	e.stats.Sent++
	e.mu.Unlock()
	e.logger.Debug("midi: sent", "msg", gomidi.Message(msg).String(), "bytes", fmt.Sprintf("% X", msg))
}
