package midi

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	msgs [][]byte
	err  error
}

func (r *recorder) Send(msg []byte) error {
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, append([]byte(nil), msg...))
	return nil
}

func newEncoder(t *testing.T) (*Encoder, *recorder) {
	t.Helper()
	rec := &recorder{}
	e := NewEncoder(rec, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	e.Init()
	require.Equal(t, [][]byte{{0xB0, 123, 0}}, rec.msgs, "init silences channel 1")
	rec.msgs = nil
	return e, rec
}

func TestNothingBeforeInit(t *testing.T) {
	rec := &recorder{}
	e := NewEncoder(rec, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	e.NoteOn(1, 60, 100)
	e.SendRaw([]byte{0x90, 60, 100})
	assert.Empty(t, rec.msgs)
	assert.False(t, e.Initialized())
	assert.Equal(t, 2, e.Stats().Dropped)
}

func TestInitChannel(t *testing.T) {
	rec := &recorder{}
	e := NewEncoder(rec, Options{Channel: 10, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	e.Init()
	assert.Equal(t, [][]byte{{0xB9, 123, 0}}, rec.msgs)
}

func TestChannelMessages(t *testing.T) {
	e, rec := newEncoder(t)

	e.NoteOn(1, 60, 100)
	e.NoteOff(1, 60, 0)
	e.NoteOn(16, 127, 127)
	e.NoteOff(3, 64, 64)
	e.ControlChange(2, 7, 100)
	e.ProgramChange(5, 12)
	e.AllNotesOff(4)

	assert.Equal(t, [][]byte{
		{0x90, 60, 100},
		{0x80, 60, 0},
		{0x9F, 127, 127},
		{0x82, 64, 64},
		{0xB1, 7, 100},
		{0xC4, 12},
		{0xB3, 123, 0},
	}, rec.msgs)
	assert.Equal(t, 8, e.Stats().Sent, "includes the init message")
}

func TestPitchBend(t *testing.T) {
	e, rec := newEncoder(t)
	e.PitchBend(1, 0)
	e.PitchBend(1, PitchBendMin)
	e.PitchBend(1, PitchBendMax)
	e.PitchBend(2, 1)
	assert.Equal(t, [][]byte{
		{0xE0, 0x00, 0x40},
		{0xE0, 0x00, 0x00},
		{0xE0, 0x7F, 0x7F},
		{0xE1, 0x01, 0x40},
	}, rec.msgs)
}

func TestOutOfRangeEmitsNothing(t *testing.T) {
	e, rec := newEncoder(t)

	e.NoteOn(17, 60, 100)
	e.NoteOn(1, 128, 100)
	e.NoteOn(0, 60, 100)
	e.NoteOn(1, 60, 0)
	e.NoteOn(1, 60, 128)
	e.NoteOff(1, 200, 0)
	e.ControlChange(1, 128, 0)
	e.ControlChange(1, 1, 128)
	e.ProgramChange(17, 0)
	e.ProgramChange(1, 128)
	e.PitchBend(1, 8192)
	e.PitchBend(1, -8193)
	e.AllNotesOff(0)
	e.SendRaw(nil)

	assert.Empty(t, rec.msgs)
	assert.Equal(t, 14, e.Stats().Dropped)
}

func TestSendErrorIsCounted(t *testing.T) {
	e, rec := newEncoder(t)
	rec.err = errors.New("port gone")
	assert.NotPanics(t, func() { e.NoteOn(1, 60, 100) })
	assert.Equal(t, 1, e.Stats().Failed)

	rec.err = nil
	e.SendRaw([]byte{0xF8})
	assert.Equal(t, [][]byte{{0xF8}}, rec.msgs)
}
