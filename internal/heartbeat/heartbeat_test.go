package heartbeat

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeLED struct {
	toggles int
	offs    int
}

func (l *fakeLED) Toggle() { l.toggles++ }
func (l *fakeLED) Off()    { l.offs++ }

func TestBeat(t *testing.T) {
	led := &fakeLED{}
	h := New(led, slog.New(slog.NewTextHandler(io.Discard, nil)))

	h.Beat()
	assert.True(t, h.On())
	h.Beat()
	h.Beat()
	assert.True(t, h.On())
	assert.Equal(t, uint64(3), h.Beats())
	assert.Equal(t, 3, led.toggles)

	h.Stop()
	assert.False(t, h.On())
	assert.Equal(t, 1, led.offs)
}

func TestNilLED(t *testing.T) {
	h := New(nil, nil)
	assert.NotPanics(t, h.Beat)
	assert.NotPanics(t, h.Stop)
}
