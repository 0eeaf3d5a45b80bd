// Package heartbeat blinks a status LED from the main loop so a hung scan
// is visible on the board.
package heartbeat

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stianeikeland/go-rpio/v4"
)

// DefaultPeriod is how often the LED toggles.
const DefaultPeriod = time.Second

type LED interface {
	Toggle()
	Off()
}

// GPIO is an LED on a Raspberry Pi BCM pin, driven through /dev/gpiomem.
type GPIO struct {
	pin rpio.Pin
}

// OpenGPIO maps the GPIO registers and sets pin as an output, off.
func OpenGPIO(pin int) (*GPIO, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("heartbeat: open gpio: %w", err)
	}
	p := rpio.Pin(pin)
	p.Output()
	p.Low()
	return &GPIO{pin: p}, nil
}

func (g *GPIO) Toggle() { g.pin.Toggle() }
func (g *GPIO) Off()    { g.pin.Low() }

// Close turns the LED off and unmaps the registers.
func (g *GPIO) Close() error {
	g.pin.Low()
	return rpio.Close()
}

// Nop is an LED for hosts without one.
type Nop struct{}

func (Nop) Toggle() {}
func (Nop) Off()    {}

// Heartbeat toggles an LED once per Beat and counts the toggles.
type Heartbeat struct {
	mu     sync.Mutex
	led    LED
	on     bool
	beats  uint64
	logger *slog.Logger
}

func New(led LED, logger *slog.Logger) *Heartbeat {
	if led == nil {
		led = Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{led: led, logger: logger}
}

func (h *Heartbeat) Beat() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.led.Toggle()
	h.on = !h.on
	h.beats++
	h.logger.Debug("heartbeat: toggle", "on", h.on, "beats", h.beats)
}

// Stop leaves the LED off.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.led.Off()
	h.on = false
}

// Beats returns the number of toggles so far.
func (h *Heartbeat) Beats() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.beats
}

func (h *Heartbeat) On() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.on
}
