// Package midiport sends messages to a host MIDI output port and follows
// the port across unplug and replug.
package midiport

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// ExcludedPatterns are virtual or system ports that are never picked
// automatically.
var ExcludedPatterns = []string{"Midi Through", "Through Port", "Dummy"}

const rescanInterval = 1000 * time.Millisecond

var ErrNotConnected = errors.New("midiport: no output connected")

// Driver is the part of a gomidi driver used here.
type Driver interface {
	Outs() ([]drivers.Out, error)
	Close() error
}

// Out keeps a connection to the first output whose name contains one of
// the preferred patterns, or to the only candidate when there is exactly
// one.
type Out struct {
	mu           sync.Mutex
	drv          Driver
	preferred    []string
	port         drivers.Out
	send         func(midi.Message) error
	selectedName string
	lastRescanAt time.Time
	now          func() time.Time
	logger       *slog.Logger
}

// Open initialises the rtmidi driver and connects if a port is available.
func Open(preferred []string, logger *slog.Logger) (*Out, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}
	o := New(drv, preferred, logger)
	o.Tick()
	return o, nil
}

// New wraps an already opened driver.
func New(drv Driver, preferred []string, logger *slog.Logger) *Out {
	if logger == nil {
		logger = slog.Default()
	}
	return &Out{drv: drv, preferred: preferred, now: time.Now, logger: logger}
}

// Close shuts down the active connection and the driver.
func (o *Out) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeConn()
	return o.drv.Close()
}

// Connected returns the name of the current port, or "".
func (o *Out) Connected() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selectedName
}

// Send writes msg to the connected port. A failed write drops the
// connection so that the next Tick reconnects.
func (o *Out) Send(msg []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.send == nil {
		return ErrNotConnected
	}
	if err := o.send(midi.Message(msg)); err != nil {
		o.logger.Warn("midi: output write failed", "device", o.selectedName, "err", err)
		o.closeConn()
		o.lastRescanAt = time.Time{}
		return fmt.Errorf("midiport: send: %w", err)
	}
	return nil
}

// Tick should be called regularly from the main loop. At most once per
// second it checks that the port is still there and connects if none is.
func (o *Out) Tick() {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	if !o.lastRescanAt.IsZero() && now.Sub(o.lastRescanAt) < rescanInterval {
		return
	}
	o.lastRescanAt = now

	outs := o.listOutputs()

	if o.send != nil {
		for _, n := range outs {
			if n == o.selectedName {
				return
			}
		}
		o.logger.Warn("midi: output disappeared", "device", o.selectedName)
		o.closeConn()
		o.lastRescanAt = time.Time{}
		return
	}

	cand, ok := pickPreferred(outs, o.preferred)
	if !ok {
		return
	}
	if err := o.openByName(cand); err != nil {
		o.logger.Error("midi: connect failed", "device", cand, "err", err)
	}
}

// Ports lists the usable output names.
func (o *Out) Ports() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.listOutputs()
}

func (o *Out) listOutputs() []string {
	outs, err := o.drv.Outs()
	if err != nil {
		o.logger.Error("midi: list outputs failed", "err", err)
		return nil
	}
	var names []string
	for _, out := range outs {
		name := out.String()
		if excluded(name) {
			o.logger.Debug("midi: output excluded", "device", name)
			continue
		}
		names = append(names, name)
	}
	o.logger.Debug("midi: outputs found", "count", len(names), "devices", strings.Join(names, ", "))
	return names
}

func excluded(name string) bool {
	for _, pat := range ExcludedPatterns {
		if containsCI(name, pat) {
			return true
		}
	}
	return false
}

func pickPreferred(outs, preferred []string) (string, bool) {
	for _, pat := range preferred {
		for _, name := range outs {
			if containsCI(name, pat) {
				return name, true
			}
		}
	}
	if len(outs) == 1 {
		return outs[0], true
	}
	return "", false
}

func (o *Out) closeConn() {
	if o.port != nil {
		_ = o.port.Close()
		o.port = nil
	}
	o.send = nil
	o.selectedName = ""
}

func (o *Out) openByName(name string) error {
	outs, err := o.drv.Outs()
	if err != nil {
		return err
	}
	var found drivers.Out
	for _, out := range outs {
		if out.String() == name {
			found = out
			break
		}
	}
	if found == nil {
		return fmt.Errorf("output %q not found", name)
	}
	if err := found.Open(); err != nil {
		return fmt.Errorf("open %q: %w", name, err)
	}
	send, err := midi.SendTo(found)
	if err != nil {
		_ = found.Close()
		return fmt.Errorf("sender %q: %w", name, err)
	}

	o.port = found
	o.send = send
	o.selectedName = name
	o.logger.Info("midi: output connected", "device", name)
	return nil
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
