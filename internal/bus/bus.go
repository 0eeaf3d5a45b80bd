// Package bus is the I2C boundary used by the expander driver.
package bus

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// SpeedMode selects the I2C clock.
type SpeedMode int

const (
	StandardMode SpeedMode = iota // 100 kHz
	FastMode                      // 400 kHz
)

// Frequency returns the bus clock for the mode.
func (m SpeedMode) Frequency() physic.Frequency {
	if m == FastMode {
		return 400 * physic.KiloHertz
	}
	return 100 * physic.KiloHertz
}

func (m SpeedMode) String() string {
	if m == FastMode {
		return "fast"
	}
	return "standard"
}

// Bus reads and writes single 8-bit registers of a device at a 7-bit address.
type Bus interface {
	ReadRegister(addr uint16, reg byte) (byte, error)
	WriteRegister(addr uint16, reg byte, value byte) error
}

// Configurer is implemented by buses whose clock and pull-ups can be set
// before the first transaction.
type Configurer interface {
	Configure(mode SpeedMode, pullups bool) error
}

// Periph adapts a periph.io I2C bus.
type Periph struct {
	bus      i2c.Bus
	setSpeed bool
}

// NewPeriph wraps an already opened periph bus (see i2creg.Open). When
// setSpeed is false Configure leaves the kernel's clock alone; most sysfs
// buses reject SetSpeed.
func NewPeriph(b i2c.Bus, setSpeed bool) *Periph {
	return &Periph{bus: b, setSpeed: setSpeed}
}

func (p *Periph) String() string {
	return p.bus.String()
}

func (p *Periph) ReadRegister(addr uint16, reg byte) (byte, error) {
	r := make([]byte, 1)
	if err := p.bus.Tx(addr, []byte{reg}, r); err != nil {
		return 0, fmt.Errorf("i2c read 0x%02X reg 0x%02X: %w", addr, reg, err)
	}
	return r[0], nil
}

func (p *Periph) WriteRegister(addr uint16, reg byte, value byte) error {
	if err := p.bus.Tx(addr, []byte{reg, value}, nil); err != nil {
		return fmt.Errorf("i2c write 0x%02X reg 0x%02X: %w", addr, reg, err)
	}
	return nil
}

// Configure sets the bus clock. Pull-ups on Linux hosts are fixed by the
// board, so the flag is accepted and ignored.
func (p *Periph) Configure(mode SpeedMode, pullups bool) error {
	if !p.setSpeed {
		return nil
	}
	if err := p.bus.SetSpeed(mode.Frequency()); err != nil {
		return fmt.Errorf("i2c set speed %s: %w", mode, err)
	}
	return nil
}
