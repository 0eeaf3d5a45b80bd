// Package mcp23017test simulates MCP23017 chips wired to an 8x8 switch
// matrix, for tests that have no hardware.
package mcp23017test

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chase3718/matrix-midi/internal/bus"
	"github.com/chase3718/matrix-midi/internal/mcp23017"
)

var (
	ErrNoAck    = errors.New("mcp23017test: no device at address")
	ErrInjected = errors.New("mcp23017test: injected bus failure")
)

// Chip is a register file plus a switch matrix between port A (columns)
// and port B (rows). A closed switch pulls its row low while its column is
// an output driven low.
type Chip struct {
	mu         sync.Mutex
	addr       uint16
	regs       [mcp23017.NumRegisters]byte
	pressed    [8][8]bool
	stuck      map[byte]byte
	failReads  int
	failWrites int
	hang       chan struct{}
	reads      int
	writes     int
	latchLog   []byte
}

// NewChip returns a chip in its power-on state strapped at hwAddr.
func NewChip(hwAddr uint8) *Chip {
	c := &Chip{addr: mcp23017.BaseAddress | uint16(hwAddr), stuck: map[byte]byte{}}
	c.regs[mcp23017.RegIODIRA] = 0xFF
	c.regs[mcp23017.RegIODIRB] = 0xFF
	return c
}

// Addr returns the 7-bit bus address.
func (c *Chip) Addr() uint16 { return c.addr }

// Press closes the switch at row, col.
func (c *Chip) Press(row, col int) { c.set(row, col, true) }

// Release opens the switch at row, col.
func (c *Chip) Release(row, col int) { c.set(row, col, false) }

func (c *Chip) set(row, col int, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pressed[row][col] = on
}

// ReleaseAll opens every switch.
func (c *Chip) ReleaseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pressed = [8][8]bool{}
}

// Register returns the raw stored value of reg.
func (c *Chip) Register(reg byte) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[reg]
}

// SetRegister overwrites reg without counting a transaction.
func (c *Chip) SetRegister(reg, value byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[reg] = value
}

// Stick makes reg ignore writes and always hold value.
func (c *Chip) Stick(reg, value byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stuck[reg] = value
	c.regs[reg] = value
}

// FailReads makes the next n reads fail.
func (c *Chip) FailReads(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failReads = n
}

// FailWrites makes the next n writes fail.
func (c *Chip) FailWrites(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrites = n
}

// Hang makes every transaction block until Unhang.
func (c *Chip) Hang() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hang == nil {
		c.hang = make(chan struct{})
	}
}

func (c *Chip) Unhang() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hang != nil {
		close(c.hang)
		c.hang = nil
	}
}

// Transactions returns the number of reads and writes served.
func (c *Chip) Transactions() (reads, writes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads, c.writes
}

// LatchLog returns every value written to OLATA, in order.
func (c *Chip) LatchLog() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.latchLog...)
}

func (c *Chip) wait() {
	c.mu.Lock()
	h := c.hang
	c.mu.Unlock()
	if h != nil {
		<-h
	}
}

func (c *Chip) read(reg byte) (byte, error) {
	c.wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failReads > 0 {
		c.failReads--
		return 0, ErrInjected
	}
	if int(reg) >= mcp23017.NumRegisters {
		return 0, fmt.Errorf("mcp23017test: register 0x%02X out of range", reg)
	}
	c.reads++
	switch reg {
	case mcp23017.RegGPIOA:
		return c.portA(), nil
	case mcp23017.RegGPIOB:
		return c.portB(), nil
	}
	return c.regs[reg], nil
}

func (c *Chip) write(reg, value byte) error {
	c.wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites > 0 {
		c.failWrites--
		return ErrInjected
	}
	if int(reg) >= mcp23017.NumRegisters {
		return fmt.Errorf("mcp23017test: register 0x%02X out of range", reg)
	}
	c.writes++
	switch reg {
	case mcp23017.RegGPIOA:
		reg = mcp23017.RegOLATA
	case mcp23017.RegGPIOB:
		reg = mcp23017.RegOLATB
	}
	if reg == mcp23017.RegOLATA {
		c.latchLog = append(c.latchLog, value)
	}
	if v, ok := c.stuck[reg]; ok {
		c.regs[reg] = v
		return nil
	}
	c.regs[reg] = value
	return nil
}

// portA reports the column pins: outputs read back their latch, inputs
// float high.
func (c *Chip) portA() byte {
	dir := c.regs[mcp23017.RegIODIRA]
	return (c.regs[mcp23017.RegOLATA] &^ dir) | dir
}

func (c *Chip) portB() byte {
	colDir := c.regs[mcp23017.RegIODIRA]
	latch := c.regs[mcp23017.RegOLATA]
	rowDir := c.regs[mcp23017.RegIODIRB]
	var v byte
	for row := 0; row < 8; row++ {
		bit := byte(1) << row
		if rowDir&bit == 0 {
			v |= c.regs[mcp23017.RegOLATB] & bit
			continue
		}
		level := true
		for col := 0; col < 8; col++ {
			cb := byte(1) << col
			if c.pressed[row][col] && colDir&cb == 0 && latch&cb == 0 {
				level = false
				break
			}
		}
		if level {
			v |= bit
		}
	}
	return v ^ c.regs[mcp23017.RegIPOLB]
}

// Bus routes transactions to simulated chips by address.
type Bus struct {
	mu           sync.Mutex
	chips        map[uint16]*Chip
	configured   []bus.SpeedMode
	configureErr error
}

var (
	_ bus.Bus        = (*Bus)(nil)
	_ bus.Configurer = (*Bus)(nil)
)

// NewBus returns a bus carrying chips.
func NewBus(chips ...*Chip) *Bus {
	b := &Bus{chips: map[uint16]*Chip{}}
	for _, c := range chips {
		b.chips[c.addr] = c
	}
	return b
}

func (b *Bus) chip(addr uint16) (*Chip, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chips[addr]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrNoAck, addr)
	}
	return c, nil
}

func (b *Bus) ReadRegister(addr uint16, reg byte) (byte, error) {
	c, err := b.chip(addr)
	if err != nil {
		return 0, err
	}
	return c.read(reg)
}

func (b *Bus) WriteRegister(addr uint16, reg byte, value byte) error {
	c, err := b.chip(addr)
	if err != nil {
		return err
	}
	return c.write(reg, value)
}

func (b *Bus) Configure(mode bus.SpeedMode, pullups bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.configureErr != nil {
		return b.configureErr
	}
	b.configured = append(b.configured, mode)
	return nil
}

// FailConfigure makes Configure return err.
func (b *Bus) FailConfigure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configureErr = err
}

// Configured returns the speed modes passed to Configure.
func (b *Bus) Configured() []bus.SpeedMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bus.SpeedMode(nil), b.configured...)
}
