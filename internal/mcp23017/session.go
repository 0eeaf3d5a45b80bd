package mcp23017

import (
	"fmt"
)

// Session is exclusive access to one chip, valid only inside the function
// passed to Registry.Session.
type Session struct {
	r  *Registry
	id ChipID
	c  *chip
}

// ID returns the chip handle.
func (s *Session) ID() ChipID { return s.id }

func (s *Session) read(reg byte) (byte, error) {
	b, addr := s.c.bus, s.c.addr
	v, err := s.r.transact(s.c, func() (byte, error) { return b.ReadRegister(addr, reg) })
	if err != nil {
		s.c.errors++
		s.r.logger.Warn("mcp23017: register read failed",
			"chip", s.id, "reg", fmt.Sprintf("0x%02X", reg), "errors", s.c.errors, "err", err)
		return 0, fmt.Errorf("chip %d read reg 0x%02X: %w", s.id, reg, err)
	}
	return v, nil
}

func (s *Session) write(reg, value byte) error {
	b, addr := s.c.bus, s.c.addr
	_, err := s.r.transact(s.c, func() (byte, error) { return 0, b.WriteRegister(addr, reg, value) })
	if err != nil {
		s.c.errors++
		s.r.logger.Warn("mcp23017: register write failed",
			"chip", s.id, "reg", fmt.Sprintf("0x%02X", reg), "value", fmt.Sprintf("0x%02X", value),
			"errors", s.c.errors, "err", err)
		return fmt.Errorf("chip %d write reg 0x%02X: %w", s.id, reg, err)
	}
	return nil
}

// modify is a read-modify-write of the masked bits of reg.
func (s *Session) modify(port Port, regA, mask byte, set bool) error {
	if !port.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if mask == 0 {
		return fmt.Errorf("%w: empty mask", ErrInvalidPin)
	}
	reg := port.reg(regA)
	v, err := s.read(reg)
	if err != nil {
		return err
	}
	return s.write(reg, applyMask(v, mask, set))
}

func (s *Session) bit(port Port, regA byte, pin uint8) (bool, error) {
	if !port.valid() {
		return false, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if pin > 7 {
		return false, fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	v, err := s.read(port.reg(regA))
	if err != nil {
		return false, err
	}
	return bitRead(v, pin), nil
}

// SetDirection sets the pins in mask to dir.
func (s *Session) SetDirection(port Port, mask byte, dir Direction) error {
	return s.modify(port, RegIODIRA, mask, dir == Input)
}

// Direction reports the direction of one pin.
func (s *Session) Direction(port Port, pin uint8) (Direction, error) {
	in, err := s.bit(port, RegIODIRA, pin)
	if in {
		return Input, err
	}
	return Output, err
}

// SetOutput drives the latches of the pins in mask to level.
func (s *Session) SetOutput(port Port, mask byte, level Level) error {
	return s.modify(port, RegOLATA, mask, bool(level))
}

// WriteLatch writes all eight output latches of port at once.
func (s *Session) WriteLatch(port Port, value byte) error {
	if !port.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return s.write(port.reg(RegOLATA), value)
}

// Input reads the level of one pin.
func (s *Session) Input(port Port, pin uint8) (Level, error) {
	v, err := s.bit(port, RegGPIOA, pin)
	return Level(v), err
}

// Port reads all eight pin levels of port.
func (s *Session) Port(port Port) (byte, error) {
	if !port.valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return s.read(port.reg(RegGPIOA))
}

// SetPullup enables or disables the pull-ups of the pins in mask.
func (s *Session) SetPullup(port Port, mask byte, enabled bool) error {
	return s.modify(port, RegGPPUA, mask, enabled)
}

// Pullup reports whether the pull-up of one pin is enabled.
func (s *Session) Pullup(port Port, pin uint8) (bool, error) {
	return s.bit(port, RegGPPUA, pin)
}
