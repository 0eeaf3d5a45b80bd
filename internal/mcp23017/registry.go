// Package mcp23017 drives MCP23017 16-bit I2C GPIO expanders wired as a key
// matrix: port A drives the columns, port B reads the rows.
package mcp23017

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chase3718/matrix-midi/internal/bus"
)

// MaxChips is the number of chip slots in a Registry, one per strap address.
const MaxChips = 8

// ChipID is the handle returned by Registry.Add.
type ChipID int

const (
	// InvalidChip is returned by Add on failure.
	InvalidChip ChipID = -1
	// InvalidErrorCount is returned by ErrorCount for an unknown chip.
	InvalidErrorCount = -1

	defaultTimeout = 25 * time.Millisecond
)

var (
	ErrInvalidAddress = errors.New("mcp23017: hardware address out of range")
	ErrNoFreeSlot     = errors.New("mcp23017: no free chip slot")
	ErrUnknownChip    = errors.New("mcp23017: unknown chip")
	ErrInvalidPort    = errors.New("mcp23017: invalid port")
	ErrInvalidPin     = errors.New("mcp23017: invalid pin")
	ErrCommunication  = errors.New("mcp23017: communication test failed")
	ErrVerifyMismatch = errors.New("mcp23017: configuration read-back mismatch")
	ErrTimeout        = errors.New("mcp23017: bus transaction timed out")
)

// Options configures a Registry.
type Options struct {
	// Timeout bounds every register transaction. Zero means 25ms, negative
	// disables the bound.
	Timeout time.Duration
	// Speed is passed to buses that implement bus.Configurer.
	Speed  bus.SpeedMode
	Logger *slog.Logger
}

type chip struct {
	mu     sync.Mutex
	used   bool
	addr   uint16
	bus    bus.Bus
	errors int
	// stale is closed when a timed-out transaction finally returns.
	stale chan struct{}
}

// Registry owns the chip slots. Each chip has its own lock, so operations on
// different chips proceed in parallel while operations on one chip are
// serialized.
type Registry struct {
	mu      sync.Mutex
	slots   [MaxChips]chip
	timeout time.Duration
	speed   bus.SpeedMode
	logger  *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		timeout: opts.Timeout,
		speed:   opts.Speed,
		logger:  opts.Logger,
	}
	if r.timeout == 0 {
		r.timeout = defaultTimeout
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Init frees every slot. It is safe to call more than once.
func (r *Registry) Init() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		c := &r.slots[i]
		c.mu.Lock()
		c.used = false
		c.bus = nil
		c.addr = 0
		c.errors = 0
		c.mu.Unlock()
	}
}

// Add claims a free slot for the chip strapped at hwAddr (0..7) on b and
// runs the matrix initialization sequence. On any failure the slot is left
// free and InvalidChip is returned.
func (r *Registry) Add(b bus.Bus, hwAddr uint8) (ChipID, error) {
	if hwAddr > MaxHWAddr {
		r.logger.Error("mcp23017: invalid hardware address", "hw_addr", hwAddr)
		return InvalidChip, fmt.Errorf("%w: %d", ErrInvalidAddress, hwAddr)
	}
	addr := BaseAddress | uint16(hwAddr)

	r.mu.Lock()
	id := InvalidChip
	for i := range r.slots {
		if !r.slots[i].used {
			id = ChipID(i)
			break
		}
	}
	if id == InvalidChip {
		r.mu.Unlock()
		r.logger.Error("mcp23017: too many chips", "addr", fmt.Sprintf("0x%02X", addr))
		return InvalidChip, ErrNoFreeSlot
	}
	c := &r.slots[id]
	c.mu.Lock()
	c.used = true
	c.addr = addr
	c.bus = b
	c.errors = 0
	r.mu.Unlock()
	defer c.mu.Unlock()

	if err := r.initChip(&Session{r: r, id: id, c: c}); err != nil {
		c.used = false
		c.bus = nil
		c.errors = 0
		r.logger.Error("mcp23017: chip init failed", "addr", fmt.Sprintf("0x%02X", addr), "err", err)
		return InvalidChip, fmt.Errorf("mcp23017: init chip at 0x%02X: %w", addr, err)
	}
	r.logger.Info("mcp23017: chip ready",
		"id", id,
		"addr", fmt.Sprintf("0x%02X", addr),
		"addr8", fmt.Sprintf("0x%02X", WriteAddress(hwAddr)),
	)
	return id, nil
}

// WriteAddress is the 8-bit (shifted) form of the bus address that
// register-level HALs expect.
func WriteAddress(hwAddr uint8) uint8 {
	return uint8(BaseAddress<<1) | (hwAddr&MaxHWAddr)<<1
}

func (r *Registry) initChip(s *Session) error {
	if cfg, ok := s.c.bus.(bus.Configurer); ok {
		if err := cfg.Configure(r.speed, true); err != nil {
			return fmt.Errorf("configure bus: %w", err)
		}
	}
	if _, err := s.read(RegIODIRA); err != nil {
		return fmt.Errorf("%w: %w", ErrCommunication, err)
	}

	iocon := IOCON{}.Byte()
	steps := []struct {
		reg byte
		val byte
	}{
		{RegIODIRA, allOutputs},
		{RegIODIRB, allInputs},
		{RegGPPUB, 0xFF},
		{RegGPPUA, 0x00},
		{RegOLATA, 0xFF},
		{RegIOCONA, iocon},
		{RegIOCONB, iocon},
		{RegGPINTENA, 0x00},
		{RegGPINTENB, 0x00},
	}
	for _, st := range steps {
		if err := s.write(st.reg, st.val); err != nil {
			return err
		}
	}

	verify := []struct {
		reg  byte
		want byte
	}{
		{RegIODIRA, allOutputs},
		{RegIODIRB, allInputs},
		{RegGPPUA, 0x00},
		{RegGPPUB, 0xFF},
	}
	for _, v := range verify {
		got, err := s.read(v.reg)
		if err != nil {
			return err
		}
		if got != v.want {
			return fmt.Errorf("%w: reg 0x%02X = 0x%02X, want 0x%02X", ErrVerifyMismatch, v.reg, got, v.want)
		}
	}
	return nil
}

func (r *Registry) lookup(id ChipID) (*chip, error) {
	if id < 0 || int(id) >= MaxChips {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChip, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &r.slots[id]
	if !c.used {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChip, id)
	}
	return c, nil
}

// Session runs fn with exclusive access to the chip. Use it for sequences
// that must not interleave with other accesses, such as a column sweep.
func (r *Registry) Session(id ChipID, fn func(s *Session) error) error {
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.used {
		return fmt.Errorf("%w: %d", ErrUnknownChip, id)
	}
	return fn(&Session{r: r, id: id, c: c})
}

// Address returns the 7-bit bus address of the chip.
func (r *Registry) Address(id ChipID) (uint16, error) {
	c, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	return c.addr, nil
}

// ErrorCount returns the number of failed bus transactions since the chip
// was added or the counter was reset, or InvalidErrorCount.
func (r *Registry) ErrorCount(id ChipID) int {
	c, err := r.lookup(id)
	if err != nil {
		return InvalidErrorCount
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

func (r *Registry) ResetErrorCount(id ChipID) error {
	return r.Session(id, func(s *Session) error {
		s.c.errors = 0
		return nil
	})
}

func (r *Registry) SetDirection(id ChipID, port Port, mask byte, dir Direction) error {
	return r.Session(id, func(s *Session) error { return s.SetDirection(port, mask, dir) })
}

func (r *Registry) GetDirection(id ChipID, port Port, pin uint8) (dir Direction, err error) {
	err = r.Session(id, func(s *Session) error {
		dir, err = s.Direction(port, pin)
		return err
	})
	return dir, err
}

func (r *Registry) SetOutput(id ChipID, port Port, mask byte, level Level) error {
	return r.Session(id, func(s *Session) error { return s.SetOutput(port, mask, level) })
}

func (r *Registry) WriteLatch(id ChipID, port Port, value byte) error {
	return r.Session(id, func(s *Session) error { return s.WriteLatch(port, value) })
}

func (r *Registry) GetInput(id ChipID, port Port, pin uint8) (level Level, err error) {
	err = r.Session(id, func(s *Session) error {
		level, err = s.Input(port, pin)
		return err
	})
	return level, err
}

func (r *Registry) GetPort(id ChipID, port Port) (value byte, err error) {
	err = r.Session(id, func(s *Session) error {
		value, err = s.Port(port)
		return err
	})
	return value, err
}

func (r *Registry) SetPullup(id ChipID, port Port, mask byte, enabled bool) error {
	return r.Session(id, func(s *Session) error { return s.SetPullup(port, mask, enabled) })
}

func (r *Registry) GetPullup(id ChipID, port Port, pin uint8) (enabled bool, err error) {
	err = r.Session(id, func(s *Session) error {
		enabled, err = s.Pullup(port, pin)
		return err
	})
	return enabled, err
}

type txResult struct {
	v   byte
	err error
}

// transact bounds fn by the registry timeout. A bus that never answers
// leaves its goroutine behind and c is marked busy until that call returns;
// until then every transaction fails with ErrTimeout without touching the bus.
func (r *Registry) transact(c *chip, fn func() (byte, error)) (byte, error) {
	if c.stale != nil {
		select {
		case <-c.stale:
			c.stale = nil
		default:
			return 0, ErrTimeout
		}
	}
	if r.timeout < 0 {
		return fn()
	}
	done := make(chan txResult, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		v, err := fn()
		done <- txResult{v: v, err: err}
	}()
	t := time.NewTimer(r.timeout)
	defer t.Stop()
	select {
	case res := <-done:
		return res.v, res.err
	case <-t.C:
		c.stale = finished
		return 0, ErrTimeout
	}
}
