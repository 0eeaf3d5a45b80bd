// Package matrix scans an 8x8 switch matrix through one MCP23017: port A
// strobes the columns low one at a time and port B reads the rows, which
// idle high through the pull-ups.
package matrix

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/chase3718/matrix-midi/internal/clock"
	"github.com/chase3718/matrix-midi/internal/mcp23017"
)

const (
	DefaultSettle = 2 * time.Millisecond
	setupSettle   = 10 * time.Millisecond
	columnsIdle   = 0xFF
)

type Options struct {
	// Settle is the wait after each column change before the rows are read.
	// It must cover the expander propagation delay plus any RC network on
	// the rows. Zero means DefaultSettle.
	Settle time.Duration
	Clock  clock.Clock
	Logger *slog.Logger
}

// Scanner reads the whole matrix of one chip.
type Scanner struct {
	reg    *mcp23017.Registry
	chip   mcp23017.ChipID
	settle time.Duration
	clock  clock.Clock
	logger *slog.Logger
}

func NewScanner(reg *mcp23017.Registry, chip mcp23017.ChipID, opts Options) *Scanner {
	s := &Scanner{
		reg:    reg,
		chip:   chip,
		settle: opts.Settle,
		clock:  opts.Clock,
		logger: opts.Logger,
	}
	if s.settle <= 0 {
		s.settle = DefaultSettle
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Setup puts port A in output mode with every column idle high and port B
// in input mode with pull-ups. Add already does this; Setup repeats it for
// a chip that may have been reset behind the registry's back.
func (s *Scanner) Setup() error {
	err := s.reg.Session(s.chip, func(ss *mcp23017.Session) error {
		if err := ss.SetDirection(mcp23017.PortA, 0xFF, mcp23017.Output); err != nil {
			return err
		}
		if err := ss.WriteLatch(mcp23017.PortA, columnsIdle); err != nil {
			return err
		}
		if err := ss.SetDirection(mcp23017.PortB, 0xFF, mcp23017.Input); err != nil {
			return err
		}
		return ss.SetPullup(mcp23017.PortB, 0xFF, true)
	})
	if err != nil {
		return fmt.Errorf("matrix: setup: %w", err)
	}
	s.clock.Sleep(setupSettle)
	s.logger.Debug("matrix: setup done", "chip", s.chip)
	return nil
}

// ReadAll strobes every column and returns the pressed keys. The sweep
// holds the chip for its whole duration. On error the columns are put back
// to idle if the bus allows it and the partial result is discarded.
func (s *Scanner) ReadAll() (Bitmap, error) {
	var state Bitmap
	err := s.reg.Session(s.chip, func(ss *mcp23017.Session) error {
		if err := ss.WriteLatch(mcp23017.PortA, columnsIdle); err != nil {
			return err
		}
		s.clock.Sleep(s.settle)

		for col := 0; col < Cols; col++ {
			if err := ss.WriteLatch(mcp23017.PortA, ^byte(1<<col)); err != nil {
				_ = ss.WriteLatch(mcp23017.PortA, columnsIdle)
				return err
			}
			s.clock.Sleep(s.settle)

			rows, err := ss.Port(mcp23017.PortB)
			if err != nil {
				_ = ss.WriteLatch(mcp23017.PortA, columnsIdle)
				return err
			}
			for row := 0; row < Rows; row++ {
				if rows&(1<<row) == 0 {
					state = state.Set(Index(row, col))
				}
			}
		}
		return ss.WriteLatch(mcp23017.PortA, columnsIdle)
	})
	if err != nil {
		return 0, fmt.Errorf("matrix: scan: %w", err)
	}
	return state, nil
}

// KeyResult classifies a single-key read.
type KeyResult int

const (
	NoKey KeyResult = iota
	SingleKey
	ManyKeys
)

func (r KeyResult) String() string {
	switch r {
	case NoKey:
		return "none"
	case SingleKey:
		return "single"
	case ManyKeys:
		return "many"
	}
	return fmt.Sprintf("KeyResult(%d)", int(r))
}

// Labeler returns the display label of a key.
type Labeler interface {
	Label(k KeyIndex) string
}

// Key scans once and reports the label of the only pressed key. With more
// than one key down it reports ManyKeys and no label, since without diodes
// a chord can ghost onto keys that are not pressed.
func (s *Scanner) Key(labels Labeler) (string, KeyResult, error) {
	state, err := s.ReadAll()
	if err != nil {
		return "", NoKey, err
	}
	switch n := state.Count(); {
	case n == 0:
		return "", NoKey, nil
	case n > 1:
		s.logger.Debug("matrix: multiple keys", "count", n)
		return "", ManyKeys, nil
	}
	return labels.Label(state.Keys()[0]), SingleKey, nil
}

// SelfTest reads port B at rest and pulses column 0 low then high. It
// returns the idle row byte, 0xFF on a healthy unpressed matrix.
func (s *Scanner) SelfTest() (byte, error) {
	var idle byte
	err := s.reg.Session(s.chip, func(ss *mcp23017.Session) error {
		var err error
		if idle, err = ss.Port(mcp23017.PortB); err != nil {
			return err
		}
		if err := ss.SetOutput(mcp23017.PortA, 0x01, mcp23017.Low); err != nil {
			return err
		}
		s.clock.Sleep(setupSettle)
		return ss.SetOutput(mcp23017.PortA, 0x01, mcp23017.High)
	})
	if err != nil {
		return 0, fmt.Errorf("matrix: self test: %w", err)
	}
	s.logger.Info("matrix: self test passed", "chip", s.chip, "port_b", fmt.Sprintf("0x%02X", idle))
	return idle, nil
}
