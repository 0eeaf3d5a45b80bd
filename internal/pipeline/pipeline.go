// Package pipeline runs the polled main loop: scan the matrix, debounce,
// and turn every confirmed key change into one MIDI note message.
package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/chase3718/matrix-midi/internal/clock"
	"github.com/chase3718/matrix-midi/internal/keyboard"
	"github.com/chase3718/matrix-midi/internal/matrix"
)

const (
	DefaultScanPeriod = 10 * time.Millisecond
	DefaultChannel    = 1
	DefaultVelocity   = 100

	// idle is the pause between passes over the task list.
	idle = 2 * time.Millisecond
)

type Scanner interface {
	ReadAll() (matrix.Bitmap, error)
}

type Layout interface {
	Note(k matrix.KeyIndex) (uint8, bool)
	Describe(k matrix.KeyIndex) string
}

type Encoder interface {
	NoteOn(ch, note, vel uint8)
	NoteOff(ch, note, vel uint8)
	AllNotesOff(ch uint8)
}

type Config struct {
	Channel    uint8
	Velocity   uint8
	ScanPeriod time.Duration
}

// Stats counts scan cycles and the notes they produced.
type Stats struct {
	Scans      uint64
	ScanErrors uint64
	NotesOn    uint64
	NotesOff   uint64
}

type Pipeline struct {
	scanner Scanner
	state   *keyboard.State
	layout  Layout
	enc     Encoder
	clock   clock.Clock
	cfg     Config
	tasks   []*task
	held    map[uint8]int // sounding note -> keys holding it
	stats   Stats
	logger  *slog.Logger
}

func New(scanner Scanner, state *keyboard.State, layout Layout, enc Encoder, clk clock.Clock, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.Channel == 0 {
		cfg.Channel = DefaultChannel
	}
	if cfg.Velocity == 0 {
		cfg.Velocity = DefaultVelocity
	}
	if cfg.Velocity > 127 {
		cfg.Velocity = 127
	}
	if cfg.ScanPeriod <= 0 {
		cfg.ScanPeriod = DefaultScanPeriod
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		scanner: scanner,
		state:   state,
		layout:  layout,
		enc:     enc,
		clock:   clk,
		cfg:     cfg,
		held:    make(map[uint8]int),
		logger:  logger,
	}
	p.Every("scan", cfg.ScanPeriod, func() { _ = p.Step() })
	return p
}

// Step runs one scan cycle. A failed scan leaves the debounce state as it
// was, so the cycle counts as no key change and the next one retries.
func (p *Pipeline) Step() error {
	p.stats.Scans++
	raw, err := p.scanner.ReadAll()
	if err != nil {
		p.stats.ScanErrors++
		p.logger.Warn("pipeline: scan failed", "errors", p.stats.ScanErrors, "err", err)
		return err
	}
	if p.state.Update(raw) == 0 {
		return nil
	}
	for _, c := range p.state.Changes() {
		p.emit(c)
	}
	return nil
}

func (p *Pipeline) emit(c keyboard.Change) {
	note, ok := p.layout.Note(c.Key)
	if !ok {
		return
	}
	if c.Pressed {
		p.enc.NoteOn(p.cfg.Channel, note, p.cfg.Velocity)
		p.held[note]++
		p.stats.NotesOn++
		p.logger.Info("midi: note on", "key", p.layout.Describe(c.Key), "note", note)
		return
	}
	p.enc.NoteOff(p.cfg.Channel, note, 0)
	if p.held[note]--; p.held[note] <= 0 {
		delete(p.held, note)
	}
	p.stats.NotesOff++
	p.logger.Info("midi: note off", "key", p.layout.Describe(c.Key), "note", note)
}

// Held returns the notes currently sounding, ascending.
func (p *Pipeline) Held() []uint8 {
	notes := make([]uint8, 0, len(p.held))
	for n := range p.held {
		notes = append(notes, n)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i] < notes[j] })
	return notes
}

func (p *Pipeline) Stats() Stats { return p.stats }

// Release ends every sounding note, then sends All Notes Off, and forgets
// the debounce state so held keys sound again on the next scan.
func (p *Pipeline) Release() {
	for _, n := range p.Held() {
		p.enc.NoteOff(p.cfg.Channel, n, 0)
	}
	p.enc.AllNotesOff(p.cfg.Channel)
	p.held = make(map[uint8]int)
	p.state.Reset()
	p.logger.Info("pipeline: all notes released")
}

type task struct {
	name   string
	period time.Duration
	last   time.Time
	fn     func()
}

// Every adds a task that Run calls whenever period has elapsed since it
// last started. Tasks run to completion in the order they were added.
func (p *Pipeline) Every(name string, period time.Duration, fn func()) {
	p.tasks = append(p.tasks, &task{name: name, period: period, fn: fn})
}

// Run polls the tasks until ctx is done, then releases all notes.
func (p *Pipeline) Run(ctx context.Context) error {
	start := p.clock.Now()
	for _, t := range p.tasks {
		t.last = start
	}
	p.logger.Info("pipeline: running", "tasks", len(p.tasks), "scan_period", p.cfg.ScanPeriod)
	defer p.Release()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline: stopping", "scans", p.stats.Scans, "scan_errors", p.stats.ScanErrors)
			return ctx.Err()
		default:
		}
		p.RunDue()
		p.clock.Sleep(idle)
	}
}

// RunDue runs every task whose period has elapsed.
func (p *Pipeline) RunDue() {
	for _, t := range p.tasks {
		now := p.clock.Now()
		if now.Sub(t.last) < t.period {
			continue
		}
		t.last = now
		t.fn()
	}
}
