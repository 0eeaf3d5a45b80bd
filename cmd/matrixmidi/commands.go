package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/chase3718/matrix-midi/internal/clock"
	"github.com/chase3718/matrix-midi/internal/config"
	"github.com/chase3718/matrix-midi/internal/heartbeat"
	"github.com/chase3718/matrix-midi/internal/keyboard"
	"github.com/chase3718/matrix-midi/internal/matrix"
	"github.com/chase3718/matrix-midi/internal/midi"
	"github.com/chase3718/matrix-midi/internal/midiport"
	"github.com/chase3718/matrix-midi/internal/pipeline"
	"github.com/chase3718/matrix-midi/internal/transport"
)

// openOutputs builds the sender chain: the serial port, the host MIDI
// output, or both. The returned function closes them.
func openOutputs(cfg config.Config) (midi.Sender, func(), *midiport.Out, error) {
	var tee transport.Tee
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Serial != "" {
		sp, err := transport.OpenSerial(cfg.Serial, cfg.Baud, transport.Options{Framed: cfg.Framed, Logger: logger})
		if err != nil {
			return nil, nil, nil, err
		}
		tee = append(tee, sp)
		closers = append(closers, func() { _ = sp.Close() })
	}

	var out *midiport.Out
	if cfg.MIDIOut != "" {
		var err error
		out, err = midiport.Open([]string{cfg.MIDIOut}, logger)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		tee = append(tee, out)
		closers = append(closers, func() { _ = out.Close() })
	}

	if len(tee) == 0 {
		return nil, nil, nil, errors.New("no output: set -serial or -midi-out")
	}
	return tee, closeAll, out, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runLoop wires the matrix to sender and runs until interrupted.
func runLoop(cfg config.Config, sender midi.Sender, port *midiport.Out) error {
	clk := clock.System{}
	layout, err := loadLayout(cfg)
	if err != nil {
		return err
	}
	hw, err := openMatrix(cfg, clk)
	if err != nil {
		return err
	}
	defer hw.Close()

	led, closeLED := openLED(cfg)
	defer closeLED()
	hb := heartbeat.New(led, logger)
	defer hb.Stop()

	enc := midi.NewEncoder(sender, midi.Options{Channel: uint8(cfg.Channel), Logger: logger})
	enc.Init()

	p := pipeline.New(hw.scanner, keyboard.NewState(cfg.Debounce), layout, enc, clk, pipeline.Config{
		Channel:    uint8(cfg.Channel),
		Velocity:   uint8(cfg.Velocity),
		ScanPeriod: cfg.ScanPeriod,
	}, logger)
	p.Every("heartbeat", cfg.HeartbeatPeriod, hb.Beat)
	if port != nil {
		p.Every("midi-rescan", cfg.ScanPeriod, port.Tick)
	}

	logger.Info("matrixmidi starting",
		"serial", cfg.Serial,
		"baud", cfg.Baud,
		"midi_out", cfg.MIDIOut,
		"channel", cfg.Channel,
		"velocity", cfg.Velocity,
		"scan_period", cfg.ScanPeriod,
		"settle", cfg.Settle,
		"debounce", cfg.Debounce,
	)

	ctx, stop := signalContext()
	defer stop()
	err = p.Run(ctx)

	st := enc.Stats()
	logger.Info("matrixmidi stopped",
		"notes_on", p.Stats().NotesOn,
		"notes_off", p.Stats().NotesOff,
		"sent", st.Sent,
		"send_errors", st.Failed,
	)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runDaemon(cfg config.Config) error {
	sender, closeOut, port, err := openOutputs(cfg)
	if err != nil {
		return err
	}
	defer closeOut()
	return runLoop(cfg, sender, port)
}

func runMonitor(cfg config.Config) error {
	return runLoop(cfg, transport.NewCapture(os.Stdout), nil)
}

func runSelfTest(cfg config.Config) error {
	layout, err := loadLayout(cfg)
	if err != nil {
		return err
	}
	hw, err := openMatrix(cfg, clock.System{})
	if err != nil {
		return err
	}
	defer hw.Close()

	addr, err := hw.reg.Address(hw.chip)
	if err != nil {
		return err
	}
	idle, err := hw.scanner.SelfTest()
	if err != nil {
		return err
	}
	fmt.Printf("expander 0x%02X: port B idle 0x%02X\n", addr, idle)
	if idle != 0xFF {
		fmt.Println("warning: some rows read low with every column idle; check for shorts")
	}

	label, res, err := hw.scanner.Key(layout)
	if err != nil {
		return err
	}
	switch res {
	case matrix.SingleKey:
		fmt.Printf("key: %s\n", label)
	default:
		fmt.Printf("key: %s\n", res)
	}
	fmt.Printf("bus errors: %d\n", hw.reg.ErrorCount(hw.chip))
	return nil
}

func runNotes(cfg config.Config) error {
	layout, err := loadLayout(cfg)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tPOS\tLABEL\tNOTE\tNAME\tHZ")
	for k := matrix.KeyIndex(0); k < matrix.NumKeys; k++ {
		n, _ := layout.Note(k)
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%.2f\n", k, k, layout.Label(k), n, midi.NoteName(n), midi.NoteToFrequency(n))
	}
	return w.Flush()
}

func runPorts(cfg config.Config) error {
	ports, err := transport.ListPorts()
	if err != nil {
		return err
	}
	fmt.Println("serial ports:")
	for _, p := range ports {
		fmt.Println("  " + p)
	}

	out, err := midiport.Open(nil, logger)
	if err != nil {
		logger.Warn("midi: outputs unavailable", "err", err)
		return nil
	}
	defer out.Close()
	fmt.Println("midi outputs:")
	for _, n := range out.Ports() {
		fmt.Println("  " + n)
	}
	return nil
}
