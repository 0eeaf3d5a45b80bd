// Package transport moves encoded MIDI bytes to the outside world.
package transport

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"
)

// MIDIBaud is the DIN MIDI line rate.
const MIDIBaud = 31250

type Options struct {
	// Framed wraps every message in a Frame instead of writing raw bytes.
	Framed bool
	Logger *slog.Logger
}

// Serial writes messages to a serial port in call order.
type Serial struct {
	mu     sync.Mutex
	port   io.WriteCloser
	name   string
	framed bool
	seq    byte
	logger *slog.Logger
}

// OpenSerial opens the named serial device at the given baud rate.
func OpenSerial(name string, baud int, opts Options) (*Serial, error) {
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", name, err)
	}
	s := newSerial(p, name, opts)
	s.logger.Info("serial: port opened", "device", name, "baud", baud, "framed", opts.Framed)
	return s, nil
}

func newSerial(port io.WriteCloser, name string, opts Options) *Serial {
	s := &Serial{port: port, name: name, framed: opts.Framed, logger: opts.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Send writes one message, framed if configured.
func (s *Serial) Send(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, seq := msg, s.seq
	if s.framed {
		data = Frame{Seq: seq, Msg: msg}.Encode()
		s.seq++
	}
	n, err := s.port.Write(data)
	if err != nil {
		return fmt.Errorf("transport: write %s: %w", s.name, err)
	}
	if n != len(data) {
		return fmt.Errorf("transport: write %s: short write %d of %d", s.name, n, len(data))
	}
	s.logger.Debug("serial: sent", "bytes", n, "seq", seq)
	return nil
}

// Close closes the underlying serial port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("serial: closing port", "device", s.name)
	return s.port.Close()
}

// ListPorts returns the serial devices present on the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("transport: list ports: %w", err)
	}
	return ports, nil
}
