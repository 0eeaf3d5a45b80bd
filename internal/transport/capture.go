package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// Capture keeps every message it is sent and, when w is set, prints it.
type Capture struct {
	mu   sync.Mutex
	msgs [][]byte
	w    io.Writer
}

func NewCapture(w io.Writer) *Capture {
	return &Capture{w: w}
}

func (c *Capture) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, append([]byte(nil), msg...))
	if c.w != nil {
		if _, err := fmt.Fprintf(c.w, "% X  %s\n", msg, gomidi.Message(msg)); err != nil {
			return err
		}
	}
	return nil
}

// Messages returns a copy of everything sent so far.
func (c *Capture) Messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = append([]byte(nil), m...)
	}
	return out
}

func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
}

// Sender is anything that takes encoded messages.
type Sender interface {
	Send(msg []byte) error
}

// Tee sends every message to all its senders, in order, and joins their
// errors.
type Tee []Sender

func (t Tee) Send(msg []byte) error {
	var errs []error
	for _, s := range t {
		if err := s.Send(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
