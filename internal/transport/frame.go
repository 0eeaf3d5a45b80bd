package transport

import (
	"errors"
	"fmt"
)

const (
	SOF0    = 0xAA
	SOF1    = 0x55
	CmdMIDI = 0x20

	frameOverhead = 5 // SOF0 SOF1 LEN CMD ... CKS
)

var ErrBadFrame = errors.New("transport: bad frame")

// Frame carries one MIDI message over a link that needs resynchronization,
// such as a microcontroller bridge that also prints debug text.
type Frame struct {
	Seq byte
	Msg []byte
}

// Encode builds the on-wire representation:
//
//	[SOF0][SOF1][LEN][CMD][Seq][msg...][CKS]
//
// LEN counts CMD and the payload. CKS is the XOR of LEN, CMD and payload.
func (f Frame) Encode() []byte {
	payload := make([]byte, 0, len(f.Msg)+1)
	payload = append(payload, f.Seq)
	payload = append(payload, f.Msg...)

	length := byte(len(payload) + 1) // +1 for CMD byte
	cks := length ^ CmdMIDI
	for _, b := range payload {
		cks ^= b
	}

	out := make([]byte, 0, len(payload)+frameOverhead)
	out = append(out, SOF0, SOF1, length, CmdMIDI)
	out = append(out, payload...)
	return append(out, cks)
}

// DecodeFrame parses exactly one encoded frame.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < frameOverhead+1 || b[0] != SOF0 || b[1] != SOF1 {
		return Frame{}, fmt.Errorf("%w: missing start", ErrBadFrame)
	}
	length := int(b[2])
	if len(b) != length+4 {
		return Frame{}, fmt.Errorf("%w: length %d for %d bytes", ErrBadFrame, length, len(b))
	}
	if b[3] != CmdMIDI {
		return Frame{}, fmt.Errorf("%w: command 0x%02X", ErrBadFrame, b[3])
	}
	var cks byte
	for _, v := range b[2 : len(b)-1] {
		cks ^= v
	}
	if cks != b[len(b)-1] {
		return Frame{}, fmt.Errorf("%w: checksum", ErrBadFrame)
	}
	return Frame{Seq: b[4], Msg: append([]byte(nil), b[5:len(b)-1]...)}, nil
}
