package mcp23017

// Register addresses with IOCON.BANK = 0 (paired A/B layout, the power-on
// default). Each register exists once per port; the B register follows A.
const (
	RegIODIRA   byte = 0x00 // direction, 1 = input
	RegIODIRB   byte = 0x01
	RegIPOLA    byte = 0x02 // input polarity, 1 = inverted
	RegIPOLB    byte = 0x03
	RegGPINTENA byte = 0x04 // interrupt-on-change enable
	RegGPINTENB byte = 0x05
	RegDEFVALA  byte = 0x06 // default compare value
	RegDEFVALB  byte = 0x07
	RegINTCONA  byte = 0x08 // 0 = compare with previous, 1 = with DEFVAL
	RegINTCONB  byte = 0x09
	RegIOCONA   byte = 0x0A // configuration, shared by both ports
	RegIOCONB   byte = 0x0B
	RegGPPUA    byte = 0x0C // pull-up enable
	RegGPPUB    byte = 0x0D
	RegINTFA    byte = 0x0E // interrupt flags, read only
	RegINTFB    byte = 0x0F
	RegINTCAPA  byte = 0x10 // captured pins at interrupt, read only
	RegINTCAPB  byte = 0x11
	RegGPIOA    byte = 0x12 // pin levels; writes go to OLAT
	RegGPIOB    byte = 0x13
	RegOLATA    byte = 0x14 // output latches
	RegOLATB    byte = 0x15

	// NumRegisters is the size of the register file.
	NumRegisters = 0x16
)

const (
	// BaseAddress is the fixed upper part of the 7-bit bus address. The
	// A2..A0 strap pins fill the low three bits.
	BaseAddress uint16 = 0x20
	MaxHWAddr   uint8  = 0x07

	allInputs  byte = 0xFF
	allOutputs byte = 0x00
)

// Port selects one of the two 8-bit ports.
type Port uint8

const (
	PortA Port = iota
	PortB
)

func (p Port) String() string {
	switch p {
	case PortA:
		return "A"
	case PortB:
		return "B"
	}
	return "?"
}

func (p Port) valid() bool { return p == PortA || p == PortB }

// reg maps a port A register to the same register of port p.
func (p Port) reg(a byte) byte {
	if p == PortB {
		return a + 1
	}
	return a
}

// Direction of a pin. The IODIR bit value is the enum value.
type Direction uint8

const (
	Output Direction = 0
	Input  Direction = 1
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Level is a pin logic level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// IOCON is the configuration register as named fields. The zero value is
// the configuration this driver writes: paired banks, INT pins not mirrored,
// sequential addressing and slew rate enabled, hardware address pins
// ignored, active driver INT output, active-low INT.
type IOCON struct {
	Bank             bool // registers split into two banks
	Mirror           bool // INTA and INTB internally connected
	SeqOpDisabled    bool // address pointer does not increment
	SlewRateDisabled bool // SDA slew rate control off
	HardwareAddress  bool // A2..A0 decoded (SPI variant only)
	OpenDrain        bool // INT pin open drain, overrides IntActiveHigh
	IntActiveHigh    bool // INT pin polarity
}

const (
	ioconIntPol byte = 1 << (iota + 1)
	ioconODR
	ioconHAEN
	ioconDISSLW
	ioconSEQOP
	ioconMIRROR
	ioconBANK
)

// Byte serializes the record to the register value. Bit 0 is unimplemented
// and always written as 0.
func (c IOCON) Byte() byte {
	var b byte
	set := func(on bool, bit byte) {
		if on {
			b |= bit
		}
	}
	set(c.Bank, ioconBANK)
	set(c.Mirror, ioconMIRROR)
	set(c.SeqOpDisabled, ioconSEQOP)
	set(c.SlewRateDisabled, ioconDISSLW)
	set(c.HardwareAddress, ioconHAEN)
	set(c.OpenDrain, ioconODR)
	set(c.IntActiveHigh, ioconIntPol)
	return b
}

// ParseIOCON decodes a register value.
func ParseIOCON(b byte) IOCON {
	return IOCON{
		Bank:             b&ioconBANK != 0,
		Mirror:           b&ioconMIRROR != 0,
		SeqOpDisabled:    b&ioconSEQOP != 0,
		SlewRateDisabled: b&ioconDISSLW != 0,
		HardwareAddress:  b&ioconHAEN != 0,
		OpenDrain:        b&ioconODR != 0,
		IntActiveHigh:    b&ioconIntPol != 0,
	}
}

func bitRead(value, bit uint8) bool {
	return value>>bit&0x01 == 1
}

func applyMask(value, mask byte, set bool) byte {
	if set {
		return value | mask
	}
	return value &^ mask
}
