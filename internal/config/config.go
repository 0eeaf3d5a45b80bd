// Package config holds the daemon settings. Values come from defaults, then
// an optional JSON file, then flags given explicitly on the command line.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

var ErrInvalid = errors.New("config: invalid value")

// Duration is a time.Duration written as "10ms" in JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10ms\": %w", err)
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

type Config struct {
	I2CBus     string        // periph bus name, "" for the first one
	I2CAddress uint          // A2..A0 strap value, 0..7
	I2CFast    bool          // 400 kHz instead of 100 kHz
	I2CTimeout time.Duration // per register transaction

	Serial string
	Baud   int
	Framed bool
	// MIDIOut selects a host MIDI output by name pattern; "" disables it.
	MIDIOut string

	Channel  uint
	Velocity uint

	ScanPeriod time.Duration
	Settle     time.Duration
	Debounce   int

	HeartbeatPin    int // BCM pin, negative for none
	HeartbeatPeriod time.Duration

	Layout string // JSON layout file, "" for the built-in piano
}

func Default() Config {
	return Config{
		I2CTimeout:      25 * time.Millisecond,
		Serial:          "/dev/ttyACM0",
		Baud:            31250,
		Channel:         1,
		Velocity:        100,
		ScanPeriod:      10 * time.Millisecond,
		Settle:          2 * time.Millisecond,
		Debounce:        3,
		HeartbeatPin:    -1,
		HeartbeatPeriod: time.Second,
	}
}

// RegisterFlags binds c's fields to fs, using c's current values as the
// flag defaults. The flag names are the JSON keys with dashes.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.I2CBus, "i2c-bus", c.I2CBus, "I2C bus name (empty for the first bus)")
	fs.UintVar(&c.I2CAddress, "i2c-address", c.I2CAddress, "MCP23017 hardware address A2..A0 (0-7)")
	fs.BoolVar(&c.I2CFast, "i2c-fast", c.I2CFast, "run the I2C bus at 400 kHz")
	fs.DurationVar(&c.I2CTimeout, "i2c-timeout", c.I2CTimeout, "timeout per I2C transaction")
	fs.StringVar(&c.Serial, "serial", c.Serial, "serial port device (empty to disable)")
	fs.IntVar(&c.Baud, "baud", c.Baud, "serial baud rate")
	fs.BoolVar(&c.Framed, "framed", c.Framed, "wrap MIDI messages in checksummed frames")
	fs.StringVar(&c.MIDIOut, "midi-out", c.MIDIOut, "also send to the host MIDI output matching this name")
	fs.UintVar(&c.Channel, "channel", c.Channel, "MIDI channel (1-16)")
	fs.UintVar(&c.Velocity, "velocity", c.Velocity, "note on velocity (1-127)")
	fs.DurationVar(&c.ScanPeriod, "scan-period", c.ScanPeriod, "matrix scan period")
	fs.DurationVar(&c.Settle, "settle", c.Settle, "wait after each column strobe")
	fs.IntVar(&c.Debounce, "debounce", c.Debounce, "consecutive reads needed to accept a key change")
	fs.IntVar(&c.HeartbeatPin, "heartbeat-pin", c.HeartbeatPin, "BCM pin of the heartbeat LED (-1 for none)")
	fs.DurationVar(&c.HeartbeatPeriod, "heartbeat-period", c.HeartbeatPeriod, "heartbeat LED toggle period")
	fs.StringVar(&c.Layout, "layout", c.Layout, "JSON key layout file (empty for the built-in piano)")
}

type file struct {
	I2CBus          *string   `json:"i2c_bus"`
	I2CAddress      *uint     `json:"i2c_address"`
	I2CFast         *bool     `json:"i2c_fast"`
	I2CTimeout      *Duration `json:"i2c_timeout"`
	Serial          *string   `json:"serial"`
	Baud            *int      `json:"baud"`
	Framed          *bool     `json:"framed"`
	MIDIOut         *string   `json:"midi_out"`
	Channel         *uint     `json:"channel"`
	Velocity        *uint     `json:"velocity"`
	ScanPeriod      *Duration `json:"scan_period"`
	Settle          *Duration `json:"settle"`
	Debounce        *int      `json:"debounce"`
	HeartbeatPin    *int      `json:"heartbeat_pin"`
	HeartbeatPeriod *Duration `json:"heartbeat_period"`
	Layout          *string   `json:"layout"`
}

// LoadFile applies the JSON file at path to c, skipping every key whose
// flag is in explicit.
func (c *Config) LoadFile(path string, explicit map[string]bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	var f file
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}

	setString(&c.I2CBus, f.I2CBus, explicit["i2c-bus"])
	set(&c.I2CAddress, f.I2CAddress, explicit["i2c-address"])
	set(&c.I2CFast, f.I2CFast, explicit["i2c-fast"])
	setDuration(&c.I2CTimeout, f.I2CTimeout, explicit["i2c-timeout"])
	setString(&c.Serial, f.Serial, explicit["serial"])
	set(&c.Baud, f.Baud, explicit["baud"])
	set(&c.Framed, f.Framed, explicit["framed"])
	setString(&c.MIDIOut, f.MIDIOut, explicit["midi-out"])
	set(&c.Channel, f.Channel, explicit["channel"])
	set(&c.Velocity, f.Velocity, explicit["velocity"])
	setDuration(&c.ScanPeriod, f.ScanPeriod, explicit["scan-period"])
	setDuration(&c.Settle, f.Settle, explicit["settle"])
	set(&c.Debounce, f.Debounce, explicit["debounce"])
	set(&c.HeartbeatPin, f.HeartbeatPin, explicit["heartbeat-pin"])
	setDuration(&c.HeartbeatPeriod, f.HeartbeatPeriod, explicit["heartbeat-period"])
	setString(&c.Layout, f.Layout, explicit["layout"])
	return nil
}

func set[T any](dst *T, v *T, explicit bool) {
	if v != nil && !explicit {
		*dst = *v
	}
}

func setString(dst *string, v *string, explicit bool) {
	if v != nil && !explicit {
		*dst = strings.TrimSpace(*v)
	}
}

func setDuration(dst *time.Duration, v *Duration, explicit bool) {
	if v != nil && !explicit {
		*dst = time.Duration(*v)
	}
}

// Explicit returns the names of the flags set on the command line.
func Explicit(fs *flag.FlagSet) map[string]bool {
	names := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { names[f.Name] = true })
	return names
}

// Validate checks ranges the hardware and protocol impose.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}
	check(c.I2CAddress <= 7, "i2c_address %d not in 0..7", c.I2CAddress)
	check(c.Channel >= 1 && c.Channel <= 16, "channel %d not in 1..16", c.Channel)
	check(c.Velocity >= 1 && c.Velocity <= 127, "velocity %d not in 1..127", c.Velocity)
	check(c.Serial == "" || c.Baud > 0, "baud %d must be positive", c.Baud)
	check(c.ScanPeriod > 0, "scan_period %s must be positive", c.ScanPeriod)
	check(c.Settle > 0, "settle %s must be positive", c.Settle)
	check(c.Debounce >= 1 && c.Debounce <= 255, "debounce %d not in 1..255", c.Debounce)
	check(c.HeartbeatPeriod > 0, "heartbeat_period %s must be positive", c.HeartbeatPeriod)
	return errors.Join(errs...)
}
