package main

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/chase3718/matrix-midi/internal/bus"
	"github.com/chase3718/matrix-midi/internal/clock"
	"github.com/chase3718/matrix-midi/internal/config"
	"github.com/chase3718/matrix-midi/internal/heartbeat"
	"github.com/chase3718/matrix-midi/internal/keymap"
	"github.com/chase3718/matrix-midi/internal/matrix"
	"github.com/chase3718/matrix-midi/internal/mcp23017"
)

// matrixHW is the opened I2C bus with the keyboard expander on it.
type matrixHW struct {
	i2c     i2c.BusCloser
	reg     *mcp23017.Registry
	chip    mcp23017.ChipID
	scanner *matrix.Scanner
}

func openMatrix(cfg config.Config, clk clock.Clock) (*matrixHW, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	b, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", cfg.I2CBus, err)
	}
	logger.Info("i2c: bus opened", "bus", b.String())

	speed := bus.StandardMode
	if cfg.I2CFast {
		speed = bus.FastMode
	}
	reg := mcp23017.NewRegistry(mcp23017.Options{
		Timeout: cfg.I2CTimeout,
		Speed:   speed,
		Logger:  logger,
	})
	reg.Init()

	id, err := reg.Add(bus.NewPeriph(b, cfg.I2CFast), uint8(cfg.I2CAddress))
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	scanner := matrix.NewScanner(reg, id, matrix.Options{
		Settle: cfg.Settle,
		Clock:  clk,
		Logger: logger,
	})
	if err := scanner.Setup(); err != nil {
		_ = b.Close()
		return nil, err
	}
	return &matrixHW{i2c: b, reg: reg, chip: id, scanner: scanner}, nil
}

func (h *matrixHW) Close() {
	logger.Info("i2c: closing bus", "chip_errors", h.reg.ErrorCount(h.chip))
	_ = h.i2c.Close()
}

func loadLayout(cfg config.Config) (*keymap.Layout, error) {
	if cfg.Layout == "" {
		return keymap.DefaultPiano(), nil
	}
	l, err := keymap.LoadFile(cfg.Layout)
	if err != nil {
		return nil, err
	}
	logger.Info("keymap: layout loaded", "path", cfg.Layout)
	return l, nil
}

// openLED returns the heartbeat LED and a function that releases it.
func openLED(cfg config.Config) (heartbeat.LED, func()) {
	if cfg.HeartbeatPin < 0 {
		return heartbeat.Nop{}, func() {}
	}
	led, err := heartbeat.OpenGPIO(cfg.HeartbeatPin)
	if err != nil {
		logger.Warn("heartbeat: no gpio, LED disabled", "pin", cfg.HeartbeatPin, "err", err)
		return heartbeat.Nop{}, func() {}
	}
	return led, func() { _ = led.Close() }
}
