// Command matrixmidi reads an 8x8 key matrix through an MCP23017 on I2C and
// plays it as MIDI notes over a serial link.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/chase3718/matrix-midi/internal/config"
)

// -------------------- Logger --------------------

// logger is the package-wide structured logger. Safe to use before initLogger
// is called; defaults to slog.Default().
var logger = slog.Default()

// initLogger configures the shared slog logger and calls slog.SetDefault so
// the library packages and the stdlib log package use the same handler.
func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug, // include file:line in debug mode
	})
	logger = slog.New(h)
	slog.SetDefault(logger)
}

// -------------------- Commands --------------------

type command struct {
	name  string
	usage string
	run   func(cfg config.Config) error
}

var commands = []command{
	{"run", "scan the matrix and send MIDI (default)", runDaemon},
	{"monitor", "scan the matrix and print MIDI to stdout instead of sending it", runMonitor},
	{"selftest", "check the expander and report the pressed key", runSelfTest},
	{"notes", "print the key layout", runNotes},
	{"ports", "list serial ports and MIDI outputs", runPorts},
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		out := fs.Output()
		fmt.Fprintf(out, "usage: matrixmidi [command] [flags]\n\ncommands:\n")
		for _, c := range commands {
			fmt.Fprintf(out, "  %-9s %s\n", c.name, c.usage)
		}
		fmt.Fprintf(out, "\nflags:\n")
		fs.PrintDefaults()
	}
}

func main() {
	args := os.Args[1:]
	cmd := commands[0]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		found := false
		for _, c := range commands {
			if c.name == args[0] {
				cmd, found = c, true
				break
			}
		}
		if !found {
			fmt.Fprintf(os.Stderr, "matrixmidi: unknown command %q\n", args[0])
			os.Exit(2)
		}
		args = args[1:]
	}

	fs := flag.NewFlagSet("matrixmidi "+cmd.name, flag.ExitOnError)
	fs.Usage = usage(fs)
	debug := fs.Bool("debug", false, "enable debug logging (adds source location)")
	configPath := fs.String("config", "", "JSON config file; flags given on the command line win")
	cfg := config.Default()
	cfg.RegisterFlags(fs)
	_ = fs.Parse(args)

	initLogger(*debug)

	if *configPath != "" {
		if err := cfg.LoadFile(*configPath, config.Explicit(fs)); err != nil {
			logger.Error("config: load failed", "path", *configPath, "err", err)
			os.Exit(1)
		}
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("config: invalid", "err", err)
		os.Exit(2)
	}

	if err := cmd.run(cfg); err != nil {
		logger.Error(cmd.name+" failed", "err", err)
		os.Exit(1)
	}
}
