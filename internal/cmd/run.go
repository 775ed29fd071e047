package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Alia5/MicroKB/board"
	"github.com/Alia5/MicroKB/effects"
	"github.com/Alia5/MicroKB/firmware"
	"github.com/Alia5/MicroKB/internal/log"
	"github.com/Alia5/MicroKB/matrix"
	"github.com/Alia5/MicroKB/transport/sim"
)

// Run starts the firmware for one board.
type Run struct {
	Board  string `help:"Board file (yaml, toml or json)" default:"board.yaml" type:"path" env:"MICROKB_BOARD"`
	Sim    bool   `help:"Simulate the matrix and the wired host; key names are read from stdin" env:"MICROKB_SIM"`
	Status bool   `help:"Print the LED status line to stdout" env:"MICROKB_STATUS"`
}

// Run is called by Kong when the run command is executed.
func (r *Run) Run(logger *slog.Logger, reports log.ReportLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := board.Load(r.Board)
	if err != nil {
		return err
	}

	opts := []firmware.Option{
		firmware.WithLogger(logger),
		firmware.WithReportLogger(reports),
		firmware.WithSimTransport(r.Sim),
	}
	if r.Status {
		opts = append(opts, firmware.WithRenderer(effects.NewConsoleRenderer(os.Stdout)))
	}

	var chain matrix.Chain
	var simChain *matrix.SimChain
	if r.Sim {
		simChain = matrix.NewSimChain(b.Chain.Registers * 8)
		chain = simChain
	} else {
		spi := b.Chain.SPI
		c, err := matrix.OpenSPI(matrix.SPIConfig{
			Device:    spi.Device,
			Mode:      spi.Mode,
			SpeedHz:   spi.SpeedHz,
			LatchGPIO: spi.LatchGPIO,
			LSBFirst:  spi.LSBFirst,
		})
		if err != nil {
			return fmt.Errorf("open shift register chain: %w", err)
		}
		defer c.Close()
		chain = c
	}

	fw, err := firmware.New(b, chain, opts...)
	if err != nil {
		return err
	}
	logger.Info("Starting MicroKB", "board", b.Name, "keys", len(b.Keys), "layers", len(b.Layers), "sim", r.Sim)

	if simChain != nil {
		tapper := &simInput{
			fw:    fw,
			chain: simChain,
			hold:  2 * (b.Timing.Debounce.D() + b.Timing.Scan.D()),
			log:   logger.With("component", "sim-input"),
		}
		go tapper.read(ctx, os.Stdin)
	}

	return fw.Run(ctx)
}

// simInput drives a SimChain from text lines. "a" taps key a, "+a" holds it,
// "-a" releases it and "leds caps,num" sets the host LED state.
type simInput struct {
	fw    *firmware.Firmware
	chain *matrix.SimChain
	hold  time.Duration
	log   *slog.Logger
}

func (s *simInput) read(ctx context.Context, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := s.apply(ctx, strings.TrimSpace(sc.Text())); err != nil {
			s.log.Warn("ignoring input", "error", err)
		}
	}
}

func (s *simInput) apply(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}
	if rest, ok := strings.CutPrefix(line, "leds"); ok {
		return s.setLEDs(strings.TrimSpace(rest))
	}
	op := byte(0)
	if line[0] == '+' || line[0] == '-' {
		op, line = line[0], line[1:]
	}
	pos, ok := s.fw.Board().Positions[line]
	if !ok {
		return fmt.Errorf("unknown key %q", line)
	}
	switch op {
	case '+':
		s.chain.Set(pos, true)
	case '-':
		s.chain.Set(pos, false)
	default:
		s.chain.Set(pos, true)
		select {
		case <-ctx.Done():
		case <-time.After(s.hold):
		}
		s.chain.Set(pos, false)
	}
	return nil
}

func (s *simInput) setLEDs(list string) error {
	st, err := parseLEDs(list)
	if err != nil {
		return err
	}
	for _, d := range s.fw.Links().Snapshot().Links {
		drv, ok := s.fw.Links().Driver(d.Name)
		if !ok {
			continue
		}
		if sd, ok := drv.(*sim.Driver); ok {
			sd.SetHostLEDs(st)
			return nil
		}
	}
	return errors.New("no simulated host")
}
