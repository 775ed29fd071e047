package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Alia5/MicroKB/internal/configpaths"
	"github.com/Alia5/MicroKB/internal/log"
	"github.com/Alia5/MicroKB/link"
	"github.com/Alia5/MicroKB/transport/wireless"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/term"
)

// Receive is a reference host for the wireless transport.
type Receive struct {
	Addr    string        `help:"Keyboard address (host:port)" required:"" env:"MICROKB_RECEIVE_ADDR"`
	Bonds   string        `help:"Host bond file (defaults to the config directory)" type:"path" env:"MICROKB_HOST_BONDS"`
	Pair    bool          `help:"Pair with the keyboard, prompting for the passkey it shows"`
	Passkey string        `help:"Passkey shown by the keyboard; implies --pair" env:"MICROKB_PASSKEY"`
	LEDs    string        `name:"leds" help:"LED state to send after connecting, e.g. caps,num"`
	Retry   time.Duration `help:"Give up reconnecting after this long; 0 retries forever" default:"0s"`
}

// Run is called by Kong when the receive command is executed.
func (r *Receive) Run(logger *slog.Logger, reports log.ReportLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := r.Bonds
	if path == "" {
		p, err := configpaths.DefaultHostBondsPath()
		if err != nil {
			return fmt.Errorf("failed to resolve bond file path: %w", err)
		}
		path = p
	}
	store, err := wireless.OpenStore(path)
	if err != nil {
		return err
	}
	leds, err := parseLEDs(r.LEDs)
	if err != nil {
		return err
	}

	passkey := r.Passkey
	if r.Pair && passkey == "" {
		if passkey, err = promptPasskey(); err != nil {
			return err
		}
	}

	logger = logger.With("component", "receive", "addr", r.Addr)
	for {
		hc, err := r.dial(ctx, store, passkey, logger)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		passkey = ""
		logger.Info("Connected to keyboard", "keyboard", hc.Peer(), "bonds", store.Path())

		if r.LEDs != "" {
			if err := hc.SendLEDs(leds); err != nil {
				logger.Warn("failed to send LED state", "error", err)
			}
		}

		err = receiveFrames(ctx, hc, reports)
		_ = hc.Close()
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("Connection lost, reconnecting", "error", err)
	}
}

func (r *Receive) dial(ctx context.Context, store *wireless.Store, passkey string, logger *slog.Logger) (*wireless.HostConn, error) {
	var bo backoff.BackOff = backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(r.Retry))
	bo = backoff.WithContext(bo, ctx)

	var hc *wireless.HostConn
	op := func() error {
		c, err := wireless.Dial(ctx, r.Addr, store, passkey)
		if err != nil {
			var rej *wireless.RejectError
			if errors.As(err, &rej) || errors.Is(err, link.ErrNotPaired) {
				return backoff.Permanent(err)
			}
			return err
		}
		hc = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		logger.Debug("dial failed", "error", err, "retry", next)
	}
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return nil, err
	}
	return hc, nil
}

func receiveFrames(ctx context.Context, hc *wireless.HostConn, reports log.ReportLogger) error {
	stop := context.AfterFunc(ctx, func() { _ = hc.Close() })
	defer stop()
	for {
		f, err := hc.ReadFrame()
		if err != nil {
			return err
		}
		reports.Log("wireless", false, f.Keyboard.BuildReport())
		reports.Log("wireless", false, f.Consumer.BuildReport())
		fmt.Println(describeFrame(f))
	}
}

func promptPasskey() (string, error) {
	fmt.Fprint(os.Stderr, "Passkey: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
