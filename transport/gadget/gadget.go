// Package gadget drives a Linux USB HID gadget: the boot keyboard report is
// written to one /dev/hidgN node and consumer reports to another. Writes are
// bounded by the transmit deadline and LED output reports are read back from
// the keyboard node.
package gadget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Alia5/MicroKB/board"
	"github.com/Alia5/MicroKB/hid"
	"github.com/Alia5/MicroKB/link"
	"github.com/Alia5/MicroKB/transport"
)

func init() {
	transport.Register(transport.Gadget, registration{})
}

type registration struct{}

func (registration) Kind() link.Kind { return link.Wired }

func (registration) Build(b *board.Board, o transport.Options) (link.Driver, error) {
	w := b.Transports.Wired
	if w == nil {
		return nil, errors.New("board has no wired transport")
	}
	return New(Config{
		Name:     w.Name,
		Keyboard: w.Keyboard,
		Consumer: w.Consumer,
		Timeout:  w.Timeout.D(),
		Logger:   o.Logger,
		HostLEDs: o.HostLEDs,
	}), nil
}

// errGone marks endpoint errors that mean the host or the gadget went away.
var errGone = errors.New("gadget endpoint gone")

// ledPollInterval bounds how long the LED reader blocks before it rechecks
// whether the session ended.
const ledPollInterval = 100 * time.Millisecond

// endpoint is one opened /dev/hidgN node.
type endpoint interface {
	Write(p []byte, deadline time.Time) error
	// ReadReport returns nil, nil when nothing arrived within timeout.
	ReadReport(timeout time.Duration) ([]byte, error)
	Close() error
}

// Config selects the gadget nodes.
type Config struct {
	Name     string
	Keyboard string
	// Consumer may be empty when the gadget has no consumer function.
	Consumer string
	Timeout  time.Duration
	Logger   *slog.Logger
	HostLEDs func(hid.LEDState)
}

// Driver is the wired transport.
type Driver struct {
	cfg    Config
	logger *slog.Logger
	open   func(path string) (endpoint, error)

	mu      sync.Mutex
	session *session
}

// New returns a driver for the configured nodes. Nothing is opened until
// Connect.
func New(cfg Config) *Driver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Millisecond
	}
	return &Driver{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "gadget", "transport", cfg.Name),
		open:   openEndpoint,
	}
}

func (d *Driver) Name() string    { return d.cfg.Name }
func (d *Driver) Kind() link.Kind { return link.Wired }

// Connect opens the gadget nodes. The nodes only exist while the gadget is
// bound to a UDC, so a failure here is retried by the link supervisor.
func (d *Driver) Connect(ctx context.Context) (link.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kbd, err := d.open(d.cfg.Keyboard)
	if err != nil {
		return nil, fmt.Errorf("open keyboard node: %w", err)
	}
	var cons endpoint
	if d.cfg.Consumer != "" {
		cons, err = d.open(d.cfg.Consumer)
		if err != nil {
			_ = kbd.Close()
			return nil, fmt.Errorf("open consumer node: %w", err)
		}
	}

	s := &session{kbd: kbd, cons: cons, done: make(chan struct{})}
	s.wg.Add(1)
	go d.readLEDs(s)

	d.mu.Lock()
	d.session = s
	d.mu.Unlock()
	d.logger.Info("Gadget opened", "keyboard", d.cfg.Keyboard, "consumer", d.cfg.Consumer)
	return s, nil
}

// Transmit writes the keyboard report, and the consumer report when it
// changed since the last one written in this session.
func (d *Driver) Transmit(ctx context.Context, f hid.Frame) error {
	d.mu.Lock()
	s := d.session
	d.mu.Unlock()
	if s == nil {
		return link.ErrLinkDown
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(d.cfg.Timeout)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return link.ErrLinkDown
	}
	if err := s.kbd.Write(f.Keyboard.BuildReport(), deadline); err != nil {
		return d.writeError(s, "keyboard", err)
	}
	if s.cons == nil {
		return nil
	}
	s.consMu.Lock()
	defer s.consMu.Unlock()
	if s.consSent && s.lastCons == f.Consumer {
		return nil
	}
	if err := s.cons.Write(f.Consumer.BuildReport(), deadline); err != nil {
		return d.writeError(s, "consumer", err)
	}
	s.lastCons = f.Consumer
	s.consSent = true
	return nil
}

func (d *Driver) writeError(s *session, node string, err error) error {
	switch {
	case errors.Is(err, errGone):
		s.fail()
		return fmt.Errorf("%w: write %s report: %w", link.ErrLinkDown, node, err)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: write %s report", link.ErrTimeout, node)
	default:
		return fmt.Errorf("write %s report: %w", node, err)
	}
}

func (d *Driver) readLEDs(s *session) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		default:
		}
		data, err := s.kbd.ReadReport(ledPollInterval)
		if err != nil {
			if errors.Is(err, errGone) {
				d.logger.Info("Gadget endpoint closed by host", "error", err)
				s.fail()
				return
			}
			d.logger.Debug("LED report read failed", "error", err)
			continue
		}
		if len(data) == 0 || d.cfg.HostLEDs == nil {
			continue
		}
		var st hid.LEDState
		if err := st.UnmarshalBinary(data); err == nil {
			d.cfg.HostLEDs(st)
		}
	}
}

type session struct {
	kbd  endpoint
	cons endpoint

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	consMu   sync.Mutex
	lastCons hid.ConsumerReport
	consSent bool
}

func (s *session) Done() <-chan struct{} { return s.done }

// fail ends the session without waiting for the LED reader.
func (s *session) fail() {
	s.once.Do(func() { close(s.done) })
}

// Close ends the session and closes both nodes once no write is in flight.
func (s *session) Close() error {
	s.fail()
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.kbd.Close()
	if s.cons != nil {
		err = errors.Join(err, s.cons.Close())
	}
	return err
}
