// Package sim provides an in-process wired transport. It accepts every frame,
// keeps the latest one and logs the keys it would have sent, so the whole
// pipeline can run on a machine without a USB gadget controller.
package sim

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/Alia5/MicroKB/board"
	"github.com/Alia5/MicroKB/hid"
	"github.com/Alia5/MicroKB/link"
	"github.com/Alia5/MicroKB/transport"
)

func init() {
	transport.Register(transport.Sim, registration{})
}

type registration struct{}

func (registration) Kind() link.Kind { return link.Wired }

func (registration) Build(b *board.Board, o transport.Options) (link.Driver, error) {
	name := board.DefaultWiredName
	if b.Transports.Wired != nil {
		name = b.Transports.Wired.Name
	}
	d := New(name, o.Logger)
	d.hostLEDs = o.HostLEDs
	return d, nil
}

// Driver is a simulated wired host.
type Driver struct {
	name     string
	logger   *slog.Logger
	hostLEDs func(hid.LEDState)

	mu      sync.Mutex
	session *session
	last    hid.Frame
	sent    int
}

// New returns a simulated driver called name.
func New(name string, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{name: name, logger: logger.With("component", "sim", "transport", name)}
}

func (d *Driver) Name() string    { return d.name }
func (d *Driver) Kind() link.Kind { return link.Wired }

// Connect enumerates immediately.
func (d *Driver) Connect(ctx context.Context) (link.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &session{done: make(chan struct{})}
	d.mu.Lock()
	d.session = s
	d.mu.Unlock()
	d.logger.Info("Host attached")
	return s, nil
}

// Transmit records the frame.
func (d *Driver) Transmit(ctx context.Context, f hid.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	s := d.session
	if s == nil || s.closed() {
		d.mu.Unlock()
		return link.ErrLinkDown
	}
	d.last = f
	d.sent++
	d.mu.Unlock()

	if d.logger.Enabled(ctx, slog.LevelDebug) {
		names := make([]string, 0, hid.KeySlots+1)
		for _, u := range hid.Decode(f) {
			names = append(names, hid.UsageName(u))
		}
		d.logger.Debug("Frame", "mods", f.Keyboard.Modifiers, "keys", strings.Join(names, "+"))
	}
	return nil
}

// Last returns the most recent frame and the number of frames sent.
func (d *Driver) Last() (hid.Frame, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.sent
}

// Unplug ends the current session as if the cable was pulled.
func (d *Driver) Unplug() {
	d.mu.Lock()
	s := d.session
	d.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
}

// SetHostLEDs delivers an LED output report as the host would.
func (d *Driver) SetHostLEDs(st hid.LEDState) {
	if d.hostLEDs != nil {
		d.hostLEDs(st)
	}
}

type session struct {
	once sync.Once
	done chan struct{}
}

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
