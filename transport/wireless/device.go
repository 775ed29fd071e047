// Package wireless implements the radio transport as an encrypted stream.
// The keyboard advertises by listening; a host connects with the key of an
// existing bond, or pairs by proving it knows the passkey shown on the
// keyboard. Bonds are kept in a YAML file on both sides.
package wireless

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Alia5/MicroKB/board"
	"github.com/Alia5/MicroKB/hid"
	"github.com/Alia5/MicroKB/link"
	"github.com/Alia5/MicroKB/transport"
)

func init() {
	transport.Register(transport.Wireless, registration{})
}

type registration struct{}

func (registration) Kind() link.Kind { return link.Wireless }

func (registration) Build(b *board.Board, o transport.Options) (link.Driver, error) {
	w := b.Transports.Wireless
	if w == nil {
		return nil, errors.New("board has no wireless transport")
	}
	store, err := OpenStore(w.Bonds)
	if err != nil {
		return nil, err
	}
	return NewDevice(DeviceConfig{
		Name:     w.Name,
		Listen:   w.Listen,
		Timeout:  w.Timeout.D(),
		Logger:   o.Logger,
		HostLEDs: o.HostLEDs,
	}, store), nil
}

// DefaultHandshakeTimeout bounds a host's handshake.
const DefaultHandshakeTimeout = 2 * time.Second

// ReasonPairing is sent to bonded hosts while the keyboard only accepts a
// pairing host.
const ReasonPairing = "pairing in progress"

// DeviceConfig configures the keyboard side.
type DeviceConfig struct {
	Name             string
	Listen           string
	Timeout          time.Duration
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
	HostLEDs         func(hid.LEDState)
}

// Device is the keyboard side of the wireless link. It implements
// link.Driver and link.Pairer.
type Device struct {
	cfg    DeviceConfig
	store  *Store
	logger *slog.Logger

	lnMu  sync.Mutex
	ln    net.Listener
	conns chan net.Conn

	mu      sync.Mutex
	session *deviceSession
}

// NewDevice returns a keyboard side driver using store for bonds.
func NewDevice(cfg DeviceConfig, store *Store) *Device {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 50 * time.Millisecond
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Device{
		cfg:    cfg,
		store:  store,
		logger: cfg.Logger.With("component", "wireless", "transport", cfg.Name),
	}
}

func (d *Device) Name() string    { return d.cfg.Name }
func (d *Device) Kind() link.Kind { return link.Wireless }

// Store returns the bond store.
func (d *Device) Store() *Store { return d.store }

// Listen starts accepting hosts and returns the bound address. Calling it
// again returns the same address.
func (d *Device) Listen() (net.Addr, error) {
	d.lnMu.Lock()
	defer d.lnMu.Unlock()
	if d.ln != nil {
		return d.ln.Addr(), nil
	}
	ln, err := net.Listen("tcp", d.cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("advertise on %s: %w", d.cfg.Listen, err)
	}
	d.ln = ln
	d.conns = make(chan net.Conn)
	go d.acceptLoop(ln, d.conns)
	d.logger.Info("Advertising", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

// Close stops advertising and ends the current session.
func (d *Device) Close() error {
	d.lnMu.Lock()
	ln := d.ln
	d.ln = nil
	d.lnMu.Unlock()

	d.mu.Lock()
	s := d.session
	d.session = nil
	d.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	if s != nil {
		err = errors.Join(err, s.Close())
	}
	return err
}

// acceptLoop hands connections to whoever is advertising. A connection nobody
// takes within the handshake timeout is dropped.
func (d *Device) acceptLoop(ln net.Listener, conns chan<- net.Conn) {
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			d.logger.Warn("Accept failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		select {
		case conns <- c:
		case <-time.After(d.cfg.HandshakeTimeout):
			d.logger.Debug("Dropping host while not advertising", "remote", c.RemoteAddr().String())
			_ = c.Close()
		}
	}
}

// Connect waits for a bonded host.
func (d *Device) Connect(ctx context.Context) (link.Session, error) {
	if d.store.Len() == 0 {
		return nil, link.ErrNotPaired
	}
	return d.advertise(ctx, "")
}

// Pair waits for a host that knows passkey and bonds with it.
func (d *Device) Pair(ctx context.Context, passkey string) (link.Session, error) {
	if passkey == "" {
		return nil, errors.New("pair: empty passkey")
	}
	return d.advertise(ctx, passkey)
}

// Paired reports whether any host is bonded.
func (d *Device) Paired() bool { return d.store.Len() > 0 }

// ClearBonds forgets every host and ends the current session.
func (d *Device) ClearBonds() error {
	if err := d.store.Clear(); err != nil {
		return err
	}
	d.mu.Lock()
	s := d.session
	d.mu.Unlock()
	if s != nil {
		s.fail()
	}
	d.logger.Info("Bonds cleared")
	return nil
}

func (d *Device) advertise(ctx context.Context, passkey string) (link.Session, error) {
	if _, err := d.Listen(); err != nil {
		return nil, err
	}
	d.lnMu.Lock()
	conns := d.conns
	d.lnMu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c := <-conns:
			s, err := d.accept(c, passkey)
			if err != nil {
				d.logger.Warn("Host rejected", "remote", c.RemoteAddr().String(), "error", err)
				continue
			}
			d.mu.Lock()
			d.session = s
			d.mu.Unlock()
			return s, nil
		}
	}
}

// accept runs the keyboard side of the handshake on c. c is closed on error.
func (d *Device) accept(c net.Conn, passkey string) (*deviceSession, error) {
	_ = c.SetDeadline(time.Now().Add(d.cfg.HandshakeTimeout))
	r := bufio.NewReader(c)
	h, err := readHello(r)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	reject := func(reason string) (*deviceSession, error) {
		_ = writeReject(c, reason)
		_ = c.Close()
		return nil, fmt.Errorf("host %s (%s): %w", h.Host, h.Mode, &RejectError{Reason: reason})
	}

	pairing := h.Mode == ModePair
	var key []byte
	switch {
	case pairing && passkey == "":
		return reject(ReasonNotPairing)
	case !pairing && passkey != "":
		return reject(ReasonPairing)
	case pairing:
		key, err = DerivePairingKey(passkey, h.Host)
	default:
		bond, ok := d.store.Lookup(h.Host)
		if !ok {
			return reject(ReasonUnknownHost)
		}
		key, err = bond.KeyBytes()
	}
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if !h.verify(key) {
		return reject(ReasonAuth)
	}

	nonce, err := randomNonce()
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := writeAccept(c, nonce, d.store.ID()); err != nil {
		_ = c.Close()
		return nil, err
	}
	sc, err := wrapConn(c, r, deriveSessionKey(key, nonce, h.Nonce), true)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	if pairing {
		bondKey, err := NewBondKey()
		if err == nil {
			_, err = sc.Write(append([]byte{msgBond}, bondKey...))
		}
		if err == nil {
			err = d.store.Put(Bond{
				Peer:    h.Host,
				Key:     hex.EncodeToString(bondKey),
				Addr:    c.RemoteAddr().String(),
				Created: time.Now().UTC(),
			})
		}
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("bond with %s: %w", h.Host, err)
		}
		d.logger.Info("Bonded", "host", h.Host.String())
	}
	_ = c.SetDeadline(time.Time{})

	s := &deviceSession{conn: sc, host: h, done: make(chan struct{})}
	go d.readLoop(s)
	d.logger.Info("Host connected", "host", h.Host.String(), "remote", c.RemoteAddr().String())
	return s, nil
}

func (d *Device) readLoop(s *deviceSession) {
	defer s.fail()
	for {
		kind, payload, err := readMessage(s.conn)
		if err != nil {
			if !s.isDone() {
				d.logger.Info("Host disconnected", "host", s.host.Host.String(), "error", err)
			}
			return
		}
		if kind != msgLEDs || d.cfg.HostLEDs == nil {
			continue
		}
		var st hid.LEDState
		if err := st.UnmarshalBinary(payload); err == nil {
			d.cfg.HostLEDs(st)
		}
	}
}

// Transmit sends one frame. A failed or timed out write leaves the stream in
// an unknown state, so it also ends the session.
func (d *Device) Transmit(ctx context.Context, f hid.Frame) error {
	d.mu.Lock()
	s := d.session
	d.mu.Unlock()
	if s == nil || s.isDone() {
		return link.ErrLinkDown
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(d.cfg.Timeout)
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if _, err := s.conn.Write(frameMessage(f)); err != nil {
		s.fail()
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return fmt.Errorf("%w: %w", link.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", link.ErrLinkDown, err)
	}
	return nil
}

type deviceSession struct {
	conn *sealedConn
	host hello

	once sync.Once
	done chan struct{}
}

func (s *deviceSession) Done() <-chan struct{} { return s.done }

func (s *deviceSession) fail() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *deviceSession) Close() error {
	s.fail()
	return nil
}

func (s *deviceSession) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
