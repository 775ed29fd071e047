package wireless

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Alia5/MicroKB/hid"
	"github.com/Alia5/MicroKB/link"
	"github.com/google/uuid"
)

// HostConn is the host side of an established wireless session.
type HostConn struct {
	conn *sealedConn
	peer uuid.UUID

	mu    sync.Mutex
	frame hid.Frame
}

// Dial connects to the keyboard at addr. With a passkey it pairs and stores
// the resulting bond; without one it authenticates with the bond previously
// made with addr.
func Dial(ctx context.Context, addr string, store *Store, passkey string) (*HostConn, error) {
	mode := ModeConnect
	var bond Bond
	var key []byte
	var err error
	if passkey != "" {
		mode = ModePair
		key, err = DerivePairingKey(passkey, store.ID())
	} else {
		var ok bool
		bond, ok = store.LookupAddr(addr)
		if !ok {
			return nil, fmt.Errorf("%s: %w", addr, link.ErrNotPaired)
		}
		key, err = bond.KeyBytes()
	}
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	hc, err := handshake(ctx, c, addr, store, mode, key, bond)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return hc, nil
}

func handshake(ctx context.Context, c net.Conn, addr string, store *Store, mode Mode, key []byte, bond Bond) (*HostConn, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultHandshakeTimeout)
	}
	_ = c.SetDeadline(deadline)

	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	if err := writeHello(c, hello{Mode: mode, Host: store.ID(), Nonce: nonce, MAC: authMAC(key, nonce)}); err != nil {
		return nil, err
	}
	r := bufio.NewReader(c)
	kbNonce, kbID, err := readResponse(r)
	if err != nil {
		return nil, err
	}
	if mode == ModeConnect && kbID != bond.Peer {
		return nil, fmt.Errorf("keyboard at %s is %s, bonded with %s", addr, kbID, bond.Peer)
	}
	sc, err := wrapConn(c, r, deriveSessionKey(key, kbNonce, nonce), false)
	if err != nil {
		return nil, err
	}

	if mode == ModePair {
		kind, payload, err := readMessage(sc)
		if err != nil {
			return nil, fmt.Errorf("read bond key: %w", err)
		}
		if kind != msgBond {
			return nil, fmt.Errorf("read bond key: unexpected message %#x", kind)
		}
		if err := store.Put(Bond{
			Peer:    kbID,
			Key:     hex.EncodeToString(payload),
			Addr:    addr,
			Created: time.Now().UTC(),
		}); err != nil {
			return nil, err
		}
	}
	_ = c.SetDeadline(time.Time{})
	return &HostConn{conn: sc, peer: kbID}, nil
}

// Peer is the keyboard's identity.
func (h *HostConn) Peer() uuid.UUID { return h.peer }

// ReadFrame blocks until the keyboard sends the next frame.
func (h *HostConn) ReadFrame() (hid.Frame, error) {
	for {
		kind, payload, err := readMessage(h.conn)
		if err != nil {
			return hid.Frame{}, err
		}
		if kind != msgFrame {
			continue
		}
		f, err := decodeFrame(payload)
		if err != nil {
			return hid.Frame{}, err
		}
		h.mu.Lock()
		h.frame = f
		h.mu.Unlock()
		return f, nil
	}
}

// Frame returns the last frame received.
func (h *HostConn) Frame() hid.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frame
}

// SendLEDs sends an LED output report to the keyboard.
func (h *HostConn) SendLEDs(st hid.LEDState) error {
	b, _ := st.MarshalBinary()
	_, err := h.conn.Write(append([]byte{msgLEDs}, b...))
	return err
}

// Close ends the session.
func (h *HostConn) Close() error { return h.conn.Close() }
