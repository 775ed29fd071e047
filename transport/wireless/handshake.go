package wireless

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Alia5/MicroKB/link"
	"github.com/google/uuid"
)

// Handshake layout, host to keyboard:
//
//	magic[5] | mode[1] | host id[16] | host nonce[32] | hmac(key, ctx|nonce)[32]
//
// Keyboard reply:
//
//	"OK\0" | keyboard nonce[32] | keyboard id[16]
//	"NO\0" | reason | '\n'
const (
	HandshakeMagic = "MKB1\x00"
	macSize        = 32
	helloSize      = len(HandshakeMagic) + 1 + 16 + NonceSize + macSize
)

var (
	respOK = []byte("OK\x00")
	respNO = []byte("NO\x00")
)

// Mode tells the keyboard how the host wants to authenticate.
type Mode byte

const (
	// ModeConnect authenticates with the key of an existing bond.
	ModeConnect Mode = 'C'
	// ModePair authenticates with the passkey shown on the keyboard.
	ModePair Mode = 'P'
)

func (m Mode) String() string {
	switch m {
	case ModeConnect:
		return "connect"
	case ModePair:
		return "pair"
	default:
		return fmt.Sprintf("mode(%#x)", byte(m))
	}
}

// Rejection reasons sent by the keyboard.
const (
	ReasonUnknownHost = "unknown host"
	ReasonNotPairing  = "not pairing"
	ReasonAuth        = "authentication failed"
)

// RejectError is returned to a host the keyboard refused.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string { return "keyboard rejected connection: " + e.Reason }

// Unwrap maps an unknown host to link.ErrNotPaired.
func (e *RejectError) Unwrap() error {
	if e.Reason == ReasonUnknownHost {
		return link.ErrNotPaired
	}
	return nil
}

type hello struct {
	Mode  Mode
	Host  uuid.UUID
	Nonce []byte
	MAC   []byte
}

func writeHello(w io.Writer, h hello) error {
	buf := make([]byte, 0, helloSize)
	buf = append(buf, HandshakeMagic...)
	buf = append(buf, byte(h.Mode))
	buf = append(buf, h.Host[:]...)
	buf = append(buf, h.Nonce...)
	buf = append(buf, h.MAC...)
	if len(buf) != helloSize {
		return errors.New("hello: bad nonce or mac length")
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}
	return nil
}

func readHello(r io.Reader) (hello, error) {
	buf := make([]byte, helloSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return hello{}, fmt.Errorf("read hello: %w", err)
	}
	if !bytes.HasPrefix(buf, []byte(HandshakeMagic)) {
		return hello{}, errors.New("read hello: bad magic")
	}
	buf = buf[len(HandshakeMagic):]
	h := hello{Mode: Mode(buf[0])}
	if h.Mode != ModeConnect && h.Mode != ModePair {
		return hello{}, fmt.Errorf("read hello: unknown %s", h.Mode)
	}
	copy(h.Host[:], buf[1:17])
	h.Nonce = buf[17 : 17+NonceSize]
	h.MAC = buf[17+NonceSize:]
	return h, nil
}

// verify checks the host's proof of key.
func (h hello) verify(key []byte) bool {
	return hmac.Equal(h.MAC, authMAC(key, h.Nonce))
}

func writeAccept(w io.Writer, nonce []byte, id uuid.UUID) error {
	buf := make([]byte, 0, len(respOK)+NonceSize+16)
	buf = append(buf, respOK...)
	buf = append(buf, nonce...)
	buf = append(buf, id[:]...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write accept: %w", err)
	}
	return nil
}

func writeReject(w io.Writer, reason string) error {
	_, err := w.Write(append(append(append([]byte{}, respNO...), reason...), '\n'))
	return err
}

// readResponse reads the keyboard's reply to a hello.
func readResponse(r *bufio.Reader) (nonce []byte, id uuid.UUID, err error) {
	prefix := make([]byte, len(respOK))
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, uuid.Nil, fmt.Errorf("read handshake response: %w", err)
	}
	switch {
	case bytes.Equal(prefix, respOK):
	case bytes.Equal(prefix, respNO):
		line, _ := r.ReadString('\n')
		return nil, uuid.Nil, &RejectError{Reason: strings.TrimSuffix(line, "\n")}
	default:
		return nil, uuid.Nil, fmt.Errorf("invalid handshake response %q", prefix)
	}
	buf := make([]byte, NonceSize+16)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, uuid.Nil, fmt.Errorf("read keyboard nonce: %w", err)
	}
	copy(id[:], buf[NonceSize:])
	return buf[:NonceSize], id, nil
}
