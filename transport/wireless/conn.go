package wireless

import (
	"bytes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// Direction tags in the first nonce byte keep the two directions of a
// session from ever sharing a nonce under the same key.
const (
	dirKeyboard byte = 'K'
	dirHost     byte = 'H'
)

const maxPacketSize = 4 * 1024

var errReplay = errors.New("wireless: replayed or reordered packet")

// sealedConn frames every Write as one AEAD packet:
// length[4] | nonce[12] | ciphertext.
type sealedConn struct {
	net.Conn
	r    io.Reader
	aead cipher.AEAD
	out  byte
	in   byte

	wmu     sync.Mutex
	sendCtr uint64

	recvCtr  uint64
	received bool
	recvBuf  bytes.Buffer
}

// wrapConn seals conn with sessionKey. r replaces conn as the read side so
// bytes already buffered during the handshake are not lost.
func wrapConn(conn net.Conn, r io.Reader, sessionKey []byte, keyboard bool) (*sealedConn, error) {
	aead, err := chacha20poly1305.New(sessionKey)
	if err != nil {
		return nil, err
	}
	if r == nil {
		r = conn
	}
	c := &sealedConn{Conn: conn, r: r, aead: aead, out: dirHost, in: dirKeyboard}
	if keyboard {
		c.out, c.in = dirKeyboard, dirHost
	}
	return c, nil
}

func (c *sealedConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	nonce := make([]byte, chacha20poly1305.NonceSize)
	nonce[0] = c.out
	binary.BigEndian.PutUint64(nonce[4:], c.sendCtr)
	c.sendCtr++

	ct := c.aead.Seal(nil, nonce, p, nil)
	pkt := make([]byte, 4, 4+len(nonce)+len(ct))
	binary.BigEndian.PutUint32(pkt, uint32(len(nonce)+len(ct)))
	pkt = append(pkt, nonce...)
	pkt = append(pkt, ct...)
	if _, err := c.Conn.Write(pkt); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *sealedConn) Read(p []byte) (int, error) {
	if c.recvBuf.Len() == 0 {
		var hdr [4]byte
		if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
			return 0, err
		}
		length := binary.BigEndian.Uint32(hdr[:])
		if length < chacha20poly1305.NonceSize+chacha20poly1305.Overhead || length > maxPacketSize {
			return 0, io.ErrUnexpectedEOF
		}
		pkt := make([]byte, length)
		if _, err := io.ReadFull(c.r, pkt); err != nil {
			return 0, err
		}
		nonce, ct := pkt[:chacha20poly1305.NonceSize], pkt[chacha20poly1305.NonceSize:]
		if nonce[0] != c.in {
			return 0, errReplay
		}
		ctr := binary.BigEndian.Uint64(nonce[4:])
		if c.received && ctr <= c.recvCtr {
			return 0, errReplay
		}
		pt, err := c.aead.Open(nil, nonce, ct, nil)
		if err != nil {
			return 0, err
		}
		c.recvCtr, c.received = ctr, true
		c.recvBuf.Write(pt)
	}
	return c.recvBuf.Read(p)
}
