// Package matrix samples the key matrix through a daisy-chained
// parallel-in/serial-out shift register chain.
package matrix

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Chain is the hardware side of the register chain.
type Chain interface {
	// Load pulses the parallel-load line so every register latches its inputs.
	Load() error
	// ReadInto shifts len(buf)*8 bits out of the chain. The first bit shifted
	// out is position 0 and lands in bit 0 of buf[0].
	ReadInto(buf []byte) error
}

// HardwareReadError marks a scan cycle whose hardware read failed.
type HardwareReadError struct {
	Op  string
	Err error
}

func (e *HardwareReadError) Error() string {
	return fmt.Sprintf("matrix %s: %v", e.Op, e.Err)
}

func (e *HardwareReadError) Unwrap() error { return e.Err }

// Frame is one sampled matrix state. Bit i of Bits is set when position i is
// pressed. Bits is reused by the scanner and only valid until the next Scan.
type Frame struct {
	Bits  []byte
	Width int
	At    time.Time
	Valid bool
	Err   error
}

// Pressed reports the level of position pos.
func (f Frame) Pressed(pos int) bool {
	if pos < 0 || pos >= f.Width || pos/8 >= len(f.Bits) {
		return false
	}
	return f.Bits[pos/8]&(1<<(pos%8)) != 0
}

// Scanner reads frames from a Chain.
type Scanner struct {
	chain     Chain
	width     int
	activeLow bool
	now       func() time.Time
	buf       []byte

	scans  atomic.Uint64
	errors atomic.Uint64
	streak int
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithActiveLow sets whether a low input level means pressed (74HC165 chains
// with pull-ups read 0 for a closed switch). Default true.
func WithActiveLow(v bool) Option {
	return func(s *Scanner) { s.activeLow = v }
}

// WithClock overrides the frame timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// New returns a scanner for width positions.
func New(chain Chain, width int, opts ...Option) *Scanner {
	s := &Scanner{
		chain:     chain,
		width:     width,
		activeLow: true,
		now:       time.Now,
		buf:       make([]byte, (width+7)/8),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Width returns the number of positions per frame.
func (s *Scanner) Width() int { return s.width }

// Scan performs one hardware read. A failed read yields an invalid frame
// instead of a guess; it never returns partially read data.
func (s *Scanner) Scan() Frame {
	s.scans.Add(1)
	at := s.now()
	if err := s.chain.Load(); err != nil {
		return s.fail(at, &HardwareReadError{Op: "load", Err: err})
	}
	if err := s.chain.ReadInto(s.buf); err != nil {
		return s.fail(at, &HardwareReadError{Op: "read", Err: err})
	}
	s.streak = 0

	if s.activeLow {
		for i := range s.buf {
			s.buf[i] = ^s.buf[i]
		}
	}
	if rem := s.width % 8; rem != 0 {
		s.buf[len(s.buf)-1] &= byte(1<<rem) - 1
	}
	return Frame{Bits: s.buf, Width: s.width, At: at, Valid: true}
}

func (s *Scanner) fail(at time.Time, err error) Frame {
	s.errors.Add(1)
	s.streak++
	return Frame{Width: s.width, At: at, Err: err}
}

// ErrorStreak returns the number of consecutive failed scans.
func (s *Scanner) ErrorStreak() int { return s.streak }

// Stats returns total scans and failed scans.
func (s *Scanner) Stats() (scans, errors uint64) {
	return s.scans.Load(), s.errors.Load()
}
