package matrix

import (
	"errors"
	"sync"
)

// ErrInjected is returned by SimChain when a fault was requested.
var ErrInjected = errors.New("injected fault")

// SimChain is an in-memory register chain. It stores electrical levels the
// way a real active-low chain reports them: a released key reads 1.
type SimChain struct {
	mu       sync.Mutex
	pressed  []bool
	latched  []bool
	failNext int
}

// NewSimChain returns a chain with width inputs, all released.
func NewSimChain(width int) *SimChain {
	return &SimChain{
		pressed: make([]bool, width),
		latched: make([]bool, width),
	}
}

// Set presses or releases position pos.
func (c *SimChain) Set(pos int, pressed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos >= 0 && pos < len(c.pressed) {
		c.pressed[pos] = pressed
	}
}

// Toggle flips position pos.
func (c *SimChain) Toggle(pos int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos >= 0 && pos < len(c.pressed) {
		c.pressed[pos] = !c.pressed[pos]
	}
}

// FailNext makes the next n Load calls fail.
func (c *SimChain) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
}

func (c *SimChain) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		return ErrInjected
	}
	copy(c.latched, c.pressed)
	return nil
}

func (c *SimChain) ReadInto(buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range buf {
		buf[i] = 0xFF
	}
	for pos, p := range c.latched {
		if pos/8 >= len(buf) {
			break
		}
		if p {
			buf[pos/8] &^= 1 << (pos % 8)
		}
	}
	return nil
}
