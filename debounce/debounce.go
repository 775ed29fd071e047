// Package debounce turns raw scan frames into validated key transitions.
package debounce

import (
	"time"

	"github.com/Alia5/MicroKB/matrix"
)

// Edge is the direction of a transition.
type Edge uint8

const (
	Press Edge = iota + 1
	Release
)

func (e Edge) String() string {
	switch e {
	case Press:
		return "press"
	case Release:
		return "release"
	default:
		return "unknown"
	}
}

// Transition is a validated press or release of one matrix position.
type Transition struct {
	Pos  int
	Edge Edge
	At   time.Time
}

type keyState struct {
	stable    bool
	candidate bool
	pending   bool
	since     time.Time
}

// Engine holds per-position debounce state. It is not safe for concurrent
// use; the scan task owns it.
type Engine struct {
	window time.Duration
	keys   []keyState
	mask   []bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMask limits reporting to positions where mask is true. Positions with
// no physical key never produce transitions.
func WithMask(mask []bool) Option {
	return func(e *Engine) { e.mask = mask }
}

// New returns an engine for width positions. A level change must persist for
// window before it is reported.
func New(width int, window time.Duration, opts ...Option) *Engine {
	e := &Engine{
		window: window,
		keys:   make([]keyState, width),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Window returns the debounce window.
func (e *Engine) Window() time.Duration { return e.window }

// Stable returns the debounced level of pos.
func (e *Engine) Stable(pos int) bool {
	if pos < 0 || pos >= len(e.keys) {
		return false
	}
	return e.keys[pos].stable
}

// Process consumes one frame and appends the resulting transitions to out,
// in ascending position order. Invalid frames and frames whose width differs
// from the engine's leave all state untouched.
func (e *Engine) Process(f matrix.Frame, out []Transition) []Transition {
	if !f.Valid || f.Width != len(e.keys) {
		return out
	}
	for pos := range e.keys {
		if e.mask != nil && (pos >= len(e.mask) || !e.mask[pos]) {
			continue
		}
		k := &e.keys[pos]
		level := f.Pressed(pos)
		if level == k.stable {
			// returned to the stable level inside the window: pure bounce
			k.pending = false
			continue
		}
		if !k.pending || k.candidate != level {
			k.pending = true
			k.candidate = level
			k.since = f.At
		}
		if f.At.Sub(k.since) < e.window {
			continue
		}
		k.stable = level
		k.pending = false
		edge := Release
		if level {
			edge = Press
		}
		out = append(out, Transition{Pos: pos, Edge: edge, At: f.At})
	}
	return out
}
