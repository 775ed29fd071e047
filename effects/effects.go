// Package effects renders LED and status display feedback from the event
// stream. It runs outside the latency critical path: the engine reads its own
// bus cursor and never shares state with the dispatcher.
package effects

import (
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/Alia5/MicroKB/eventbus"
	"github.com/Alia5/MicroKB/hid"
	"github.com/Alia5/MicroKB/keymap"
	"github.com/Alia5/MicroKB/link"
)

// RGB is one LED color.
type RGB struct{ R, G, B uint8 }

var (
	Off   = RGB{}
	Red   = RGB{R: 0xFF}
	Green = RGB{G: 0xFF}
	Blue  = RGB{B: 0xFF}
)

// BlinkPeriod is the on+off period of a blinking indicator.
const BlinkPeriod = time.Second

// LinkLine is one transport as shown on the display.
type LinkLine struct {
	Name  string
	Kind  link.Kind
	State link.State
}

// Display is the content of the status display.
type Display struct {
	Layer    string
	Active   string
	Links    []LinkLine
	Passkey  string
	CapsLock bool
	LastKey  string
	Held     int
	Power    bool
}

func (d Display) equal(o Display) bool {
	return d.Layer == o.Layer && d.Active == o.Active && slices.Equal(d.Links, o.Links) &&
		d.Passkey == o.Passkey && d.CapsLock == o.CapsLock && d.LastKey == o.LastKey &&
		d.Held == o.Held && d.Power == o.Power
}

// State is one rendered effects frame.
type State struct {
	Frame   uint64
	At      time.Time
	LEDs    []RGB
	Display Display
}

// Renderer drives the physical LEDs and display.
type Renderer interface {
	Render(s State) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(s State) error

func (f RendererFunc) Render(s State) error { return f(s) }

// LinkSource provides connection state.
type LinkSource interface {
	Snapshot() link.Snapshot
}

// LayerSource provides layer state and names.
type LayerSource interface {
	Snapshot() keymap.LayerSnapshot
	Table() *keymap.Table
}

// Config describes the LED layout.
type Config struct {
	// Count is the number of LEDs on the strip.
	Count int
	// Map assigns a key position to an LED index.
	Map map[int]int
	// Indicator is the LED index used as link indicator, -1 for none.
	Indicator     int
	Base          RGB
	Highlight     RGB
	MaxBrightness uint8
	// Fade is how long a released key takes to return to the base color.
	Fade time.Duration
}

// Engine computes effect frames.
type Engine struct {
	cur      *eventbus.Cursor[keymap.Event]
	links    LinkSource
	layers   LayerSource
	renderer Renderer
	cfg      Config
	log      *slog.Logger

	power    atomic.Bool
	hostLEDs atomic.Uint32

	pressed  map[int]bool
	released map[int]time.Time
	lastKey  string

	frame   uint64
	last    State
	started bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for render failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New returns an engine with LED power on.
func New(cur *eventbus.Cursor[keymap.Event], links LinkSource, layers LayerSource, r Renderer, cfg Config, opts ...Option) *Engine {
	if cfg.MaxBrightness == 0 {
		cfg.MaxBrightness = 0xFF
	}
	e := &Engine{
		cur:      cur,
		links:    links,
		layers:   layers,
		renderer: r,
		cfg:      cfg,
		log:      slog.Default(),
		pressed:  make(map[int]bool),
		released: make(map[int]time.Time),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With("component", "effects")
	e.power.Store(true)
	return e
}

// SetPower switches the LEDs on or off.
func (e *Engine) SetPower(on bool) { e.power.Store(on) }

// TogglePower flips LED power and returns the new value.
func (e *Engine) TogglePower() bool {
	for {
		old := e.power.Load()
		if e.power.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Power reports whether LEDs are on.
func (e *Engine) Power() bool { return e.power.Load() }

// SetHostLEDs records the LED output report last received from a host.
func (e *Engine) SetHostLEDs(st hid.LEDState) {
	b, _ := st.MarshalBinary()
	e.hostLEDs.Store(uint32(b[0]))
}

// Tick consumes pending events and renders when the output changed. It
// reports whether Render was called.
func (e *Engine) Tick(now time.Time) bool {
	e.cur.Drain(func(ev keymap.Event) { e.apply(ev, now) })

	st := State{
		At:      now,
		LEDs:    e.leds(now),
		Display: e.display(),
	}
	if e.started && slices.Equal(st.LEDs, e.last.LEDs) && st.Display.equal(e.last.Display) {
		return false
	}
	e.frame++
	st.Frame = e.frame
	e.last = st
	e.started = true
	if err := e.renderer.Render(st); err != nil {
		e.log.Warn("render failed", "error", err)
	}
	return true
}

func (e *Engine) apply(ev keymap.Event, now time.Time) {
	switch ev.Action.Kind {
	case keymap.KindNone, keymap.KindTransparent:
		return
	}
	if ev.Pressed() {
		e.pressed[ev.Pos] = true
		delete(e.released, ev.Pos)
		e.lastKey = ev.Action.String()
		return
	}
	if e.pressed[ev.Pos] {
		delete(e.pressed, ev.Pos)
		e.released[ev.Pos] = now
	}
}

func (e *Engine) heat(pos int, now time.Time) float64 {
	if e.pressed[pos] {
		return 1
	}
	at, ok := e.released[pos]
	if !ok || e.cfg.Fade <= 0 {
		return 0
	}
	elapsed := now.Sub(at)
	if elapsed >= e.cfg.Fade {
		delete(e.released, pos)
		return 0
	}
	return 1 - float64(elapsed)/float64(e.cfg.Fade)
}

func (e *Engine) leds(now time.Time) []RGB {
	out := make([]RGB, e.cfg.Count)
	if !e.power.Load() {
		return out
	}
	for i := range out {
		out[i] = e.scale(e.cfg.Base)
	}
	for pos, idx := range e.cfg.Map {
		if idx < 0 || idx >= len(out) || idx == e.cfg.Indicator {
			continue
		}
		out[idx] = e.scale(mix(e.cfg.Base, e.cfg.Highlight, e.heat(pos, now)))
	}
	if e.cfg.Indicator >= 0 && e.cfg.Indicator < len(out) {
		out[e.cfg.Indicator] = e.scale(indicator(e.links.Snapshot(), now))
	}
	return out
}

func (e *Engine) scale(c RGB) RGB {
	m := uint16(e.cfg.MaxBrightness)
	return RGB{
		R: uint8(uint16(c.R) * m / 0xFF),
		G: uint8(uint16(c.G) * m / 0xFF),
		B: uint8(uint16(c.B) * m / 0xFF),
	}
}

func mix(a, b RGB, t float64) RGB {
	lerp := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t + 0.5)
	}
	return RGB{R: lerp(a.R, b.R), G: lerp(a.G, b.G), B: lerp(a.B, b.B)}
}

// indicator colors the link LED: green for a wired host, blue for a wireless
// one, blinking blue while advertising or pairing, red with no host at all.
func indicator(snap link.Snapshot, now time.Time) RGB {
	if active, ok := snap.Link(snap.Active); ok {
		if active.Kind == link.Wired {
			return Green
		}
		return Blue
	}
	for _, l := range snap.Links {
		if l.State == link.Advertising || l.State == link.Pairing {
			if now.UnixMilli()%int64(BlinkPeriod/time.Millisecond) < int64(BlinkPeriod/time.Millisecond/2) {
				return Blue
			}
			return Off
		}
	}
	return Red
}

func (e *Engine) display() Display {
	snap := e.links.Snapshot()
	layers := e.layers.Snapshot()
	d := Display{
		Layer:    e.layers.Table().Name(layers.Top),
		Active:   snap.Active,
		Links:    make([]LinkLine, 0, len(snap.Links)),
		CapsLock: e.hostLEDs.Load()&hid.LEDCapsLock != 0,
		LastKey:  e.lastKey,
		Held:     len(e.pressed),
		Power:    e.power.Load(),
	}
	for _, l := range snap.Links {
		d.Links = append(d.Links, LinkLine{Name: l.Name, Kind: l.Kind, State: l.State})
		if l.Passkey != "" && d.Passkey == "" {
			d.Passkey = l.Passkey
		}
	}
	return d
}
