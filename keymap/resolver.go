package keymap

import (
	"log/slog"
	"math/bits"
	"slices"
	"sync/atomic"
	"time"

	"github.com/Alia5/MicroKB/debounce"
)

// Event is a transition resolved to the action it triggers.
type Event struct {
	Action Action
	Pos    int
	Edge   debounce.Edge
	At     time.Time
}

// Pressed reports whether the event is a press.
func (e Event) Pressed() bool { return e.Edge == debounce.Press }

// LayerSnapshot is an immutable view of the layer state.
type LayerSnapshot struct {
	// Active has bit n set when layer n is active. Bit 0 is always set.
	Active uint32
	// Top is the highest active layer.
	Top int
	// Modifiers lists the positions currently holding a modifier, in press
	// order.
	Modifiers []int
}

// IsActive reports whether layer is active.
func (s LayerSnapshot) IsActive(layer int) bool {
	return layer >= 0 && layer < MaxLayers && s.Active&(1<<layer) != 0
}

// Resolver maps transitions to events. Resolve must be called from a single
// goroutine; Snapshot is safe from any goroutine.
type Resolver struct {
	table *Table
	log   *slog.Logger

	toggled   uint32
	momentary [MaxLayers]int
	held      []bool
	pinned    []Action
	modifiers []int

	snap atomic.Pointer[LayerSnapshot]
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger used for dropped transitions.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.log = l }
}

// NewResolver returns a resolver over table with only the base layer active.
func NewResolver(table *Table, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		table:  table,
		log:    slog.Default(),
		held:   make([]bool, table.Width()),
		pinned: make([]Action, table.Width()),
	}
	for _, o := range opts {
		o(r)
	}
	r.publish()
	return r
}

// Table returns the table the resolver reads.
func (r *Resolver) Table() *Table { return r.table }

// Snapshot returns the most recently published layer state.
func (r *Resolver) Snapshot() LayerSnapshot { return *r.snap.Load() }

// Resolve applies one transition. Layer actions only change the layer state
// and report false. Presses of an already held position and releases of a
// position that is not held are dropped.
//
// The action chosen at press time is remembered for the position and reused
// on release, so a layer change while a key is held never strands a key on
// the host.
func (r *Resolver) Resolve(t debounce.Transition) (Event, bool) {
	if t.Pos < 0 || t.Pos >= len(r.held) {
		r.log.Warn("transition outside key map", "pos", t.Pos)
		return Event{}, false
	}

	var a Action
	switch t.Edge {
	case debounce.Press:
		if r.held[t.Pos] {
			r.log.Debug("dropping duplicate press", "pos", t.Pos)
			return Event{}, false
		}
		a = r.lookup(t.Pos)
		r.held[t.Pos] = true
		r.pinned[t.Pos] = a
	case debounce.Release:
		if !r.held[t.Pos] {
			r.log.Debug("dropping orphan release", "pos", t.Pos)
			return Event{}, false
		}
		a = r.pinned[t.Pos]
		r.held[t.Pos] = false
		r.pinned[t.Pos] = Action{}
	default:
		return Event{}, false
	}

	if a.Kind == KindLayer {
		r.applyLayer(a, t.Edge)
		r.publish()
		return Event{}, false
	}
	if a.IsModifier() {
		if t.Edge == debounce.Press {
			r.modifiers = append(r.modifiers, t.Pos)
		} else if i := slices.Index(r.modifiers, t.Pos); i >= 0 {
			r.modifiers = slices.Delete(r.modifiers, i, i+1)
		}
		r.publish()
	}
	return Event{Action: a, Pos: t.Pos, Edge: t.Edge, At: t.At}, true
}

// Held returns the number of positions currently held.
func (r *Resolver) Held() int {
	n := 0
	for _, h := range r.held {
		if h {
			n++
		}
	}
	return n
}

func (r *Resolver) active() uint32 {
	mask := uint32(1) | r.toggled
	for layer, n := range r.momentary {
		if n > 0 {
			mask |= 1 << layer
		}
	}
	return mask
}

func (r *Resolver) lookup(pos int) Action {
	mask := r.active()
	for layer := r.table.Layers() - 1; layer >= 0; layer-- {
		if mask&(1<<layer) == 0 {
			continue
		}
		if a := r.table.At(layer, pos); a.Kind != KindTransparent {
			return a
		}
	}
	return None()
}

func (r *Resolver) applyLayer(a Action, edge debounce.Edge) {
	if a.Layer <= 0 || a.Layer >= r.table.Layers() {
		// the base layer cannot be switched
		return
	}
	switch a.Op {
	case Momentary:
		if edge == debounce.Press {
			r.momentary[a.Layer]++
		} else if r.momentary[a.Layer] > 0 {
			r.momentary[a.Layer]--
		}
	case Toggle:
		if edge == debounce.Press {
			r.toggled ^= 1 << a.Layer
		}
	}
}

func (r *Resolver) publish() {
	mask := r.active()
	r.snap.Store(&LayerSnapshot{
		Active:    mask,
		Top:       31 - bits.LeadingZeros32(mask),
		Modifiers: slices.Clone(r.modifiers),
	})
}
