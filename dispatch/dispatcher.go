// Package dispatch turns resolved key events into HID report frames and
// delivers them to every connected transport.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Alia5/MicroKB/eventbus"
	"github.com/Alia5/MicroKB/hid"
	klog "github.com/Alia5/MicroKB/internal/log"
	"github.com/Alia5/MicroKB/keymap"
	"github.com/Alia5/MicroKB/link"
)

const (
	DefaultTimeout   = 50 * time.Millisecond
	DefaultKeepAlive = time.Second
)

// Links is the view of the connection manager the dispatcher needs.
type Links interface {
	Snapshot() link.Snapshot
	SessionContext(name string) (context.Context, uint64, bool)
	ReportFailure(name string, session uint64, err error)
	ReportSuccess(name string, session uint64)
	Driver(name string) (link.Driver, bool)
}

type held struct {
	pos   int
	usage hid.Usage
}

// Dispatcher owns the held-key state. Tick must be called from a single
// goroutine.
type Dispatcher struct {
	cur       *eventbus.Cursor[keymap.Event]
	links     Links
	log       *slog.Logger
	reports   klog.ReportLogger
	macros    map[string]Macro
	timeout   time.Duration
	keepAlive time.Duration

	held   []held
	player player
	frame  hid.Frame
	// gen numbers every offered frame; stepGen is the first frame that
	// carried the current macro step, 0 when no step is pending.
	gen     uint64
	stepGen uint64

	mu     sync.Mutex
	ports  map[string]*port
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithMacros sets the macros macro(name) actions play.
func WithMacros(m map[string]Macro) Option {
	return func(d *Dispatcher) { d.macros = m }
}

// WithTimeout bounds every transmit.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithKeepAlive resends an unchanged frame after this interval. Zero
// disables keep-alives.
func WithKeepAlive(t time.Duration) Option {
	return func(d *Dispatcher) { d.keepAlive = t }
}

// WithReportLogger records every transmitted report.
func WithReportLogger(r klog.ReportLogger) Option {
	return func(d *Dispatcher) { d.reports = r }
}

// New returns a dispatcher reading events from cur.
func New(cur *eventbus.Cursor[keymap.Event], links Links, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cur:       cur,
		links:     links,
		log:       slog.Default(),
		timeout:   DefaultTimeout,
		keepAlive: DefaultKeepAlive,
		ports:     make(map[string]*port),
	}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.With("component", "dispatch")
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Tick consumes pending events, builds the frame for this cycle and offers
// it to every target transport. It never blocks on a transport. A macro step
// stays in the frame until every target has taken it, so a slow transport
// slows playback down instead of losing steps.
func (d *Dispatcher) Tick(now time.Time) hid.Frame {
	d.cur.Drain(d.apply)

	if d.stepGen != 0 && d.delivered(d.stepGen) {
		d.player.next()
		d.stepGen = 0
	}

	usages := make([]hid.Usage, 0, len(d.held)+2)
	for _, h := range d.held {
		usages = append(usages, h.usage)
	}
	usages = append(usages, d.player.current()...)
	d.frame = hid.Build(usages)
	d.gen++

	for _, target := range d.links.Snapshot().Targets() {
		p := d.port(target.Name)
		if p == nil {
			continue
		}
		p.offer(d.frame, d.gen, now)
	}
	if d.player.busy() && d.stepGen == 0 {
		d.stepGen = d.gen
	}
	return d.frame
}

// delivered reports whether every current target has handled frame gen or a
// later one. Targets without a port have not been offered anything yet.
func (d *Dispatcher) delivered(gen uint64) bool {
	targets := d.links.Snapshot().Targets()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, target := range targets {
		if p, ok := d.ports[target.Name]; ok && p.handled.Load() < gen {
			return false
		}
	}
	return true
}

// Frame returns the frame built by the last Tick.
func (d *Dispatcher) Frame() hid.Frame { return d.frame }

// Held returns the number of held usages.
func (d *Dispatcher) Held() int { return len(d.held) }

// Playing reports whether a macro is still queued.
func (d *Dispatcher) Playing() bool { return d.player.busy() }

func (d *Dispatcher) apply(ev keymap.Event) {
	switch ev.Action.Kind {
	case keymap.KindKey, keymap.KindConsumer:
		usage, _ := ev.Action.Usage()
		if ev.Pressed() {
			d.held = append(d.held, held{pos: ev.Pos, usage: usage})
			return
		}
		for i, h := range d.held {
			if h.pos == ev.Pos {
				d.held = append(d.held[:i], d.held[i+1:]...)
				return
			}
		}
	case keymap.KindMacro:
		if !ev.Pressed() {
			return
		}
		m, ok := d.macros[ev.Action.Macro]
		if !ok {
			d.log.Warn("unknown macro", "macro", ev.Action.Macro)
			return
		}
		d.player.enqueue(m)
	}
}

func (d *Dispatcher) port(name string) *port {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.ports[name]; ok {
		return p
	}
	if d.ctx.Err() != nil {
		return nil
	}
	drv, ok := d.links.Driver(name)
	if !ok {
		return nil
	}
	p := &port{
		name:      name,
		drv:       drv,
		links:     d.links,
		log:       d.log,
		reports:   d.reports,
		timeout:   d.timeout,
		keepAlive: d.keepAlive,
		mailbox:   make(chan offer, 1),
	}
	d.ports[name] = p
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		p.run(d.ctx)
	}()
	return p
}

// Stats returns per-transport counters.
func (d *Dispatcher) Stats() map[string]PortStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]PortStats, len(d.ports))
	for name, p := range d.ports {
		out[name] = p.stats()
	}
	return out
}

// Close stops every port goroutine.
func (d *Dispatcher) Close() error {
	d.cancel()
	d.wg.Wait()
	return nil
}
