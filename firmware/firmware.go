// Package firmware wires the pipeline together: scanner, debounce and
// resolver publish onto the event bus; the dispatcher, the capability runner
// and the effects engine each consume it through their own cursor.
package firmware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Alia5/MicroKB/board"
	"github.com/Alia5/MicroKB/debounce"
	"github.com/Alia5/MicroKB/dispatch"
	"github.com/Alia5/MicroKB/effects"
	"github.com/Alia5/MicroKB/eventbus"
	"github.com/Alia5/MicroKB/hid"
	klog "github.com/Alia5/MicroKB/internal/log"
	"github.com/Alia5/MicroKB/keymap"
	"github.com/Alia5/MicroKB/link"
	"github.com/Alia5/MicroKB/matrix"
	"github.com/Alia5/MicroKB/sched"
	"github.com/Alia5/MicroKB/transport"
)

// scanErrorLogEvery rate limits the warning for a failing chain.
const scanErrorLogEvery = 1000

// Firmware is one running keyboard.
type Firmware struct {
	board    *board.Board
	compiled *board.Compiled
	log      *slog.Logger
	now      func() time.Time

	scanner    *matrix.Scanner
	debounce   *debounce.Engine
	resolver   *keymap.Resolver
	bus        *eventbus.Bus[keymap.Event]
	links      *link.Manager
	drivers    []link.Driver
	dispatcher *dispatch.Dispatcher
	effects    *effects.Engine
	caps       *keymap.Capabilities
	actions    *eventbus.Cursor[keymap.Event]
	sched      *sched.Scheduler

	trs []debounce.Transition

	ctxMu sync.RWMutex
	ctx   context.Context
}

type config struct {
	logger      *slog.Logger
	now         func() time.Time
	renderer    effects.Renderer
	reports     klog.ReportLogger
	drivers     []link.Driver
	sim         bool
	linkOpts    []link.Option
	dispatchOps []dispatch.Option
}

// Option configures New.
type Option func(*config)

// WithLogger sets the root logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithClock replaces time.Now for scanning and scheduling.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithRenderer sets where effect states go. The default logs them.
func WithRenderer(r effects.Renderer) Option {
	return func(c *config) { c.renderer = r }
}

// WithReportLogger records every report sent to a host.
func WithReportLogger(r klog.ReportLogger) Option {
	return func(c *config) { c.reports = r }
}

// WithDrivers uses the given drivers instead of building them from the
// transport registry.
func WithDrivers(d ...link.Driver) Option {
	return func(c *config) { c.drivers = d }
}

// WithSimTransport replaces the wired transport by the simulated one.
func WithSimTransport(v bool) Option {
	return func(c *config) { c.sim = v }
}

// WithLinkOptions passes extra options to the connection manager.
func WithLinkOptions(o ...link.Option) Option {
	return func(c *config) { c.linkOpts = append(c.linkOpts, o...) }
}

// WithDispatchOptions passes extra options to the dispatcher.
func WithDispatchOptions(o ...dispatch.Option) Option {
	return func(c *config) { c.dispatchOps = append(c.dispatchOps, o...) }
}

// New validates the board and builds every stage. Nothing runs until Run.
func New(b *board.Board, chain matrix.Chain, opts ...Option) (*Firmware, error) {
	cfg := config{logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(&cfg)
	}
	compiled, err := b.Compile()
	if err != nil {
		return nil, err
	}
	log := cfg.logger.With("board", compiled.Name)

	fw := &Firmware{
		board:    b,
		compiled: compiled,
		log:      log.With("component", "firmware"),
		now:      cfg.now,
		caps:     keymap.NewCapabilities(),
		ctx:      context.Background(),
	}

	fw.scanner = matrix.New(chain, compiled.Width,
		matrix.WithActiveLow(b.Chain.IsActiveLow()),
		matrix.WithClock(cfg.now))
	fw.debounce = debounce.New(compiled.Width, b.Timing.Debounce.D(), debounce.WithMask(compiled.Mask))
	fw.resolver = keymap.NewResolver(compiled.Table, keymap.WithLogger(log))
	fw.bus = eventbus.New[keymap.Event](b.Timing.BusCapacity)

	drivers := cfg.drivers
	if drivers == nil {
		drivers, err = transport.Build(b, cfg.sim, transport.Options{
			Logger:   log,
			HostLEDs: fw.setHostLEDs,
		})
		if err != nil {
			return nil, err
		}
	}
	fw.drivers = drivers

	linkOpts := []link.Option{
		link.WithLogger(log),
		link.WithSingleHomed(b.Transports.SingleHomed),
	}
	if len(b.Transports.Priority) > 0 {
		linkOpts = append(linkOpts, link.WithPriority(b.Transports.Priority))
	}
	fw.links, err = link.New(drivers, append(linkOpts, cfg.linkOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("connection manager: %w", err)
	}

	timeout := dispatch.DefaultTimeout
	if w := b.Transports.Wired; w != nil && w.Timeout.D() > timeout {
		timeout = w.Timeout.D()
	}
	if w := b.Transports.Wireless; w != nil && w.Timeout.D() > timeout {
		timeout = w.Timeout.D()
	}
	dispatchOpts := []dispatch.Option{
		dispatch.WithLogger(log),
		dispatch.WithMacros(compiled.Macros),
		dispatch.WithTimeout(timeout),
	}
	if cfg.reports != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithReportLogger(cfg.reports))
	}
	fw.dispatcher = dispatch.New(fw.subscribe("dispatch"), fw.links, append(dispatchOpts, cfg.dispatchOps...)...)

	renderer := cfg.renderer
	if renderer == nil {
		renderer = effects.LogRenderer{Log: log}
	}
	fw.effects = effects.New(fw.subscribe("effects"), fw.links, fw.resolver, renderer, compiled.LEDs, effects.WithLogger(log))
	fw.actions = fw.subscribe("actions")
	fw.registerBuiltins()

	fw.sched = sched.New(sched.WithLogger(log), sched.WithClock(cfg.now))
	if err := fw.addTasks(); err != nil {
		return nil, err
	}
	return fw, nil
}

func (fw *Firmware) subscribe(name string) *eventbus.Cursor[keymap.Event] {
	return fw.bus.Subscribe(name, func(dropped uint64) {
		fw.log.Warn("Event bus overflow, consumer fell behind", "consumer", name, "dropped", dropped)
	})
}

func (fw *Firmware) addTasks() error {
	t := fw.board.Timing
	tasks := []sched.Task{
		{Name: "scan", Period: t.Scan.D(), Priority: 0, Budget: t.Scan.D() / 2, Run: fw.scan},
		{Name: "dispatch", Period: t.Dispatch.D(), Priority: 1, Budget: t.Dispatch.D() / 2, Run: func(now time.Time) { fw.dispatcher.Tick(now) }},
		{Name: "actions", Period: t.Scan.D(), Priority: 2, Run: fw.runActions},
		{Name: "effects", Period: t.Effects.D(), BestEffort: true, Run: func(now time.Time) { fw.effects.Tick(now) }},
	}
	for _, task := range tasks {
		if err := fw.sched.Add(task); err != nil {
			return err
		}
	}
	return nil
}

// scan runs scan, debounce and resolve for one cycle and publishes the
// resulting events.
func (fw *Firmware) scan(time.Time) {
	f := fw.scanner.Scan()
	if !f.Valid {
		if streak := fw.scanner.ErrorStreak(); streak == 1 || streak%scanErrorLogEvery == 0 {
			fw.log.Warn("Matrix read failed", "streak", streak, "error", f.Err)
		}
		return
	}
	fw.trs = fw.debounce.Process(f, fw.trs[:0])
	for _, tr := range fw.trs {
		if ev, ok := fw.resolver.Resolve(tr); ok {
			fw.bus.Publish(ev)
		}
	}
}

func (fw *Firmware) runActions(time.Time) {
	ctx := fw.context()
	fw.actions.Drain(func(ev keymap.Event) {
		if err := fw.caps.Dispatch(ctx, ev); err != nil {
			fw.log.Warn("Capability failed", "action", ev.Action.String(), "error", err)
		}
	})
}

func (fw *Firmware) context() context.Context {
	fw.ctxMu.RLock()
	defer fw.ctxMu.RUnlock()
	return fw.ctx
}

func (fw *Firmware) setHostLEDs(st hid.LEDState) {
	if fw.effects != nil {
		fw.effects.SetHostLEDs(st)
	}
}

// Run starts the connection manager and the scheduler and blocks until ctx
// is done. Drivers that implement io.Closer are closed on return.
func (fw *Firmware) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	fw.ctxMu.Lock()
	fw.ctx = ctx
	fw.ctxMu.Unlock()

	fw.warnUnboundCapabilities()
	fw.log.Info("Starting firmware",
		"keys", len(fw.compiled.Positions),
		"layers", fw.compiled.Table.Layers(),
		"scan", fw.board.Timing.Scan.String(),
		"debounce", fw.board.Timing.Debounce.String())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = fw.links.Run(ctx)
	}()

	err := fw.sched.Run(ctx)
	cancel()
	wg.Wait()

	var closeErr error
	closeErr = errors.Join(closeErr, fw.dispatcher.Close())
	for _, d := range fw.drivers {
		if c, ok := d.(io.Closer); ok {
			closeErr = errors.Join(closeErr, c.Close())
		}
	}
	if closeErr != nil {
		fw.log.Warn("Shutdown incomplete", "error", closeErr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// warnUnboundCapabilities reports fn(x) actions with no capability behind
// them. Capabilities may be registered until Run.
func (fw *Firmware) warnUnboundCapabilities() {
	tbl := fw.compiled.Table
	seen := make(map[string]bool)
	for layer := 0; layer < tbl.Layers(); layer++ {
		for pos := 0; pos < tbl.Width(); pos++ {
			a := tbl.At(layer, pos)
			if a.Kind != keymap.KindCustom || seen[a.Handle] {
				continue
			}
			seen[a.Handle] = true
			if _, ok := fw.caps.Lookup(a.Handle); !ok {
				fw.log.Warn("Key bound to unknown capability", "capability", a.Handle, "layer", tbl.Name(layer), "key", fw.compiled.Names[pos])
			}
		}
	}
}

// Step runs the foreground tasks due at now. Tests use it to drive the
// pipeline without Run.
func (fw *Firmware) Step(now time.Time) int { return fw.sched.Step(now) }

// Board returns the compiled board.
func (fw *Firmware) Board() *board.Compiled { return fw.compiled }

// Links returns the connection manager.
func (fw *Firmware) Links() *link.Manager { return fw.links }

// Effects returns the effects engine.
func (fw *Firmware) Effects() *effects.Engine { return fw.effects }

// Dispatcher returns the HID dispatcher.
func (fw *Firmware) Dispatcher() *dispatch.Dispatcher { return fw.dispatcher }

// Resolver returns the key map resolver.
func (fw *Firmware) Resolver() *keymap.Resolver { return fw.resolver }

// Capabilities returns the fn(x) registry. Register custom capabilities
// before Run.
func (fw *Firmware) Capabilities() *keymap.Capabilities { return fw.caps }

// Stats is a point in time view of the pipeline counters.
type Stats struct {
	Scans      uint64
	ScanErrors uint64
	Bus        eventbus.Stats
	Tasks      map[string]sched.TaskStats
	Ports      map[string]dispatch.PortStats
}

// Stats collects the counters of every stage.
func (fw *Firmware) Stats() Stats {
	scans, errs := fw.scanner.Stats()
	return Stats{
		Scans:      scans,
		ScanErrors: errs,
		Bus:        fw.bus.Stats(),
		Tasks:      fw.sched.Stats(),
		Ports:      fw.dispatcher.Stats(),
	}
}
