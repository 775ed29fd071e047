package link

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultFailureThreshold is the number of consecutive transmit failures
// after which a session is dropped.
const DefaultFailureThreshold = 3

type link struct {
	drv   Driver
	state LinkState

	session Session
	cancel  context.CancelFunc
	ctx     context.Context

	// abort cancels an in-flight Connect or Pair
	abort   context.CancelFunc
	pending string
	wake    chan struct{}
}

// Manager owns the connection state of every transport.
type Manager struct {
	log         *slog.Logger
	singleHomed bool
	threshold   int
	newBackoff  func() backoff.BackOff
	passkey     func() (string, error)

	mu       sync.Mutex
	links    []*link
	priority []string
	sessions uint64

	snap atomic.Pointer[Snapshot]

	subMu sync.Mutex
	subs  map[chan struct{}]struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithPriority orders transports for arbitration, highest first. Transports
// not listed follow in registration order.
func WithPriority(order []string) Option {
	return func(m *Manager) { m.priority = slices.Clone(order) }
}

// WithBackoff sets the reconnect policy. The factory is called once per
// supervisor.
func WithBackoff(fn func() backoff.BackOff) Option {
	return func(m *Manager) { m.newBackoff = fn }
}

// WithFailureThreshold sets how many consecutive transmit failures drop a
// session.
func WithFailureThreshold(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.threshold = n
		}
	}
}

// WithSingleHomed restricts reporting to the active transport.
func WithSingleHomed(v bool) Option {
	return func(m *Manager) { m.singleHomed = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithPasskeyGenerator replaces the random 6-digit passkey source.
func WithPasskeyGenerator(fn func() (string, error)) Option {
	return func(m *Manager) { m.passkey = fn }
}

// DefaultBackoff re-advertises quickly after a loss and slows down to a few
// seconds between attempts. It never gives up.
func DefaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// New returns a manager for drivers. Driver names must be unique.
func New(drivers []Driver, opts ...Option) (*Manager, error) {
	m := &Manager{
		log:        slog.Default(),
		threshold:  DefaultFailureThreshold,
		newBackoff: DefaultBackoff,
		passkey:    randomPasskey,
		subs:       make(map[chan struct{}]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("component", "link")
	seen := map[string]bool{}
	for _, d := range drivers {
		if seen[d.Name()] {
			return nil, fmt.Errorf("duplicate transport %q", d.Name())
		}
		seen[d.Name()] = true
		l := &link{
			drv:  d,
			wake: make(chan struct{}, 1),
			state: LinkState{
				Name:  d.Name(),
				Kind:  d.Kind(),
				State: Disconnected,
			},
		}
		if p, ok := d.(Pairer); ok {
			l.state.Paired = p.Paired()
		}
		m.links = append(m.links, l)
	}
	for _, name := range m.priority {
		if !seen[name] {
			return nil, fmt.Errorf("priority lists %q: %w", name, ErrUnknownTransport)
		}
	}
	m.mu.Lock()
	m.publishLocked()
	m.mu.Unlock()
	return m, nil
}

// Run supervises every transport until ctx is done, then closes all
// sessions.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, l := range m.links {
		wg.Add(1)
		go func(l *link) {
			defer wg.Done()
			m.supervise(ctx, l)
		}(l)
	}
	wg.Wait()
	return ctx.Err()
}

// Snapshot returns the latest published state.
func (m *Manager) Snapshot() Snapshot { return *m.snap.Load() }

// Subscribe returns a channel that receives a value whenever the snapshot
// changes, and a function that stops the subscription. Notifications are
// coalesced.
func (m *Manager) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	return ch, func() {
		m.subMu.Lock()
		delete(m.subs, ch)
		m.subMu.Unlock()
	}
}

// Driver returns the named transport driver.
func (m *Manager) Driver(name string) (Driver, bool) {
	l := m.find(name)
	if l == nil {
		return nil, false
	}
	return l.drv, true
}

// SessionContext returns the context of the named transport's current
// session and its id. The context is cancelled when the session is dropped.
func (m *Manager) SessionContext(name string) (context.Context, uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.findLocked(name)
	if l == nil || l.state.State != Connected || l.ctx == nil {
		return nil, 0, false
	}
	return l.ctx, l.state.Session, true
}

// ReportSuccess clears the failure count of a session.
func (m *Manager) ReportSuccess(name string, session uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.findLocked(name)
	if l == nil || l.state.Session != session || l.state.Failures == 0 {
		return
	}
	l.state.Failures = 0
	m.publishLocked()
}

// ReportFailure records a transmit failure for a session. ErrLinkDown drops
// the session at once; other errors drop it once the failure threshold is
// reached. Reports for an older session are ignored.
func (m *Manager) ReportFailure(name string, session uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.findLocked(name)
	if l == nil || l.state.Session != session || l.state.State != Connected {
		return
	}
	l.state.Failures++
	l.state.LastError = err.Error()
	if errors.Is(err, ErrLinkDown) || l.state.Failures >= m.threshold {
		m.log.Warn("dropping session", "transport", name, "session", session, "failures", l.state.Failures, "error", err)
		l.cancel()
	}
	m.publishLocked()
}

// Prefer moves a transport to the top of the priority order.
func (m *Manager) Prefer(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findLocked(name) == nil {
		return fmt.Errorf("%q: %w", name, ErrUnknownTransport)
	}
	m.priority = slices.DeleteFunc(m.priority, func(n string) bool { return n == name })
	m.priority = slices.Insert(m.priority, 0, name)
	m.log.Info("preferred transport changed", "transport", name)
	m.publishLocked()
	return nil
}

// RequestPairing starts pairing on a transport and returns the passkey the
// host has to enter. A connected session on that transport is dropped.
func (m *Manager) RequestPairing(name string) (string, error) {
	l := m.find(name)
	if l == nil {
		return "", fmt.Errorf("%q: %w", name, ErrUnknownTransport)
	}
	if _, ok := l.drv.(Pairer); !ok {
		return "", fmt.Errorf("%q: %w", name, ErrPairingUnsupported)
	}
	passkey, err := m.passkey()
	if err != nil {
		return "", fmt.Errorf("generate passkey: %w", err)
	}

	m.mu.Lock()
	l.pending = passkey
	l.state.Passkey = passkey
	l.interruptLocked()
	m.publishLocked()
	m.mu.Unlock()

	m.log.Info("pairing requested", "transport", name, "passkey", passkey)
	l.kick()
	return passkey, nil
}

// ClearBonds forgets every bonded host of a transport and drops its session.
func (m *Manager) ClearBonds(name string) error {
	l := m.find(name)
	if l == nil {
		return fmt.Errorf("%q: %w", name, ErrUnknownTransport)
	}
	p, ok := l.drv.(Pairer)
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrPairingUnsupported)
	}
	if err := p.ClearBonds(); err != nil {
		return fmt.Errorf("clear bonds of %q: %w", name, err)
	}

	m.mu.Lock()
	l.state.Paired = false
	l.interruptLocked()
	m.publishLocked()
	m.mu.Unlock()

	m.log.Info("bonds cleared", "transport", name)
	l.kick()
	return nil
}

// interruptLocked drops the session or aborts the connect in progress so the
// supervisor picks up the new pairing state.
func (l *link) interruptLocked() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.abort != nil {
		l.abort()
	}
}

func (l *link) kick() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) find(name string) *link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(name)
}

func (m *Manager) findLocked(name string) *link {
	for _, l := range m.links {
		if l.state.Name == name {
			return l
		}
	}
	return nil
}

func (m *Manager) supervise(ctx context.Context, l *link) {
	bo := m.newBackoff()
	bo.Reset()
	name := l.drv.Name()
	log := m.log.With("transport", name)

	for ctx.Err() == nil {
		sess, err := m.attach(ctx, l)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			m.setDisconnected(l, err)
			if errors.Is(err, ErrNotPaired) && !m.pairingPending(l) {
				log.Info("no bonded host, waiting for pairing request")
				if !m.waitPairing(ctx, l) {
					break
				}
				continue
			}
			log.Debug("connect failed", "error", err)
			if !m.sleep(ctx, l, bo) {
				break
			}
			continue
		}

		bo.Reset()
		sctx, id := m.setConnected(ctx, l, sess)
		log.Info("connected", "session", id)

		var reason error
		select {
		case <-ctx.Done():
		case <-sess.Done():
			reason = ErrLinkDown
		case <-sctx.Done():
			reason = context.Cause(sctx)
		}
		m.detach(l, reason)
		if ctx.Err() != nil {
			break
		}
		log.Info("disconnected", "session", id, "reason", reason)
		if !m.sleep(ctx, l, bo) {
			break
		}
	}
	m.detach(l, nil)
	m.mu.Lock()
	l.state.State = Disconnected
	m.publishLocked()
	m.mu.Unlock()
}

// attach runs either a pairing or a regular connect depending on whether a
// pairing request is pending.
func (m *Manager) attach(ctx context.Context, l *link) (Session, error) {
	m.mu.Lock()
	passkey := l.pending
	l.pending = ""
	if passkey != "" {
		l.state.State = Pairing
	} else if l.state.Kind == Wireless {
		l.state.State = Advertising
	} else {
		l.state.State = Connecting
	}
	actx, abort := context.WithCancel(ctx)
	l.abort = abort
	m.publishLocked()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		l.abort = nil
		m.mu.Unlock()
		abort()
	}()

	if passkey != "" {
		sess, err := l.drv.(Pairer).Pair(actx, passkey)
		if err != nil {
			return nil, fmt.Errorf("pair: %w", err)
		}
		return sess, nil
	}
	return l.drv.Connect(actx)
}

func (m *Manager) pairingPending(l *link) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return l.pending != ""
}

// waitPairing parks the supervisor until pairing is requested or the bonds
// change. It reports false when ctx is done.
func (m *Manager) waitPairing(ctx context.Context, l *link) bool {
	select {
	case <-ctx.Done():
		return false
	case <-l.wake:
		return true
	}
}

// sleep waits for the next backoff interval; a pairing request cuts it short.
func (m *Manager) sleep(ctx context.Context, l *link, bo backoff.BackOff) bool {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		bo.Reset()
		d = bo.NextBackOff()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-l.wake:
		return true
	case <-t.C:
		return true
	}
}

func (m *Manager) setConnected(ctx context.Context, l *link, sess Session) (context.Context, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions++
	sctx, cancel := context.WithCancelCause(ctx)
	l.session = sess
	l.ctx = sctx
	l.cancel = func() { cancel(ErrLinkDown) }
	l.state.State = Connected
	l.state.Session = m.sessions
	l.state.Failures = 0
	l.state.LastError = ""
	if p, ok := l.drv.(Pairer); ok {
		l.state.Paired = p.Paired()
		l.state.Passkey = ""
	}
	m.publishLocked()
	return sctx, m.sessions
}

func (m *Manager) detach(l *link, reason error) {
	m.mu.Lock()
	sess := l.session
	if l.cancel != nil {
		l.cancel()
	}
	l.session = nil
	l.ctx = nil
	l.cancel = nil
	if l.state.State == Connected {
		l.state.State = Disconnected
		if reason != nil {
			l.state.LastError = reason.Error()
		}
	}
	m.publishLocked()
	m.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			m.log.Debug("closing session", "transport", l.state.Name, "error", err)
		}
	}
}

func (m *Manager) setDisconnected(l *link, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.state.State = Disconnected
	l.state.LastError = err.Error()
	if p, ok := l.drv.(Pairer); ok {
		l.state.Paired = p.Paired()
		if l.pending == "" {
			l.state.Passkey = ""
		}
	}
	m.publishLocked()
}

// publishLocked rebuilds the snapshot; m.mu must be held.
func (m *Manager) publishLocked() {
	ordered := slices.Clone(m.links)
	rank := func(l *link) int {
		if i := slices.Index(m.priority, l.state.Name); i >= 0 {
			return i
		}
		return len(m.priority) + slices.Index(m.links, l)
	}
	slices.SortStableFunc(ordered, func(a, b *link) int { return rank(a) - rank(b) })

	snap := &Snapshot{
		Links:       make([]LinkState, 0, len(ordered)),
		SingleHomed: m.singleHomed,
	}
	for i, l := range ordered {
		st := l.state
		st.Priority = i
		snap.Links = append(snap.Links, st)
		if snap.Active == "" && st.State == Connected {
			snap.Active = st.Name
		}
	}
	m.snap.Store(snap)

	m.subMu.Lock()
	for ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	m.subMu.Unlock()
}

func randomPasskey() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
