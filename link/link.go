// Package link supervises the transports a keyboard reports through. Each
// transport gets its own supervisor that connects, waits for the session to
// end and reconnects with backoff; the Manager publishes the combined state
// as an immutable Snapshot.
package link

import (
	"context"
	"errors"
	"slices"

	"github.com/Alia5/MicroKB/hid"
)

var (
	// ErrLinkDown is returned by Transmit when the session is gone. Reporting
	// it drops the session immediately.
	ErrLinkDown = errors.New("link down")
	// ErrNotPaired is returned by Connect when a transport has no bonded host.
	// The supervisor then waits for an explicit pairing request.
	ErrNotPaired = errors.New("not paired")
	// ErrTimeout wraps transmits that did not finish in time.
	ErrTimeout = errors.New("transmit timeout")

	ErrUnknownTransport   = errors.New("unknown transport")
	ErrPairingUnsupported = errors.New("transport does not support pairing")
)

// Kind is the physical class of a transport.
type Kind uint8

const (
	Wired Kind = iota + 1
	Wireless
)

func (k Kind) String() string {
	switch k {
	case Wired:
		return "wired"
	case Wireless:
		return "wireless"
	default:
		return "unknown"
	}
}

// State is where a transport is in its connection lifecycle.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Advertising
	Pairing
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Advertising:
		return "advertising"
	case Pairing:
		return "pairing"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Session is one live connection to a host.
type Session interface {
	// Done is closed when the host goes away.
	Done() <-chan struct{}
	Close() error
}

// Driver is a transport implementation.
type Driver interface {
	Name() string
	Kind() Kind
	// Connect blocks until a host is attached or ctx is done.
	Connect(ctx context.Context) (Session, error)
	// Transmit sends one frame on the current session.
	Transmit(ctx context.Context, f hid.Frame) error
}

// Pairer is implemented by transports that bond with hosts.
type Pairer interface {
	// Pair advertises for a new host and bonds with it using passkey.
	Pair(ctx context.Context, passkey string) (Session, error)
	Paired() bool
	ClearBonds() error
}

// LinkState describes one transport.
type LinkState struct {
	Name      string
	Kind      Kind
	State     State
	Paired    bool
	Priority  int
	Session   uint64
	Failures  int
	Passkey   string
	LastError string
}

// Snapshot is the state of every transport at one instant.
type Snapshot struct {
	// Links is ordered by priority, highest first.
	Links []LinkState
	// Active is the highest priority connected transport, empty when none.
	Active      string
	SingleHomed bool
}

// Link returns the state of the named transport.
func (s Snapshot) Link(name string) (LinkState, bool) {
	i := slices.IndexFunc(s.Links, func(l LinkState) bool { return l.Name == name })
	if i < 0 {
		return LinkState{}, false
	}
	return s.Links[i], true
}

// Connected returns the names of connected transports in priority order.
func (s Snapshot) Connected() []string {
	var out []string
	for _, l := range s.Links {
		if l.State == Connected {
			out = append(out, l.Name)
		}
	}
	return out
}

// Targets returns the transports that should receive reports: every
// connected transport, or only the active one when single-homed.
func (s Snapshot) Targets() []LinkState {
	var out []LinkState
	for _, l := range s.Links {
		if l.State != Connected {
			continue
		}
		if s.SingleHomed && l.Name != s.Active {
			continue
		}
		out = append(out, l)
	}
	return out
}
