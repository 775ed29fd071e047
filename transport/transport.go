// Package transport keeps the registry of host link drivers. Driver packages
// register themselves from init(); the firmware builds the drivers a board
// asks for by name.
package transport

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/Alia5/MicroKB/board"
	"github.com/Alia5/MicroKB/hid"
	"github.com/Alia5/MicroKB/link"
)

// Registered driver names used by Build.
const (
	Gadget   = "gadget"
	Wireless = "wireless"
	Sim      = "sim"
)

// Options are shared by every driver factory.
type Options struct {
	Logger *slog.Logger
	// HostLEDs receives LED output reports from the host. May be nil.
	HostLEDs func(hid.LEDState)
}

// Registration describes a driver type.
type Registration interface {
	// Kind is the link kind the driver provides.
	Kind() link.Kind
	// Build creates the driver from the board's transport section.
	Build(b *board.Board, o Options) (link.Driver, error)
}

var (
	registry   = make(map[string]Registration)
	registryMu sync.RWMutex
)

// Register adds a driver type. It is called from driver package init()
// functions; the name is case-insensitive.
func Register(name string, reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = reg
}

// Lookup returns the registration for name, or nil.
func Lookup(name string) Registration {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[strings.ToLower(name)]
}

// Names lists the registered driver types, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates a driver for every transport the board configures. With sim
// set the wired transport is replaced by the simulated one.
func Build(b *board.Board, sim bool, o Options) ([]link.Driver, error) {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	var wanted []string
	if b.Transports.Wired != nil {
		if sim {
			wanted = append(wanted, Sim)
		} else {
			wanted = append(wanted, Gadget)
		}
	}
	if b.Transports.Wireless != nil {
		wanted = append(wanted, Wireless)
	}

	drivers := make([]link.Driver, 0, len(wanted))
	for _, name := range wanted {
		reg := Lookup(name)
		if reg == nil {
			return nil, fmt.Errorf("%w: %q (registered: %s)", link.ErrUnknownTransport, name, strings.Join(Names(), ", "))
		}
		drv, err := reg.Build(b, o)
		if err != nil {
			return nil, fmt.Errorf("build %s transport: %w", name, err)
		}
		drivers = append(drivers, drv)
	}
	return drivers, nil
}
