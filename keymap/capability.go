package keymap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ErrUnknownCapability is returned when a custom action names a capability
// that was never registered.
var ErrUnknownCapability = errors.New("unknown capability")

// Capability is the behavior behind a fn(name) action. Invoke receives both
// the press and the release event.
type Capability interface {
	Invoke(ctx context.Context, ev Event) error
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, ev Event) error

// Invoke calls f.
func (f CapabilityFunc) Invoke(ctx context.Context, ev Event) error { return f(ctx, ev) }

// OnPress returns a capability that runs fn on press and ignores releases.
func OnPress(fn func(ctx context.Context) error) Capability {
	return CapabilityFunc(func(ctx context.Context, ev Event) error {
		if !ev.Pressed() {
			return nil
		}
		return fn(ctx)
	})
}

// Capabilities is a registry of named capabilities. Names are
// case-insensitive.
type Capabilities struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewCapabilities returns an empty registry.
func NewCapabilities() *Capabilities {
	return &Capabilities{caps: make(map[string]Capability)}
}

// Register binds name to c, replacing any previous binding.
func (c *Capabilities) Register(name string, capability Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caps[strings.ToLower(name)] = capability
}

// Lookup returns the capability registered under name.
func (c *Capabilities) Lookup(name string) (Capability, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	capability, ok := c.caps[strings.ToLower(name)]
	return capability, ok
}

// Names returns the registered names, sorted.
func (c *Capabilities) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.caps))
	for name := range c.caps {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Dispatch invokes the capability bound to a custom event. Events of any
// other kind are ignored.
func (c *Capabilities) Dispatch(ctx context.Context, ev Event) error {
	if ev.Action.Kind != KindCustom {
		return nil
	}
	capability, ok := c.Lookup(ev.Action.Handle)
	if !ok {
		return fmt.Errorf("fn(%s): %w", ev.Action.Handle, ErrUnknownCapability)
	}
	if err := capability.Invoke(ctx, ev); err != nil {
		return fmt.Errorf("fn(%s): %w", ev.Action.Handle, err)
	}
	return nil
}
