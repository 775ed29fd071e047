package firmware

import (
	"context"
	"errors"
	"fmt"

	"github.com/Alia5/MicroKB/keymap"
	"github.com/Alia5/MicroKB/link"
)

// Built-in capability names usable as fn(name) in a board file.
const (
	CapPair        = "pair"
	CapClearBonds  = "clear-bonds"
	CapUseWired    = "use-wired"
	CapUseWireless = "use-wireless"
	CapLEDs        = "leds"
)

// errNoTransport is returned when a capability needs a transport kind the
// board does not configure.
var errNoTransport = errors.New("no transport of that kind")

func (fw *Firmware) registerBuiltins() {
	fw.caps.Register(CapPair, keymap.OnPress(func(context.Context) error {
		name, err := fw.transportOf(link.Wireless)
		if err != nil {
			return err
		}
		passkey, err := fw.links.RequestPairing(name)
		if err != nil {
			return err
		}
		fw.log.Info("Pairing, enter the passkey on the host", "transport", name, "passkey", passkey)
		return nil
	}))
	fw.caps.Register(CapClearBonds, keymap.OnPress(func(context.Context) error {
		name, err := fw.transportOf(link.Wireless)
		if err != nil {
			return err
		}
		return fw.links.ClearBonds(name)
	}))
	fw.caps.Register(CapUseWired, keymap.OnPress(func(context.Context) error {
		return fw.prefer(link.Wired)
	}))
	fw.caps.Register(CapUseWireless, keymap.OnPress(func(context.Context) error {
		return fw.prefer(link.Wireless)
	}))
	fw.caps.Register(CapLEDs, keymap.OnPress(func(context.Context) error {
		on := fw.effects.TogglePower()
		fw.log.Debug("LED power toggled", "on", on)
		return nil
	}))
}

func (fw *Firmware) prefer(kind link.Kind) error {
	name, err := fw.transportOf(kind)
	if err != nil {
		return err
	}
	return fw.links.Prefer(name)
}

// transportOf returns the first transport of kind.
func (fw *Firmware) transportOf(kind link.Kind) (string, error) {
	for _, d := range fw.drivers {
		if d.Kind() == kind {
			return d.Name(), nil
		}
	}
	return "", fmt.Errorf("%s: %w", kind, errNoTransport)
}
