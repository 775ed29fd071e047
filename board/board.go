// Package board loads the static description of a keyboard: its matrix,
// shift register chain, key names, layers, macros, LEDs and transports.
package board

import (
	"fmt"
	"strconv"
	"time"
)

// Board is the on-disk board configuration. Field names are shared by the
// YAML, TOML and JSON encodings.
type Board struct {
	Name       string            `json:"name" yaml:"name" toml:"name"`
	Matrix     Matrix            `json:"matrix" yaml:"matrix" toml:"matrix"`
	Chain      Chain             `json:"chain" yaml:"chain" toml:"chain"`
	Timing     Timing            `json:"timing" yaml:"timing" toml:"timing"`
	Keys       map[string][]int  `json:"keys" yaml:"keys" toml:"keys"`
	Layers     []Layer           `json:"layers" yaml:"layers" toml:"layers"`
	Macros     map[string]string `json:"macros,omitempty" yaml:"macros,omitempty" toml:"macros,omitempty"`
	LEDs       LEDs              `json:"leds" yaml:"leds" toml:"leds"`
	Transports Transports        `json:"transports" yaml:"transports" toml:"transports"`
}

// Matrix is the logical key grid. Position = row*cols + col.
type Matrix struct {
	Rows int `json:"rows" yaml:"rows" toml:"rows"`
	Cols int `json:"cols" yaml:"cols" toml:"cols"`
}

// Chain describes the 74HC165 style shift register chain.
type Chain struct {
	Registers int   `json:"registers" yaml:"registers" toml:"registers"`
	ActiveLow *bool `json:"activeLow,omitempty" yaml:"activeLow,omitempty" toml:"activeLow,omitempty"`
	SPI       SPI   `json:"spi" yaml:"spi" toml:"spi"`
}

// IsActiveLow reports the chain polarity, active-low unless configured.
func (c Chain) IsActiveLow() bool { return c.ActiveLow == nil || *c.ActiveLow }

// SPI selects the spidev bus the chain is read from.
type SPI struct {
	Device    string `json:"device" yaml:"device" toml:"device"`
	Mode      uint8  `json:"mode" yaml:"mode" toml:"mode"`
	SpeedHz   uint32 `json:"speedHz" yaml:"speedHz" toml:"speedHz"`
	LatchGPIO int    `json:"latchGpio" yaml:"latchGpio" toml:"latchGpio"`
	LSBFirst  bool   `json:"lsbFirst" yaml:"lsbFirst" toml:"lsbFirst"`
}

// Timing holds task periods and the debounce window.
type Timing struct {
	Scan        Duration `json:"scan" yaml:"scan" toml:"scan"`
	Debounce    Duration `json:"debounce" yaml:"debounce" toml:"debounce"`
	Dispatch    Duration `json:"dispatch" yaml:"dispatch" toml:"dispatch"`
	Effects     Duration `json:"effects" yaml:"effects" toml:"effects"`
	BusCapacity int      `json:"busCapacity" yaml:"busCapacity" toml:"busCapacity"`
}

// Layer maps key names to actions. Keys not listed are transparent.
type Layer struct {
	Name string            `json:"name" yaml:"name" toml:"name"`
	Keys map[string]string `json:"keys" yaml:"keys" toml:"keys"`
}

// LEDs describes the per-key LED strip.
type LEDs struct {
	Count         int            `json:"count" yaml:"count" toml:"count"`
	MaxBrightness uint8          `json:"maxBrightness" yaml:"maxBrightness" toml:"maxBrightness"`
	Fade          Duration       `json:"fade" yaml:"fade" toml:"fade"`
	Indicator     *int           `json:"indicator,omitempty" yaml:"indicator,omitempty" toml:"indicator,omitempty"`
	Base          string         `json:"base" yaml:"base" toml:"base"`
	Highlight     string         `json:"highlight" yaml:"highlight" toml:"highlight"`
	Map           map[string]int `json:"map,omitempty" yaml:"map,omitempty" toml:"map,omitempty"`
}

// Transports selects and configures the host links.
type Transports struct {
	SingleHomed bool      `json:"singleHomed" yaml:"singleHomed" toml:"singleHomed"`
	Priority    []string  `json:"priority,omitempty" yaml:"priority,omitempty" toml:"priority,omitempty"`
	Wired       *Wired    `json:"wired,omitempty" yaml:"wired,omitempty" toml:"wired,omitempty"`
	Wireless    *Wireless `json:"wireless,omitempty" yaml:"wireless,omitempty" toml:"wireless,omitempty"`
}

// Wired is the USB HID gadget transport.
type Wired struct {
	Name     string   `json:"name" yaml:"name" toml:"name"`
	Keyboard string   `json:"keyboard" yaml:"keyboard" toml:"keyboard"`
	Consumer string   `json:"consumer" yaml:"consumer" toml:"consumer"`
	Timeout  Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

// Wireless is the radio transport.
type Wireless struct {
	Name    string   `json:"name" yaml:"name" toml:"name"`
	Listen  string   `json:"listen" yaml:"listen" toml:"listen"`
	Bonds   string   `json:"bonds" yaml:"bonds" toml:"bonds"`
	Timeout Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultScan        = time.Millisecond
	DefaultDebounce    = 5 * time.Millisecond
	DefaultDispatch    = time.Millisecond
	DefaultEffects     = 33 * time.Millisecond
	DefaultBusCapacity = 256
	DefaultFade        = 300 * time.Millisecond

	DefaultWiredName    = "usb"
	DefaultWirelessName = "radio"
)

// ApplyDefaults fills every unset optional field.
func (b *Board) ApplyDefaults() {
	if b.Chain.Registers == 0 {
		b.Chain.Registers = (b.Matrix.Rows*b.Matrix.Cols + 7) / 8
	}
	setDur := func(d *Duration, def time.Duration) {
		if *d == 0 {
			*d = Duration(def)
		}
	}
	setDur(&b.Timing.Scan, DefaultScan)
	setDur(&b.Timing.Debounce, DefaultDebounce)
	setDur(&b.Timing.Dispatch, DefaultDispatch)
	setDur(&b.Timing.Effects, DefaultEffects)
	if b.Timing.BusCapacity == 0 {
		b.Timing.BusCapacity = DefaultBusCapacity
	}
	if b.LEDs.MaxBrightness == 0 {
		b.LEDs.MaxBrightness = 0xFF
	}
	setDur(&b.LEDs.Fade, DefaultFade)
	if b.LEDs.Base == "" {
		b.LEDs.Base = "#000000"
	}
	if b.LEDs.Highlight == "" {
		b.LEDs.Highlight = "#ffffff"
	}
	if w := b.Transports.Wired; w != nil {
		if w.Name == "" {
			w.Name = DefaultWiredName
		}
		if w.Keyboard == "" {
			w.Keyboard = "/dev/hidg0"
		}
		setDur(&w.Timeout, 20*time.Millisecond)
	}
	if w := b.Transports.Wireless; w != nil {
		if w.Name == "" {
			w.Name = DefaultWirelessName
		}
		if w.Listen == "" {
			w.Listen = ":3250"
		}
		if w.Bonds == "" {
			w.Bonds = "bonds.yaml"
		}
		setDur(&w.Timeout, 50*time.Millisecond)
	}
}

// Duration is a time.Duration written as a Go duration string ("5ms").
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalTOML accepts a duration string or an integer number of
// milliseconds.
func (d *Duration) UnmarshalTOML(v interface{}) error {
	switch x := v.(type) {
	case string:
		return d.UnmarshalText([]byte(x))
	case int64:
		*d = Duration(time.Duration(x) * time.Millisecond)
		return nil
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
}

// ParseColor parses "#rrggbb".
func ParseColor(s string) (r, g, b uint8, err error) {
	if len(s) != 7 || s[0] != '#' {
		return 0, 0, 0, fmt.Errorf("color %q: want #rrggbb", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("color %q: %w", s, err)
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), nil
}
