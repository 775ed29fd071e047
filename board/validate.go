package board

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/Alia5/MicroKB/dispatch"
	"github.com/Alia5/MicroKB/keymap"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid board configuration")

// ConfigError is one problem found in a board file.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Msg
}

type problems []error

func (p *problems) add(field, format string, args ...any) {
	*p = append(*p, &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)})
}

// Validate checks the whole board and reports every problem at once.
func (b *Board) Validate() error {
	var p problems

	if b.Name == "" {
		p.add("name", "must not be empty")
	}
	if b.Matrix.Rows <= 0 || b.Matrix.Cols <= 0 {
		p.add("matrix", "rows and cols must be positive, got %dx%d", b.Matrix.Rows, b.Matrix.Cols)
	}
	width := b.Matrix.Rows * b.Matrix.Cols
	if b.Chain.Registers*8 < width {
		p.add("chain.registers", "%d registers hold %d inputs, matrix needs %d", b.Chain.Registers, b.Chain.Registers*8, width)
	}

	b.validateTiming(&p)
	positions := b.validateKeys(&p)
	b.validateLayers(&p, positions)
	b.validateMacros(&p)
	b.validateLEDs(&p, positions)
	b.validateTransports(&p)

	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(p...))
}

func (b *Board) validateTiming(p *problems) {
	t := b.Timing
	for _, d := range []struct {
		field string
		v     Duration
	}{
		{"timing.scan", t.Scan},
		{"timing.dispatch", t.Dispatch},
		{"timing.effects", t.Effects},
	} {
		if d.v <= 0 {
			p.add(d.field, "must be positive")
		}
	}
	if t.Debounce < 0 {
		p.add("timing.debounce", "must not be negative")
	}
	if t.Dispatch > t.Scan {
		p.add("timing.dispatch", "period %s is longer than the scan period %s", t.Dispatch, t.Scan)
	}
	if t.BusCapacity < 2 {
		p.add("timing.busCapacity", "must be at least 2")
	}
}

func (b *Board) validateKeys(p *problems) map[string]int {
	positions := make(map[string]int, len(b.Keys))
	owner := make(map[int]string)
	if len(b.Keys) == 0 {
		p.add("keys", "no keys defined")
	}
	for _, name := range sortedKeys(b.Keys) {
		rc := b.Keys[name]
		field := "keys." + name
		if len(rc) != 2 {
			p.add(field, "want [row, col], got %v", rc)
			continue
		}
		row, col := rc[0], rc[1]
		if row < 0 || row >= b.Matrix.Rows || col < 0 || col >= b.Matrix.Cols {
			p.add(field, "position [%d, %d] outside %dx%d matrix", row, col, b.Matrix.Rows, b.Matrix.Cols)
			continue
		}
		pos := row*b.Matrix.Cols + col
		if other, ok := owner[pos]; ok {
			p.add(field, "position [%d, %d] already used by %q", row, col, other)
			continue
		}
		owner[pos] = name
		positions[name] = pos
	}
	return positions
}

func (b *Board) validateLayers(p *problems, positions map[string]int) {
	if len(b.Layers) == 0 {
		p.add("layers", "at least the base layer is required")
	}
	if len(b.Layers) > keymap.MaxLayers {
		p.add("layers", "%d layers, at most %d supported", len(b.Layers), keymap.MaxLayers)
	}
	for i, layer := range b.Layers {
		prefix := fmt.Sprintf("layers[%d]", i)
		if layer.Name != "" {
			prefix = fmt.Sprintf("layers[%s]", layer.Name)
		}
		for _, keyName := range sortedKeys(layer.Keys) {
			field := prefix + "." + keyName
			if _, ok := positions[keyName]; !ok {
				p.add(field, "unknown key name")
			}
			a, err := keymap.ParseAction(layer.Keys[keyName])
			if err != nil {
				p.add(field, "%v", err)
				continue
			}
			switch a.Kind {
			case keymap.KindLayer:
				if a.Layer <= 0 || a.Layer >= len(b.Layers) {
					p.add(field, "%s targets a layer that does not exist", a)
				}
			case keymap.KindMacro:
				if _, ok := b.Macros[a.Macro]; !ok {
					p.add(field, "%s: no such macro", a)
				}
			}
		}
	}
}

func (b *Board) validateMacros(p *problems) {
	for _, name := range sortedKeys(b.Macros) {
		if _, err := dispatch.CompileText(b.Macros[name]); err != nil {
			p.add("macros."+name, "%v", err)
		}
	}
}

func (b *Board) validateLEDs(p *problems, positions map[string]int) {
	l := b.LEDs
	if l.Count < 0 {
		p.add("leds.count", "must not be negative")
	}
	if l.Indicator != nil && (*l.Indicator < 0 || *l.Indicator >= l.Count) {
		p.add("leds.indicator", "index %d outside %d LEDs", *l.Indicator, l.Count)
	}
	if _, _, _, err := ParseColor(l.Base); err != nil {
		p.add("leds.base", "%v", err)
	}
	if _, _, _, err := ParseColor(l.Highlight); err != nil {
		p.add("leds.highlight", "%v", err)
	}
	for _, keyName := range sortedKeys(l.Map) {
		field := "leds.map." + keyName
		if _, ok := positions[keyName]; !ok {
			p.add(field, "unknown key name")
		}
		if idx := l.Map[keyName]; idx < 0 || idx >= l.Count {
			p.add(field, "index %d outside %d LEDs", idx, l.Count)
		}
	}
}

func (b *Board) validateTransports(p *problems) {
	t := b.Transports
	var names []string
	if t.Wired != nil {
		names = append(names, t.Wired.Name)
		if t.Wired.Timeout <= 0 {
			p.add("transports.wired.timeout", "must be positive")
		}
	}
	if t.Wireless != nil {
		if slices.Contains(names, t.Wireless.Name) {
			p.add("transports.wireless.name", "%q is already used by the wired transport", t.Wireless.Name)
		}
		names = append(names, t.Wireless.Name)
		if t.Wireless.Timeout <= 0 {
			p.add("transports.wireless.timeout", "must be positive")
		}
	}
	if len(names) == 0 {
		p.add("transports", "at least one of wired or wireless must be configured")
	}
	for _, name := range t.Priority {
		if !slices.Contains(names, name) {
			p.add("transports.priority", "unknown transport %q", name)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
