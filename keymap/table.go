package keymap

import (
	"fmt"
)

// MaxLayers is the number of layers a LayerState bitmask can address.
const MaxLayers = 32

// Table maps (layer, position) to an action. Layer 0 is the base layer.
// A Table is built once at startup and never mutated while a Resolver uses it.
type Table struct {
	width  int
	names  []string
	layers [][]Action
}

// NewTable returns a table of the given number of layers, every entry
// transparent.
func NewTable(layers, width int) (*Table, error) {
	if layers < 1 || layers > MaxLayers {
		return nil, fmt.Errorf("layer count %d out of range 1..%d", layers, MaxLayers)
	}
	if width < 1 {
		return nil, fmt.Errorf("invalid width %d", width)
	}
	t := &Table{
		width:  width,
		names:  make([]string, layers),
		layers: make([][]Action, layers),
	}
	for i := range t.layers {
		t.layers[i] = make([]Action, width)
	}
	return t, nil
}

// Width returns the number of positions per layer.
func (t *Table) Width() int { return t.width }

// Layers returns the number of layers.
func (t *Table) Layers() int { return len(t.layers) }

// Set stores an action. Layer actions must target an existing layer.
func (t *Table) Set(layer, pos int, a Action) error {
	if layer < 0 || layer >= len(t.layers) {
		return fmt.Errorf("layer %d out of range", layer)
	}
	if pos < 0 || pos >= t.width {
		return fmt.Errorf("position %d out of range", pos)
	}
	if a.Kind == KindLayer && (a.Layer < 0 || a.Layer >= len(t.layers)) {
		return fmt.Errorf("%s: target layer %d does not exist", a, a.Layer)
	}
	t.layers[layer][pos] = a
	return nil
}

// At returns the raw entry, transparent when out of range.
func (t *Table) At(layer, pos int) Action {
	if layer < 0 || layer >= len(t.layers) || pos < 0 || pos >= t.width {
		return Action{}
	}
	return t.layers[layer][pos]
}

// SetName labels a layer for display.
func (t *Table) SetName(layer int, name string) {
	if layer >= 0 && layer < len(t.names) {
		t.names[layer] = name
	}
}

// Name returns the label of a layer, or its index when unnamed.
func (t *Table) Name(layer int) string {
	if layer >= 0 && layer < len(t.names) && t.names[layer] != "" {
		return t.names[layer]
	}
	return fmt.Sprintf("layer%d", layer)
}

// Used returns, per position, whether any layer maps something other than
// transparent there.
func (t *Table) Used() []bool {
	used := make([]bool, t.width)
	for _, layer := range t.layers {
		for pos, a := range layer {
			if a.Kind != KindTransparent {
				used[pos] = true
			}
		}
	}
	return used
}
