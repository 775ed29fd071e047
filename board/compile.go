package board

import (
	"fmt"

	"github.com/Alia5/MicroKB/dispatch"
	"github.com/Alia5/MicroKB/effects"
	"github.com/Alia5/MicroKB/keymap"
)

// Compiled is a validated board in the form the firmware runs from. It is
// never modified after Compile.
type Compiled struct {
	Name string
	// Width is the number of chain inputs, registers*8.
	Width     int
	Positions map[string]int
	// Names maps a position back to its key name.
	Names  map[int]string
	Mask   []bool
	Table  *keymap.Table
	Macros map[string]dispatch.Macro
	LEDs   effects.Config
}

// Compile validates the board and resolves key names to linear positions.
func (b *Board) Compile() (*Compiled, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	width := b.Chain.Registers * 8
	c := &Compiled{
		Name:      b.Name,
		Width:     width,
		Positions: make(map[string]int, len(b.Keys)),
		Names:     make(map[int]string, len(b.Keys)),
		Mask:      make([]bool, width),
		Macros:    make(map[string]dispatch.Macro, len(b.Macros)),
	}
	for name, rc := range b.Keys {
		pos := rc[0]*b.Matrix.Cols + rc[1]
		c.Positions[name] = pos
		c.Names[pos] = name
		c.Mask[pos] = true
	}

	table, err := keymap.NewTable(len(b.Layers), width)
	if err != nil {
		return nil, err
	}
	for i, layer := range b.Layers {
		table.SetName(i, layer.Name)
		for keyName, text := range layer.Keys {
			a, err := keymap.ParseAction(text)
			if err != nil {
				return nil, fmt.Errorf("layer %d key %s: %w", i, keyName, err)
			}
			if err := table.Set(i, c.Positions[keyName], a); err != nil {
				return nil, fmt.Errorf("layer %d key %s: %w", i, keyName, err)
			}
		}
	}
	c.Table = table

	for name, text := range b.Macros {
		m, err := dispatch.CompileText(text)
		if err != nil {
			return nil, fmt.Errorf("macro %s: %w", name, err)
		}
		c.Macros[name] = m
	}

	c.LEDs = effects.Config{
		Count:         b.LEDs.Count,
		Map:           make(map[int]int, len(b.LEDs.Map)),
		Indicator:     -1,
		MaxBrightness: b.LEDs.MaxBrightness,
		Fade:          b.LEDs.Fade.D(),
	}
	if b.LEDs.Indicator != nil {
		c.LEDs.Indicator = *b.LEDs.Indicator
	}
	for keyName, idx := range b.LEDs.Map {
		c.LEDs.Map[c.Positions[keyName]] = idx
	}
	r, g, bl, _ := ParseColor(b.LEDs.Base)
	c.LEDs.Base = effects.RGB{R: r, G: g, B: bl}
	r, g, bl, _ = ParseColor(b.LEDs.Highlight)
	c.LEDs.Highlight = effects.RGB{R: r, G: g, B: bl}
	return c, nil
}
