package cmd

import (
	"fmt"
	"sort"

	"github.com/Alia5/MicroKB/board"
)

// Board groups board file subcommands.
type Board struct {
	Check BoardCheck `cmd:"" help:"Validate a board file and print a summary"`
}

type BoardCheck struct {
	File string `arg:"" help:"Board file (yaml, toml or json)" type:"existingfile"`
}

// Run is called by Kong when the board check command is executed.
func (c *BoardCheck) Run() error {
	b, err := board.Load(c.File)
	if err != nil {
		return err
	}
	compiled, err := b.Compile()
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d keys on a %dx%d matrix, %d inputs\n",
		compiled.Name, len(compiled.Positions), b.Matrix.Rows, b.Matrix.Cols, compiled.Width)
	for i, l := range b.Layers {
		fmt.Printf("  layer %d %-10s %d bindings\n", i, l.Name, len(l.Keys))
	}
	macros := make([]string, 0, len(b.Macros))
	for name := range b.Macros {
		macros = append(macros, name)
	}
	sort.Strings(macros)
	for _, name := range macros {
		fmt.Printf("  macro %-10s %d steps\n", name, len(compiled.Macros[name]))
	}
	if w := b.Transports.Wired; w != nil {
		fmt.Printf("  wired    %-10s %s %s\n", w.Name, w.Keyboard, w.Consumer)
	}
	if w := b.Transports.Wireless; w != nil {
		fmt.Printf("  wireless %-10s %s bonds=%s\n", w.Name, w.Listen, w.Bonds)
	}
	return nil
}
