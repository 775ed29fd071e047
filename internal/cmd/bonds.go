package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Alia5/MicroKB/transport/wireless"
)

// Bonds groups bond file subcommands. The same file format is used by the
// keyboard (transports.wireless.bonds) and by receive.
type Bonds struct {
	List  BondsList  `cmd:"" default:"withargs" help:"List bonded peers"`
	Clear BondsClear `cmd:"" help:"Forget every bonded peer"`
}

type BondsList struct {
	File string `help:"Bond file" default:"bonds.yaml" type:"path" env:"MICROKB_BONDS"`
}

// Run is called by Kong when the bonds list command is executed.
func (c *BondsList) Run() error {
	store, err := wireless.OpenStore(c.File)
	if err != nil {
		return err
	}
	fmt.Printf("identity %s, %d bond(s)\n", store.ID(), store.Len())
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PEER\tADDRESS\tCREATED")
	for _, b := range store.Bonds() {
		addr := b.Addr
		if addr == "" {
			addr = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", b.Peer, addr, b.Created.Local().Format(time.DateTime))
	}
	return w.Flush()
}

type BondsClear struct {
	File string `help:"Bond file" default:"bonds.yaml" type:"path" env:"MICROKB_BONDS"`
}

// Run is called by Kong when the bonds clear command is executed.
func (c *BondsClear) Run(logger *slog.Logger) error {
	store, err := wireless.OpenStore(c.File)
	if err != nil {
		return err
	}
	n := store.Len()
	if err := store.Clear(); err != nil {
		return err
	}
	logger.Info("Bonds cleared", "file", store.Path(), "removed", n)
	return nil
}
