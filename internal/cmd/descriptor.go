package cmd

import (
	"encoding/hex"
	"os"

	"github.com/Alia5/MicroKB/hid"
)

// Descriptor writes a report descriptor, e.g. into a configfs
// functions/hid.usbN/report_desc file.
type Descriptor struct {
	Consumer bool   `help:"Write the consumer control descriptor instead of the keyboard one"`
	Output   string `help:"Destination file; hex dump to stdout when empty" type:"path"`
}

// Run is called by Kong when the descriptor command is executed.
func (c *Descriptor) Run() error {
	desc := hid.KeyboardDescriptor.Bytes()
	if c.Consumer {
		desc = hid.ConsumerDescriptor.Bytes()
	}
	if c.Output != "" {
		return os.WriteFile(c.Output, desc, 0o644)
	}
	_, err := os.Stdout.WriteString(hex.Dump(desc))
	return err
}
