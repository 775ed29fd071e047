// Package config declares the root command line of the microkb binary.
package config

import "github.com/Alia5/MicroKB/internal/cmd"

// Log holds the logging flags shared by every command.
type Log struct {
	Level      string `help:"Log level: trace, debug, info, warn, error" default:"info" enum:"trace,debug,info,warn,error" env:"MICROKB_LOG_LEVEL"`
	File       string `help:"Also write logs to this file" env:"MICROKB_LOG_FILE"`
	Format     string `help:"Log format" default:"text" enum:"text,json" env:"MICROKB_LOG_FORMAT"`
	ReportFile string `help:"Write every HID report exchanged with a host to this file" env:"MICROKB_LOG_REPORT_FILE"`
}

// CLI is the kong root.
type CLI struct {
	ConfigFile string `name:"config" help:"Configuration file (json, yaml or toml)" env:"MICROKB_CONFIG"`
	Log        Log    `embed:"" prefix:"log."`

	Run        cmd.Run           `cmd:"" help:"Run the keyboard firmware"`
	Receive    cmd.Receive       `cmd:"" help:"Connect to a keyboard over the wireless transport and print what it sends"`
	Bonds      cmd.Bonds         `cmd:"" help:"Inspect or clear a wireless bond file"`
	Board      cmd.Board         `cmd:"" help:"Validate or generate board files"`
	Descriptor cmd.Descriptor    `cmd:"" help:"Print the HID report descriptors for gadget setup"`
	Config     cmd.ConfigCommand `cmd:"" help:"Configuration helpers"`
	Install    cmd.Install       `cmd:"" help:"Install microkb run as a system service"`
	Uninstall  cmd.Uninstall     `cmd:"" help:"Remove the system service"`
}
