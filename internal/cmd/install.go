package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Alia5/MicroKB/board"
)

// Install registers "microkb run" as a system service for a board file.
type Install struct {
	Board string `help:"Board file the service runs" default:"board.yaml" type:"path" env:"MICROKB_BOARD"`
}

// Run is called by Kong when the install command is executed.
func (c *Install) Run(logger *slog.Logger) error {
	if _, err := board.Load(c.Board); err != nil {
		return err
	}
	abs, err := filepath.Abs(c.Board)
	if err != nil {
		return err
	}
	return install(logger, abs)
}

// Uninstall removes the service installed by Install.
type Uninstall struct{}

// Run is called by Kong when the uninstall command is executed.
func (c *Uninstall) Run(logger *slog.Logger) error {
	return uninstall(logger)
}

func currentExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return exe, nil
	}
	return resolved, nil
}
