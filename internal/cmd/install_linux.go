//go:build linux

package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	serviceName = "microkb.service"
	servicePath = "/etc/systemd/system/microkb.service"
)

func install(logger *slog.Logger, boardPath string) error {
	exePath, err := currentExecutable()
	if err != nil {
		return err
	}

	unit := systemdUnitContent(exePath, boardPath)
	if err := os.WriteFile(servicePath, []byte(unit), 0o644); err != nil {
		return err
	}

	steps := [][]string{
		{"daemon-reload"},
		{"enable", serviceName},
		{"restart", serviceName},
	}

	for _, args := range steps {
		if err := runSystemctl(args...); err != nil {
			return err
		}
	}

	logger.Info("MicroKB systemd service installed", "path", servicePath, "exe", exePath, "board", boardPath)
	return nil
}

func uninstall(logger *slog.Logger) error {
	var errs []error

	if err := runSystemctl("stop", serviceName); err != nil {
		errs = append(errs, err)
	}
	if err := runSystemctl("disable", serviceName); err != nil {
		errs = append(errs, err)
	}

	if err := os.Remove(servicePath); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}

	if err := runSystemctl("daemon-reload"); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	logger.Info("MicroKB systemd service removed", "path", servicePath)
	return nil
}

// systemdUnitContent starts the firmware once the gadget configfs setup and
// the network are up; the board file's directory is the working directory so
// relative bond paths stay next to it.
func systemdUnitContent(exePath, boardPath string) string {
	workingDir := filepath.Dir(boardPath)
	return fmt.Sprintf(`[Unit]
Description=MicroKB keyboard firmware
After=network-online.target sys-kernel-config.mount
Wants=network-online.target

[Service]
Type=simple
ExecStart=%q run --board %q
WorkingDirectory=%s
Restart=on-failure
RestartSec=1

[Install]
WantedBy=multi-user.target
`, exePath, boardPath, workingDir)
}

func runSystemctl(args ...string) error {
	cmd := exec.Command("systemctl", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s failed: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return nil
}
