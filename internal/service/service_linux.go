//go:build linux

package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const systemdUnitPath = "/etc/systemd/system"

// unitDir is a variable so tests can redirect unit files.
var unitDir = systemdUnitPath

func isRootImpl() bool {
	return os.Getuid() == 0
}

func unitPath(name string) string {
	return filepath.Join(unitDir, name+".service")
}

// installImpl installs the service using systemd.
func installImpl(cfg ServiceConfig, execPath string) error {
	out := cfg.out()
	path := unitPath(cfg.Name)

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("service %s is already installed at %s", cfg.Name, path)
	}

	if err := os.WriteFile(path, []byte(generateSystemdUnit(cfg, execPath)), 0644); err != nil {
		return fmt.Errorf("failed to write systemd unit file: %w", err)
	}
	fmt.Fprintf(out, "Created systemd unit: %s\n", path)

	if output, err := runCommand("systemctl", "daemon-reload"); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to reload systemd: %s: %w", output, err)
	}

	if output, err := runCommand("systemctl", "enable", cfg.Name); err != nil {
		return fmt.Errorf("failed to enable service: %s: %w", output, err)
	}
	fmt.Fprintf(out, "Enabled service: %s\n", cfg.Name)

	if output, err := runCommand("systemctl", "start", cfg.Name); err != nil {
		return fmt.Errorf("failed to start service: %s: %w", output, err)
	}
	fmt.Fprintf(out, "Started service: %s\n", cfg.Name)

	return nil
}

// uninstallImpl removes the systemd service.
func uninstallImpl(cfg ServiceConfig) error {
	out := cfg.out()
	path := unitPath(cfg.Name)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("service %s is not installed", cfg.Name)
	}

	// Stop and disable, ignoring units that are not loaded
	if output, err := runCommand("systemctl", "stop", cfg.Name); err != nil {
		if !strings.Contains(output, "not loaded") {
			fmt.Fprintf(out, "Note: could not stop service: %s\n", strings.TrimSpace(output))
		}
	} else {
		fmt.Fprintf(out, "Stopped service: %s\n", cfg.Name)
	}

	if output, err := runCommand("systemctl", "disable", cfg.Name); err != nil {
		if !strings.Contains(output, "not loaded") {
			fmt.Fprintf(out, "Note: could not disable service: %s\n", strings.TrimSpace(output))
		}
	} else {
		fmt.Fprintf(out, "Disabled service: %s\n", cfg.Name)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove systemd unit file: %w", err)
	}
	fmt.Fprintf(out, "Removed systemd unit: %s\n", path)

	if _, err := runCommand("systemctl", "daemon-reload"); err != nil {
		fmt.Fprintln(out, "Note: failed to reload systemd daemon")
	}
	runCommand("systemctl", "reset-failed", cfg.Name)

	return nil
}

// statusImpl returns the service status reported by systemctl.
func statusImpl(serviceName string) (string, error) {
	output, err := runCommand("systemctl", "is-active", serviceName)
	status := strings.TrimSpace(output)

	if err != nil {
		if status == "inactive" || status == "unknown" || status == "failed" {
			return status, nil
		}
		return "", fmt.Errorf("failed to get service status: %w", err)
	}

	return status, nil
}

func isInstalledImpl(serviceName string) bool {
	_, err := os.Stat(unitPath(serviceName))
	return err == nil
}

// generateSystemdUnit generates a systemd unit file. The relay runs in the
// foreground under systemd, so daemonize is forced off on the command line.
func generateSystemdUnit(cfg ServiceConfig, execPath string) string {
	var identity string
	if cfg.User != "" {
		identity += fmt.Sprintf("User=%s\n", cfg.User)
		// Non-root users still need low receiver ports
		identity += "AmbientCapabilities=CAP_NET_BIND_SERVICE\n"
	}
	if cfg.Group != "" {
		identity += fmt.Sprintf("Group=%s\n", cfg.Group)
	}

	return fmt.Sprintf(`[Unit]
Description=%s
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s -c %s --daemonize=false
WorkingDirectory=%s
%sRestart=on-failure
RestartSec=5
TimeoutStopSec=30
RuntimeDirectory=%s

# Security hardening
NoNewPrivileges=true
ProtectSystem=strict
ProtectHome=read-only
PrivateTmp=true

# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier=%s

[Install]
WantedBy=multi-user.target
`, cfg.Description, execPath, cfg.ConfigPath, cfg.WorkingDir, identity, cfg.Name, cfg.Name)
}
