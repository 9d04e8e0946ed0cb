// Package service installs udpmirror as a systemd service on Linux.
package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ErrUnsupported is returned on platforms without service support.
var ErrUnsupported = errors.New("service management is only supported on Linux (systemd)")

// ServiceConfig holds configuration for installing the service.
type ServiceConfig struct {
	// Name is the systemd unit name without the .service suffix
	Name string

	// Description is the service description
	Description string

	// ConfigPath is the absolute path to the config file
	ConfigPath string

	// WorkingDir is the working directory for the service
	WorkingDir string

	// User is the user to run the service as (empty for root)
	User string

	// Group is the group to run the service as (empty for root)
	Group string

	// Output receives progress messages. Nil means os.Stdout.
	Output io.Writer
}

// DefaultConfig returns a default service configuration.
func DefaultConfig(configPath string) ServiceConfig {
	absPath, _ := filepath.Abs(configPath)

	return ServiceConfig{
		Name:        "udpmirror",
		Description: "UDP datagram fan-out relay",
		ConfigPath:  absPath,
		WorkingDir:  filepath.Dir(absPath),
	}
}

func (c ServiceConfig) out() io.Writer {
	if c.Output != nil {
		return c.Output
	}
	return os.Stdout
}

// IsRoot returns true if the current process runs as root.
func IsRoot() bool {
	return isRootImpl()
}

// Install writes, enables and starts the service unit.
func Install(cfg ServiceConfig) error {
	if !IsSupported() {
		return ErrUnsupported
	}
	if !IsRoot() {
		return fmt.Errorf("must run as root to install service")
	}
	if cfg.ConfigPath == "" {
		return fmt.Errorf("config path is required")
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Resolve symlinks to get the real path
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	return installImpl(cfg, execPath)
}

// Uninstall stops, disables and removes the service unit.
func Uninstall(cfg ServiceConfig) error {
	if !IsSupported() {
		return ErrUnsupported
	}
	if !IsRoot() {
		return fmt.Errorf("must run as root to uninstall service")
	}

	return uninstallImpl(cfg)
}

// Status returns the current status of the service.
func Status(serviceName string) (string, error) {
	return statusImpl(serviceName)
}

// IsInstalled checks if the service is already installed.
func IsInstalled(serviceName string) bool {
	return isInstalledImpl(serviceName)
}

// IsSupported returns true if service installation is supported on this platform.
func IsSupported() bool {
	return runtime.GOOS == "linux"
}

// runCommand executes a command and returns combined output.
func runCommand(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	output, err := cmd.CombinedOutput()
	return string(output), err
}
