package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/postalsys/udpmirror/internal/config"
	"github.com/postalsys/udpmirror/internal/service"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the systemd service",
		Long:  "Install, uninstall or inspect udpmirror as a systemd service (Linux only).",
	}

	cmd.AddCommand(serviceInstallCmd())
	cmd.AddCommand(serviceUninstallCmd())
	cmd.AddCommand(serviceStatusCmd())

	return cmd
}

func serviceInstallCmd() *cobra.Command {
	var configPath, name, user, group string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install and start the systemd service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err != nil {
				return fmt.Errorf("config file: %w", err)
			}

			// Catch mistakes before systemd starts a failing unit.
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			svc := service.DefaultConfig(configPath)
			svc.Name = name
			svc.User = user
			svc.Group = group
			svc.Output = cmd.OutOrStdout()

			return service.Install(svc)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "/etc/udpmirror/udpmirror.yaml", "Path to configuration file")
	cmd.Flags().StringVarP(&name, "name", "n", "udpmirror", "Service name")
	cmd.Flags().StringVar(&user, "user", "", "Run the service as this user")
	cmd.Flags().StringVar(&group, "group", "", "Run the service as this group")

	return cmd
}

func serviceUninstallCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Stop and remove the systemd service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := service.DefaultConfig("")
			svc.Name = name
			svc.Output = cmd.OutOrStdout()
			return service.Uninstall(svc)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "udpmirror", "Service name")

	return cmd
}

func serviceStatusCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the systemd service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !service.IsSupported() {
				return service.ErrUnsupported
			}
			if !service.IsInstalled(name) {
				fmt.Fprintf(cmd.OutOrStdout(), "Service %s is not installed\n", name)
				return nil
			}

			status, err := service.Status(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service %s: %s\n", name, status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "udpmirror", "Service name")

	return cmd
}
