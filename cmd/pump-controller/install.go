package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thatsimonsguy/pump-controller/system/startup"
)

var (
	servicePath string
	serviceUser string
)

var installServiceCmd = &cobra.Command{
	Use:   "install-service",
	Short: "Write a systemd unit that runs serve at boot",
	RunE: func(cmd *cobra.Command, args []string) error {
		execPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		wd, err := os.Getwd()
		if err != nil {
			return err
		}

		unit := startup.Unit{
			ExecPath:   execPath,
			ConfigPath: configPath,
			User:       serviceUser,
			WorkDir:    wd,
		}
		if err := startup.InstallService(servicePath, unit); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nenable with: systemctl daemon-reload && systemctl enable --now pump-controller\n", servicePath)
		return nil
	},
}

func init() {
	installServiceCmd.Flags().StringVar(&servicePath, "path", startup.DefaultServicePath, "where to write the unit file")
	installServiceCmd.Flags().StringVar(&serviceUser, "user", "", "user the service runs as (default root)")
}
