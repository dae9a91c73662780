package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thatsimonsguy/pump-controller/db"
	"github.com/thatsimonsguy/pump-controller/internal/config"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect or clear the persisted schedule",
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persisted schedule state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return db.ShowScheduleCLI(cfg.Runtime.DBPath, cmd.OutOrStdout())
	},
}

var scheduleClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Deactivate the persisted schedule so it is not resumed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := db.ClearScheduleCLI(cfg.Runtime.DBPath); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schedule cleared")
		return nil
	},
}

func init() {
	scheduleCmd.AddCommand(scheduleShowCmd, scheduleClearCmd)
}
