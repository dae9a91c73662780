package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thatsimonsguy/pump-controller/internal/bus"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports to locate a pump adapter's serial number",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := bus.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PORT\tUSB\tVID:PID\tSERIAL\tPRODUCT")
		for _, p := range ports {
			fmt.Fprintf(tw, "%s\t%t\t%s:%s\t%s\t%s\n", p.Name, p.IsUSB, p.VID, p.PID, p.SerialNumber, p.Product)
		}
		return tw.Flush()
	},
}
