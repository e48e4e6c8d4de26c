// Package devices implements the device enumeration subcommand.
package devices

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/camhal/camhal-go/internal/conf"
	"github.com/camhal/camhal-go/internal/device"
	"github.com/camhal/camhal-go/internal/v4l2"
)

// Command creates the devices subcommand.
func Command(_ *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capture devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			caps, nodes, err := v4l2.Enumerate()
			if err != nil {
				return fmt.Errorf("enumerating devices: %w", err)
			}
			if len(nodes) == 0 {
				cmd.Println("no capture devices found")
				return nil
			}

			registry := device.NewRegistry()
			for i, c := range caps {
				registry.Register(nodes[i], c.Card, device.FacingUnknown)
			}
			for _, d := range registry.List() {
				cmd.Printf("%s  %-14s %s\n", d.ID, d.Node, d.Card)
			}
			return nil
		},
	}
}
