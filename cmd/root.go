// Package cmd wires the command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/camhal/camhal-go/cmd/devices"
	"github.com/camhal/camhal-go/cmd/preview"
	"github.com/camhal/camhal-go/cmd/snapshot"
	"github.com/camhal/camhal-go/internal/conf"
	"github.com/camhal/camhal-go/internal/logging"
)

// RootCommand creates the root command with all subcommands attached.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "camhal",
		Short: "Camera HAL control core",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if settings.Debug {
				settings.Main.Log.Level = "debug"
			}
			logging.SetLevel(settings.Main.Log.Level)
			return settings.Validate()
		},
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	rootCmd.AddCommand(
		preview.Command(settings),
		snapshot.Command(settings),
		devices.Command(settings),
	)
	return rootCmd
}

func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d",
		viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Camera.Device, "device",
		settings.Camera.Device, "Capture device node")
	rootCmd.PersistentFlags().IntVar(&settings.Camera.Buffers, "buffers",
		settings.Camera.Buffers, "Capture buffer count")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}
