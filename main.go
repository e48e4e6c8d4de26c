package main

import (
	"fmt"
	"os"

	"github.com/camhal/camhal-go/cmd"
	"github.com/camhal/camhal-go/internal/conf"
	"github.com/camhal/camhal-go/internal/logging"
)

func main() {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}
	logging.SetLevel(settings.Main.Log.Level)

	if settings.Main.Log.Path != "" {
		rot := settings.Main.Log.Rotation
		logger, closer, err := logging.NewFileLogger(
			settings.Main.Log.Path, settings.Main.Name,
			logging.RotationOptions{
				MaxSizeMB:  rot.MaxSizeMB,
				MaxBackups: rot.MaxBackups,
				MaxAgeDays: rot.MaxAgeDays,
				Compress:   rot.Compress,
			})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer closer.Close()
		logger.Info("starting", "name", settings.Main.Name)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "command error: %v\n", err)
		os.Exit(1)
	}
}
