// Package snapshot implements the still capture subcommand.
package snapshot

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/camhal/camhal-go/internal/conf"
	"github.com/camhal/camhal-go/internal/hal"
	"github.com/camhal/camhal-go/internal/session"
)

// captureListener forwards the capture outcome to the command.
type captureListener struct {
	session.NopListener
	pictures chan []byte
	errs     chan error
}

func (l *captureListener) PictureTaken(jpeg []byte) {
	select {
	case l.pictures <- jpeg:
	default:
	}
}

func (l *captureListener) Error(op string, err error) {
	select {
	case l.errs <- fmt.Errorf("%s: %w", op, err):
	default:
	}
}

// Command creates the snapshot subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		output   string
		simulate bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture a still picture to a JPEG file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			listener := &captureListener{
				pictures: make(chan []byte, 1),
				errs:     make(chan error, 4),
			}
			stack, err := hal.Build(settings, hal.Options{
				Simulate: simulate,
				Listener: listener,
			})
			if err != nil {
				return err
			}
			ctrl := stack.Controller
			ctrl.Start()
			defer ctrl.Stop()

			if err := ctrl.StartPreview(); err != nil {
				return fmt.Errorf("starting preview: %w", err)
			}
			if err := ctrl.TakePicture(); err != nil {
				return fmt.Errorf("requesting capture: %w", err)
			}

			select {
			case jpeg := <-listener.pictures:
				if err := os.WriteFile(output, jpeg, 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", output, err)
				}
				cmd.Printf("wrote %s (%d bytes)\n", output, len(jpeg))
				return nil
			case err := <-listener.errs:
				return err
			case <-time.After(timeout):
				return fmt.Errorf("no picture within %s", timeout)
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "snapshot.jpg",
		"Output file path")
	cmd.Flags().BoolVar(&simulate, "simulate", false,
		"Use the in-memory fake device")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second,
		"Capture timeout")
	return cmd
}
