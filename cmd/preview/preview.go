// Package preview implements the streaming subcommand.
package preview

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/camhal/camhal-go/internal/conf"
	"github.com/camhal/camhal-go/internal/hal"
	"github.com/camhal/camhal-go/internal/logging"
	"github.com/camhal/camhal-go/internal/params"
)

// Command creates the preview subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		simulate    bool
		record      bool
		duration    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Run a preview stream until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := logging.ForService("preview-cmd")

			stack, err := hal.Build(settings, hal.Options{Simulate: simulate})
			if err != nil {
				return err
			}
			ctrl := stack.Controller
			ctrl.Start()
			defer ctrl.Stop()

			var metricsSrv *http.Server
			if metricsAddr != "" && stack.Registry != nil {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(stack.Registry,
					promhttp.HandlerOpts{}))
				metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil &&
						err != http.ErrServerClosed {
						logger.Error("metrics server failed", "error", err)
					}
				}()
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(),
						2*time.Second)
					defer cancel()
					_ = metricsSrv.Shutdown(ctx)
				}()
			}

			if record {
				hint := params.New()
				hint.SetBool(params.KeyRecordingHint, true)
				if err := ctrl.SetParameters(hint); err != nil {
					return err
				}
			}
			if err := ctrl.StartPreview(); err != nil {
				return fmt.Errorf("starting preview: %w", err)
			}
			if record {
				if err := ctrl.StartRecording(); err != nil {
					return fmt.Errorf("starting recording: %w", err)
				}
			}
			logger.Info("streaming", "state", ctrl.State().String(),
				"fps", stack.Driver.FrameRate())

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(stop)
			if duration > 0 {
				select {
				case <-stop:
				case <-time.After(duration):
				}
			} else {
				<-stop
			}

			if record {
				if err := ctrl.StopRecording(); err != nil {
					return err
				}
			}
			return ctrl.StopPreview()
		},
	}

	cmd.Flags().BoolVar(&simulate, "simulate", false,
		"Use the in-memory fake device")
	cmd.Flags().BoolVar(&record, "record", false,
		"Record while previewing, discarding frames")
	cmd.Flags().DurationVar(&duration, "duration", 0,
		"Stop after this long (0 runs until a signal)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address")
	return cmd
}
