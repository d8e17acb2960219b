//go:build gocv

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"joyptz/internal/config"
	"joyptz/internal/control"
	"joyptz/internal/tracking"
	"joyptz/internal/vision"
)

// OpenCV windows must be driven from the main thread.
func init() {
	runtime.LockOSThread()
}

func runTracker(ctx context.Context, cfg *config.Config, cam config.Camera, ctrl *control.Controller, obs tracking.Observer, logger *slog.Logger) error {
	if cam.Stream == "" {
		return errors.New("tracker mode needs a stream URL for the camera")
	}
	defer func() {
		if err := ctrl.Halt(); err != nil {
			logger.Warn("final stop failed", "error", err)
		}
	}()

	capture, err := vision.OpenCapture(cam.Stream)
	if err != nil {
		return err
	}
	defer capture.Close()

	tr := vision.NewTracker()
	defer tr.Close()

	var disp tracking.Display
	if cfg.Tracking.Window {
		w := vision.NewWindow("joyptz")
		defer w.Close()
		disp = w
	} else {
		roi := cfg.ROI()
		if roi.Empty() {
			return fmt.Errorf("tracking.roi is required when the window is off")
		}
		disp = tracking.FixedRegion(roi)
	}

	opts := []tracking.Option{tracking.WithLogger(logger)}
	if obs != nil {
		opts = append(opts, tracking.WithObserver(obs))
	}
	loop := tracking.NewLoop(cfg.TrackingConfig(), ctrl, opts...)
	return loop.Run(ctx, capture, tr, disp)
}
