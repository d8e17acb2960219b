//go:build !gocv

package main

import (
	"context"
	"errors"
	"log/slog"

	"joyptz/internal/config"
	"joyptz/internal/control"
	"joyptz/internal/tracking"
)

func runTracker(context.Context, *config.Config, config.Camera, *control.Controller, tracking.Observer, *slog.Logger) error {
	return errors.New("tracker mode requires a build with -tags gocv")
}
