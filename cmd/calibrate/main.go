package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gridwatch/internal/config"
	"gridwatch/internal/logger"
	"gridwatch/internal/service/device"
	"gridwatch/internal/service/grid"
)

// calibrate lights the devices one by one so each can be matched to its
// grid cell. It runs until interrupted.
func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	spec, err := grid.NewSpec(cfg.GridRows, cfg.GridCols)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Calibration commands use their own per-request timeout.
	cfg.DispatchTimeout = cfg.CalibrationTimeout

	out := logger.NewWriterLogger(os.Stdout)
	dispatcher := device.NewDispatcher(device.NewHTTPTransport(cfg.DevicePathPrefix), cfg, out)
	calibrator := device.NewCalibrator(dispatcher, device.NewRegistry(cfg.DeviceURLs), spec, cfg.CalibrationDelay, out)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := calibrator.Run(ctx); err != nil {
		log.Fatalf("Calibration failed: %v", err)
	}
}
