package device

import (
	"context"
	"time"

	"gridwatch/internal/logger"
	"gridwatch/internal/service/clock"
	"gridwatch/internal/service/grid"
)

const (
	calibrationWarmup = time.Second
	calibrationGap    = 500 * time.Millisecond
	calibrationCycle  = 2 * time.Second
)

// Calibrator lights the devices one at a time in id order so an operator
// can note which physical light belongs to which grid cell.
type Calibrator struct {
	dispatcher *Dispatcher
	devices    *Registry
	spec       grid.Spec
	settle     time.Duration
	logger     *logger.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewCalibrator creates a Calibrator that keeps each device on for settle.
func NewCalibrator(dispatcher *Dispatcher, devices *Registry, spec grid.Spec, settle time.Duration, logger *logger.Logger) *Calibrator {
	return &Calibrator{
		dispatcher: dispatcher,
		devices:    devices,
		spec:       spec,
		settle:     settle,
		logger:     logger,
		sleep:      clock.Sleep,
	}
}

// Run loops the on/off sequence until ctx is cancelled, then turns every
// device off. Unreachable devices are logged and skipped.
func (c *Calibrator) Run(ctx context.Context) error {
	devices := c.devices.All()
	c.dispatcher.TurnAllOff(ctx, devices)

	c.logger.Info("=== Device calibration sequence ===")
	c.logger.Info("Watch the lights and note their positions. Interrupt to stop.")

	if err := c.sleep(ctx, calibrationWarmup); err == nil {
		for c.cycle(ctx, devices) {
			c.logger.Info("Sequence complete. Starting over...")
			if err := c.sleep(ctx, calibrationCycle); err != nil {
				break
			}
		}
	}

	c.logger.Info("Calibration sequence stopped.")
	c.dispatcher.TurnAllOff(context.WithoutCancel(ctx), devices)
	c.logger.Info("All devices turned off.")
	return nil
}

// cycle runs one pass over all devices and reports whether ctx is still live.
func (c *Calibrator) cycle(ctx context.Context, devices []Device) bool {
	for _, d := range devices {
		if ctx.Err() != nil {
			return false
		}
		row, col, _ := c.spec.Position(d.ID)
		c.logger.Info("Activating device #%d (%s), grid position: row %d, column %d", d.ID, d.Address, row+1, col+1)

		if !c.dispatcher.Send(ctx, d, true) {
			continue
		}
		if err := c.sleep(ctx, c.settle); err != nil {
			return false
		}
		c.dispatcher.Send(ctx, d, false)
		if err := c.sleep(ctx, calibrationGap); err != nil {
			return false
		}
	}
	return ctx.Err() == nil
}
