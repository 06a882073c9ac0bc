package device

import (
	"context"
	"time"

	"gridwatch/internal/config"
	"gridwatch/internal/logger"
	"gridwatch/internal/service/clock"
)

const (
	// TurnOffTimeout bounds each request of the shutdown sweep.
	TurnOffTimeout = 3 * time.Second
)

// Dispatcher sends on/off commands with bounded retries. It never returns
// an error: every failure ends up as a log line and a false result.
type Dispatcher struct {
	transport  Transport
	maxRetries int
	timeout    time.Duration
	retryDelay time.Duration
	offPause   time.Duration
	logger     *logger.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a Dispatcher using the retry budget from config.
func NewDispatcher(transport Transport, config *config.Config, logger *logger.Logger) *Dispatcher {
	maxRetries := config.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Dispatcher{
		transport:  transport,
		maxRetries: maxRetries,
		timeout:    config.DispatchTimeout,
		retryDelay: config.DispatchRetryDelay,
		offPause:   config.ShutdownPause,
		logger:     logger,
		sleep:      clock.Sleep,
	}
}

// Send delivers state to d, making up to maxRetries attempts. It returns
// false once every attempt failed or ctx ended between attempts.
func (s *Dispatcher) Send(ctx context.Context, d Device, state bool) bool {
	command := CommandName(state)

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.attempt(ctx, d, state, s.timeout)
		if err == nil {
			s.logger.Info("Successfully sent command %s to device %d", command, d.ID)
			return true
		}
		s.logger.Warning("Failed to send command %s to device %d (attempt %d/%d): %v", command, d.ID, attempt, s.maxRetries, err)

		if attempt < s.maxRetries {
			if err := s.sleep(ctx, s.retryDelay); err != nil {
				break
			}
		}
	}

	s.logger.Error("Giving up on command %s for device %d", command, d.ID)
	return false
}

// TurnAllOff sends "off" once to every device, ignoring failures. It
// returns how many devices could not be reached.
func (s *Dispatcher) TurnAllOff(ctx context.Context, devices []Device) int {
	s.logger.Info("Turning off all %d devices...", len(devices))

	failed := 0
	for i, d := range devices {
		if err := s.attempt(ctx, d, false, TurnOffTimeout); err != nil {
			s.logger.Error("Failed to turn off device %d: %v", d.ID, err)
			failed++
		}
		if i < len(devices)-1 {
			s.sleep(ctx, s.offPause)
		}
	}

	if failed > 0 {
		s.logger.Warning("%d of %d devices could not be turned off", failed, len(devices))
	}
	return failed
}

func (s *Dispatcher) attempt(ctx context.Context, d Device, state bool, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.transport.Command(ctx, d, state)
}
