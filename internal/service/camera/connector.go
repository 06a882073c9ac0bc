// Package camera opens frame sources and keeps them open.
package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gridwatch/internal/config"
	"gridwatch/internal/logger"
	"gridwatch/internal/service/clock"
)

// ErrConnection is returned once the retry budget for opening a source is spent.
var ErrConnection = errors.New("camera connection failed")

// Frame is one captured image. The tick that reads it owns it and must Close it.
type Frame interface {
	Close() error
}

// Source yields frames. Read returns false when the source is dead or closed.
type Source interface {
	Read() (Frame, bool)
	Close() error
}

// Opener makes a single attempt at opening a source.
type Opener interface {
	Open(ctx context.Context) (Source, error)
}

// Connector opens a Source with a bounded number of attempts.
type Connector struct {
	opener     Opener
	maxRetries int
	retryDelay time.Duration
	logger     *logger.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewConnector creates a Connector using MaxRetries and CameraRetryDelay.
func NewConnector(opener Opener, config *config.Config, logger *logger.Logger) *Connector {
	maxRetries := config.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Connector{
		opener:     opener,
		maxRetries: maxRetries,
		retryDelay: config.CameraRetryDelay,
		logger:     logger,
		sleep:      clock.Sleep,
	}
}

// Connect tries the opener up to maxRetries times, waiting retryDelay
// between attempts. It fails with ErrConnection when every attempt failed,
// or with the context error when ctx ends first.
func (c *Connector) Connect(ctx context.Context) (Source, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.logger.Info("Attempting to connect to camera (attempt %d/%d)", attempt, c.maxRetries)
		source, err := c.opener.Open(ctx)
		if err == nil {
			c.logger.Info("Successfully connected to camera")
			return source, nil
		}
		lastErr = err
		c.logger.Warning("Failed to open camera on attempt %d: %v", attempt, err)

		if attempt < c.maxRetries {
			if err := c.sleep(ctx, c.retryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrConnection, c.maxRetries, lastErr)
}
