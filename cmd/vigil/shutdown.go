package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"vigil/internal/logging"
)

type shutdownPhase struct {
	name string
	stop func(context.Context) error
}

// shutdownCoordinator runs teardown steps in the order they were added.
// Run executes the sequence exactly once; later calls are no-ops, so a
// deferred safety run can coexist with an explicit ordered one.
type shutdownCoordinator struct {
	logger *logging.Logger
	once   sync.Once
	phases []shutdownPhase
}

func newShutdownCoordinator(logger *logging.Logger) *shutdownCoordinator {
	return &shutdownCoordinator{logger: logger}
}

func (c *shutdownCoordinator) Add(name string, stop func(context.Context) error) {
	if c == nil || stop == nil {
		return
	}
	c.phases = append(c.phases, shutdownPhase{name: name, stop: stop})
}

// Run stops every phase, continuing past failures and joining their
// errors.
func (c *shutdownCoordinator) Run(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var runErr error
	c.once.Do(func() {
		for _, phase := range c.phases {
			if c.logger != nil {
				c.logger.Debug("shutdown phase", map[string]string{"phase": phase.name})
			}
			if err := phase.stop(ctx); err != nil {
				runErr = errors.Join(runErr, fmt.Errorf("%s: %w", phase.name, err))
				if c.logger != nil {
					c.logger.Warn("shutdown phase failed", map[string]string{
						"phase": phase.name,
						"error": err.Error(),
					})
				}
			}
		}
	})
	return runErr
}
