package winsvc

import (
	"context"
	"fmt"

	logpkg "github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/domain"
	"github.com/haukened/rr-shield/internal/shield/gateways/sysexec"
)

// Controller stops and permanently disables services. Both operations
// require elevation; without it the underlying commands fail and surface as
// ErrServiceControl for the specific service.
type Controller struct {
	runner sysexec.Runner
	logger logpkg.Logger
}

// NewController constructs a Controller over the given runner.
func NewController(runner sysexec.Runner, logger logpkg.Logger) *Controller {
	return &Controller{runner: runner, logger: logger}
}

// StopAndDisable stops the named service and sets its start type to
// disabled, as two sequential OS calls. Any failure returns
// ErrServiceControl carrying the service name; the error never aggregates
// across services, so batch callers handle each independently.
func (c *Controller) StopAndDisable(ctx context.Context, name string) error {
	if _, err := c.runner.Run(ctx, "net", "stop", name); err != nil {
		c.logger.Error(map[string]any{"service": name, "error": err.Error()}, "service_stop_failed")
		return fmt.Errorf("%w: %s: stop: %v", domain.ErrServiceControl, name, err)
	}
	if _, err := c.runner.Run(ctx, "sc", "config", name, "start=", "disabled"); err != nil {
		c.logger.Error(map[string]any{"service": name, "error": err.Error()}, "service_disable_failed")
		return fmt.Errorf("%w: %s: disable: %v", domain.ErrServiceControl, name, err)
	}
	c.logger.Info(map[string]any{"service": name}, "service_stopped_and_disabled")
	return nil
}
