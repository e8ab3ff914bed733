package healthchecker

import (
	"context"
	"fmt"
	"os/exec"

	log "github.com/sirupsen/logrus"
)

// HealthChecker decides whether the running bundle may be confirmed.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type shellHealthChecker struct {
	cmd []string
}

func (s *shellHealthChecker) HealthCheck(ctx context.Context) error {
	if len(s.cmd) == 0 {
		log.Debug("no command to execute, assuming healthy")
		return nil
	}
	out, err := exec.CommandContext(ctx, s.cmd[0], s.cmd[1:]...).CombinedOutput()
	if err != nil {
		log.WithError(err).Debugf("health check output: %s", out)
		return fmt.Errorf("health check %q failed: %w", s.cmd[0], err)
	}
	return nil
}

// NewShellHealthChecker runs cmd and treats a zero exit code as healthy.
// An empty cmd is always healthy.
func NewShellHealthChecker(cmd []string) HealthChecker {
	return &shellHealthChecker{
		cmd: cmd,
	}
}

// Func adapts a function to the HealthChecker interface.
type Func func(ctx context.Context) error

func (f Func) HealthCheck(ctx context.Context) error {
	return f(ctx)
}
