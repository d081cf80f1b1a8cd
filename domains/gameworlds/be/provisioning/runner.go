package provisioning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/service"
)

// ExecRunner runs installer processes on the host. The context deadline bounds each run;
// on expiry the process is killed and the run reported as an error.
type ExecRunner struct {
	// WaitDelay bounds how long output pipes may stay open after the process is killed.
	WaitDelay time.Duration
	Logger    *zap.Logger
}

func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{WaitDelay: 5 * time.Second, Logger: logger}
}

// Run executes name with args in dir and captures combined stdout and stderr.
func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (service.StepOutput, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = r.WaitDelay

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	started := time.Now()
	err := cmd.Run()
	res := service.StepOutput{Output: out.String()}
	// arguments carry the admin password; never log them
	logger := r.Logger.With(zap.String("process", name), zap.String("dir", dir), zap.Duration("elapsed", time.Since(started)))

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		logger.Error("process interrupted", zap.Error(ctxErr))
		return res, fmt.Errorf("%s: %w", name, ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		logger.Info("process finished", zap.Int("exit_code", 0))
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		logger.Warn("process exited non-zero", zap.Int("exit_code", res.ExitCode))
	default:
		res.ExitCode = -1
		return res, fmt.Errorf("run %s: %w", name, err)
	}
	return res, nil
}

var _ service.Runner = (*ExecRunner)(nil)
