package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/foglayer/dispatchd/internal/container"
	"github.com/foglayer/dispatchd/internal/scratch"
	"github.com/foglayer/dispatchd/internal/task"
)

// cpuPeriodMicros is the fixed 100ms period local container quotas are
// expressed over, per §4.5.1 step 4.
const cpuPeriodMicros = 100000

// runLocal implements §4.5.1: derive an image, materialise a scratch
// area, launch the container with enforced CPU/RAM limits, wait for it
// to exit within the deadline, and read back its output. Cleanup is
// unconditional on every exit path.
func (e *Engine) runLocal(t *task.Task) {
	if err := e.ledger.Reserve(t.Resources); err != nil {
		e.fail(t, task.Fail(task.ErrInternalError, err))
		return
	}
	defer e.ledger.Release(t.Resources)

	dir, err := scratch.Create(e.scratchRoot, t.ID)
	if err != nil {
		e.fail(t, task.Fail(task.ErrInternalError, fmt.Errorf("failed to allocate scratch area: %w", err)))
		return
	}
	defer func() {
		if err := dir.Cleanup(); err != nil {
			e.logger.Warn("failed to clean up scratch area", zap.String("task_id", t.ID), zap.Error(err))
		}
	}()

	if err := dir.WriteInput(t.Input); err != nil {
		e.fail(t, task.Fail(task.ErrInternalError, fmt.Errorf("failed to write task input: %w", err)))
		return
	}

	spec := container.Spec{
		Name:          e.namePrefix + t.ID,
		Image:         e.images.Resolve(t.Type),
		Cmd:           []string{"python", "/app/run.py", "--input", scratch.InputMountPath, "--output", scratch.OutputMountPath},
		MountHostPath: dir.Path,
		MountPoint:    scratch.MountPoint,
		MemoryMiB:     t.Resources.RAM.Mul(decimal.NewFromInt(1024)).IntPart(),
		CPUQuotaUs:    t.Resources.CPU.Mul(decimal.NewFromInt(cpuPeriodMicros)).IntPart(),
		CPUPeriodUs:   cpuPeriodMicros,
		Deadline:      time.Duration(t.MaxExecutionTime) * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), spec.Deadline)
	defer cancel()

	result, runErr := e.runtime.Run(ctx, spec)
	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.fail(t, task.Fail(task.ErrContainerTimeout, fmt.Errorf("container exceeded max_execution_time of %ds", t.MaxExecutionTime)))
			return
		}
		e.fail(t, task.Fail(task.ErrInternalError, runErr))
		return
	}
	if result.ExitCode != 0 {
		e.fail(t, task.Fail(task.ErrContainerNonZero, fmt.Errorf("container exited with status %d", result.ExitCode)))
		return
	}

	raw, err := dir.ReadOutput()
	if err != nil {
		e.fail(t, task.Fail(task.ErrOutputUnparsable, err))
		return
	}
	var probe interface{}
	if err := json.Unmarshal(raw, &probe); err != nil {
		e.fail(t, task.Fail(task.ErrOutputUnparsable, err))
		return
	}

	e.succeed(t, raw)
}
