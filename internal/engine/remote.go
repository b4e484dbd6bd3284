package engine

import (
	"encoding/json"
	"fmt"

	"github.com/foglayer/dispatchd/internal/dispatch"
	"github.com/foglayer/dispatchd/internal/registry"
	"github.com/foglayer/dispatchd/internal/task"
)

// runRemote implements §4.5.2: POST the task to the chosen node's
// /execute_task endpoint with a timeout of max_execution_time plus the
// configured pad, and interpret its response.
func (e *Engine) runRemote(t *task.Task, node registry.Node) {
	results, err := e.dispatchOne(t, t.ID, t.Input, node)
	if err != nil {
		e.fail(t, err)
		return
	}
	e.succeed(t, results)
}

// dispatchOne builds and sends one dispatch request for subtaskID
// against node, returning the decoded result or a classified
// *task.ExecutionError on any failure.
func (e *Engine) dispatchOne(t *task.Task, subtaskID string, input *task.InputData, node registry.Node) (json.RawMessage, *task.ExecutionError) {
	inputRaw, err := json.Marshal(input)
	if err != nil {
		return nil, task.Fail(task.ErrInternalError, fmt.Errorf("failed to marshal input for subtask %s: %w", subtaskID, err))
	}

	req := dispatch.Request{
		TaskID:           subtaskID,
		TaskType:         t.Type,
		InputData:        inputRaw,
		DockerImage:      e.images.Resolve(t.Type),
		MaxExecutionTime: t.MaxExecutionTime,
	}

	ctx, cancel := contextForDeadline(t.MaxExecutionTime, e.remoteTimeoutPad)
	defer cancel()

	resp, err := e.dispatch.Execute(ctx, node.Host, node.Port, req)
	if err != nil {
		return nil, task.Fail(task.ErrRemoteHTTPError, err)
	}
	if resp.Status != dispatch.StatusCompleted {
		errMsg := resp.Error
		if errMsg == "" {
			errMsg = fmt.Sprintf("remote node reported status %q", resp.Status)
		}
		return nil, task.Fail(task.ErrRemoteReportedFailure, fmt.Errorf("%s", errMsg))
	}
	return resp.Results, nil
}
