package engine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/foglayer/dispatchd/internal/registry"
	"github.com/foglayer/dispatchd/internal/task"
)

// runSplit implements §4.5.3: partition the task's ordered input into
// N contiguous chunks, dispatch one subtask per chunk to its assigned
// node concurrently, and combine the N results in index order once
// every subtask has succeeded.
func (e *Engine) runSplit(t *task.Task, nodes []registry.Node) {
	n := len(nodes)
	chunks := chunkInputData(t.Input, n)

	results := make([]json.RawMessage, n)
	errs := make([]*task.ExecutionError, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subtaskID := fmt.Sprintf("%s-%d", t.ID, i)
			res, err := e.dispatchOne(t, subtaskID, chunks[i], nodes[i])
			results[i] = res
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			e.fail(t, task.Fail(err.Kind, fmt.Errorf("subtask %d: %w", i, err.Err)))
			return
		}
	}

	combined, err := e.combiners.For(t.Type)(results)
	if err != nil {
		e.fail(t, task.Fail(task.ErrInternalError, fmt.Errorf("combiner failed: %w", err)))
		return
	}
	e.succeed(t, combined)
}

// chunkInputData partitions input's ordered key sequence into n
// contiguous chunks of size floor(len/n), the final chunk absorbing
// the remainder, per §4.5.3 step 1.
func chunkInputData(input *task.InputData, n int) []*task.InputData {
	total := input.Len()
	base := total / n
	chunks := make([]*task.InputData, n)
	lo := 0
	for i := 0; i < n; i++ {
		hi := lo + base
		if i == n-1 {
			hi = total
		}
		chunks[i] = input.Slice(lo, hi)
		lo = hi
	}
	return chunks
}
