// Package engine implements the dispatcher loop, execution orchestration,
// and in-process Engine API (§6) that every other component is wired
// into: admission, placement, local container execution, single-remote
// and split-distributed dispatch, and result/status bookkeeping.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/foglayer/dispatchd/internal/combine"
	"github.com/foglayer/dispatchd/internal/container"
	"github.com/foglayer/dispatchd/internal/dispatch"
	"github.com/foglayer/dispatchd/internal/images"
	"github.com/foglayer/dispatchd/internal/ledger"
	"github.com/foglayer/dispatchd/internal/placement"
	"github.com/foglayer/dispatchd/internal/registry"
	"github.com/foglayer/dispatchd/internal/task"
)

// ErrQueueFull is returned by Submit when the admission queue is at
// capacity (§4.6, Open Question 4's resolution).
var ErrQueueFull = errors.New("admission queue is full")

// ErrNotFound is returned by Status for an unknown task identifier.
var ErrNotFound = errors.New("task not found")

// Config is the set of capabilities and tunables the Engine is built
// from. Every field is a dependency the rest of the repository
// implements; the Engine itself only orchestrates them.
type Config struct {
	Ledger                   *ledger.Ledger
	Registry                 *registry.Registry
	Images                   *images.Map
	Combiners                *combine.Registry
	Runtime                  container.Runtime
	DispatchClient           *dispatch.Client
	ScratchRoot              string
	ContainerNamePrefix      string
	MaxConcurrentTasks       int
	AdmissionQueueCapacity   int
	RemoteDispatchTimeoutPad time.Duration
	Logger                   *zap.Logger
}

// Engine is the long-lived dispatcher: it owns the admission queue,
// the task map, and the worker pool, and runs the dispatcher loop from
// §4.6 once Start is called.
type Engine struct {
	mu    sync.Mutex // guards queue and tasks, per §5
	queue []string
	tasks map[string]*task.Task

	ledger    *ledger.Ledger
	registry  *registry.Registry
	images    *images.Map
	combiners *combine.Registry
	runtime   container.Runtime
	dispatch  *dispatch.Client

	scratchRoot string
	namePrefix  string

	queueCap         int
	sem              chan struct{}
	inFlight         int64 // atomic, §4.6's in-flight counter
	remoteTimeoutPad time.Duration

	logger *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs an Engine. It does not start the dispatcher loop;
// call Start for that.
func New(cfg Config) *Engine {
	if cfg.AdmissionQueueCapacity <= 0 {
		cfg.AdmissionQueueCapacity = 1024
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 1
	}
	return &Engine{
		tasks:            make(map[string]*task.Task),
		ledger:           cfg.Ledger,
		registry:         cfg.Registry,
		images:           cfg.Images,
		combiners:        cfg.Combiners,
		runtime:          cfg.Runtime,
		dispatch:         cfg.DispatchClient,
		scratchRoot:      cfg.ScratchRoot,
		namePrefix:       cfg.ContainerNamePrefix,
		queueCap:         cfg.AdmissionQueueCapacity,
		sem:              make(chan struct{}, cfg.MaxConcurrentTasks),
		remoteTimeoutPad: cfg.RemoteDispatchTimeoutPad,
		logger:           cfg.Logger,
		stop:             make(chan struct{}),
	}
}

// Submit enqueues a fully-constructed task and returns its identifier
// immediately; it never blocks on execution (§6). It returns
// ErrQueueFull rather than blocking when the admission queue is at
// capacity.
func (e *Engine) Submit(spec task.Spec) (string, error) {
	t, err := task.New(spec)
	if err != nil {
		return "", fmt.Errorf("invalid task submission: %w", err)
	}

	e.mu.Lock()
	select {
	case <-e.stop:
		e.mu.Unlock()
		return "", errors.New("engine is stopped")
	default:
	}
	if len(e.queue) >= e.queueCap {
		e.mu.Unlock()
		return "", ErrQueueFull
	}
	e.tasks[t.ID] = t
	e.queue = append(e.queue, t.ID)
	e.mu.Unlock()

	e.logger.Info("task submitted", zap.String("task_id", t.ID), zap.String("type", t.Type))
	return t.ID, nil
}

// Status returns a snapshot of the task's current fields, per §6.
func (e *Engine) Status(id string) (task.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return task.Task{}, ErrNotFound
	}
	return *t, nil
}

// InFlight returns the current in-flight task count, for property 3's
// "never exceeds max_concurrent_tasks" check.
func (e *Engine) InFlight() int {
	return int(atomic.LoadInt64(&e.inFlight))
}

// Start launches the dispatcher loop in the background.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.dispatchLoop()
}

// Stop signals the dispatcher loop to exit and waits for in-flight
// workers to finish. No new tasks are accepted once Stop is called —
// graceful shutdown with admission rejection, per §5's note that
// implementers should add this when a shutdown signal exists.
func (e *Engine) Stop() {
	close(e.stop)
	e.wg.Wait()
}

// dispatchLoop is the long-lived background worker from §4.6: pop the
// head of the queue when a worker slot is free, otherwise sleep ~100ms
// and recheck. Each popped task runs on its own worker goroutine; a
// panic escaping a task's execution is recovered and logged there, and
// that worker keeps its slot for ~1s before releasing it. Structurally
// the same shape as the teacher's JobConsumer.fetchLoop.
func (e *Engine) dispatchLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		default:
		}

		id, acquired := e.tryPop()
		if !acquired {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		e.wg.Add(1)
		go func(taskID string) {
			defer e.wg.Done()
			defer func() { <-e.sem }()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("panic during task execution", zap.String("task_id", taskID), zap.Any("panic", r))
					time.Sleep(time.Second)
				}
			}()
			e.execute(taskID)
		}(id)
	}
}

// tryPop atomically claims a worker slot and pops the queue head if
// both a slot and a queued task are available.
func (e *Engine) tryPop() (string, bool) {
	select {
	case e.sem <- struct{}{}:
	default:
		return "", false
	}

	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		<-e.sem
		return "", false
	}
	id := e.queue[0]
	e.queue = e.queue[1:]
	e.mu.Unlock()
	return id, true
}

// execute runs the full placement-then-execution procedure for one
// task, from Scheduling through to a terminal state.
func (e *Engine) execute(id string) {
	e.mu.Lock()
	t := e.tasks[id]
	t.Status = task.StatusScheduling
	e.mu.Unlock()

	plan, ok := placement.Decide(t, e.ledger, e.registry)
	if !ok {
		e.fail(t, task.Fail(task.ErrNoPlacement, errors.New("no local, remote, or split placement fits the task's estimates")))
		return
	}

	e.mu.Lock()
	t.Status = task.StatusRunning
	t.AssignedNodes = nodeIDs(plan.Nodes)
	e.mu.Unlock()

	atomic.AddInt64(&e.inFlight, 1)
	defer atomic.AddInt64(&e.inFlight, -1)

	switch plan.Kind {
	case placement.Local:
		e.runLocal(t)
	case placement.Remote:
		e.runRemote(t, plan.Nodes[0])
	case placement.Split:
		e.runSplit(t, plan.Nodes)
	}
}

func nodeIDs(nodes []registry.Node) []string {
	if len(nodes) == 0 {
		return nil
	}
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// succeed records result and transitions the task to Completed. The
// result write is ordered before the status write, under one critical
// section, so no reader observes Completed with no result (§5).
func (e *Engine) succeed(t *task.Task, result json.RawMessage) {
	e.mu.Lock()
	t.Result = result
	t.Status = task.StatusCompleted
	e.mu.Unlock()
	e.logger.Info("task completed", zap.String("task_id", t.ID))
}

// fail records execErr's message and transitions the task to Failed.
func (e *Engine) fail(t *task.Task, execErr *task.ExecutionError) {
	e.mu.Lock()
	t.LastError = execErr.Error()
	t.Status = task.StatusFailed
	e.mu.Unlock()
	e.logger.Error("task failed", zap.String("task_id", t.ID), zap.String("kind", string(execErr.Kind)), zap.Error(execErr))
}

// contextForDeadline builds a context bound to a wall-clock deadline
// derived from seconds, the unit tasks carry their limits in.
func contextForDeadline(seconds int, pad time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(seconds)*time.Second+pad)
}
