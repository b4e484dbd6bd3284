// Package task defines the Task record: the immutable descriptor plus
// mutable lifecycle fields that flow through admission, placement, and
// execution.
package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is a task's position in the state machine described in
// component design §4.4. There are no backward transitions; Completed
// and Failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduling Status = "scheduling"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is one of the two terminal states.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Resources is the triple of CPU cores, RAM gigabytes, and GPU units
// (0..1 inclusive) a task estimates it needs, or the ledger's
// uncommitted capacity. decimal.Decimal is used instead of float64 so
// that repeated reserve/release cycles land back on the exact initial
// value instead of drifting.
type Resources struct {
	CPU decimal.Decimal `json:"cpu_cores"`
	RAM decimal.Decimal `json:"ram_gb"`
	GPU decimal.Decimal `json:"gpu_units"`
}

// Fits reports whether avail covers r in every dimension.
func (r Resources) Fits(avail Resources) bool {
	return avail.CPU.GreaterThanOrEqual(r.CPU) &&
		avail.RAM.GreaterThanOrEqual(r.RAM) &&
		avail.GPU.GreaterThanOrEqual(r.GPU)
}

// Add returns the element-wise sum of r and other.
func (r Resources) Add(other Resources) Resources {
	return Resources{
		CPU: r.CPU.Add(other.CPU),
		RAM: r.RAM.Add(other.RAM),
		GPU: r.GPU.Add(other.GPU),
	}
}

// Sub returns the element-wise difference r - other.
func (r Resources) Sub(other Resources) Resources {
	return Resources{
		CPU: r.CPU.Sub(other.CPU),
		RAM: r.RAM.Sub(other.RAM),
		GPU: r.GPU.Sub(other.GPU),
	}
}

// Validate enforces the non-negativity invariant from §3, plus the
// [0,1] range on GPU.
func (r Resources) Validate() error {
	zero := decimal.Zero
	one := decimal.NewFromInt(1)
	if r.CPU.LessThan(zero) {
		return fmt.Errorf("cpu estimate must be non-negative, got %s", r.CPU)
	}
	if r.RAM.LessThan(zero) {
		return fmt.Errorf("ram estimate must be non-negative, got %s", r.RAM)
	}
	if r.GPU.LessThan(zero) || r.GPU.GreaterThan(one) {
		return fmt.Errorf("gpu estimate must be in [0,1], got %s", r.GPU)
	}
	return nil
}

// Task is one unit of work as it flows from admission through placement
// and execution. The identifier is assigned at construction and never
// changes; no field is written by more than one owner at a time (see
// the concurrency discipline in internal/engine).
type Task struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	Input            *InputData      `json:"input"`
	Resources        Resources       `json:"resources"`
	Divisible        bool            `json:"divisible"`
	MaxExecutionTime int             `json:"max_execution_time_seconds"`
	Status           Status          `json:"status"`
	CreatedAt        int64           `json:"created_at"`
	AssignedNodes    []string        `json:"assigned_nodes"`
	Result           json.RawMessage `json:"result,omitempty"`
	LastError        string          `json:"last_error,omitempty"`
}

// Spec is the client-supplied description of a task to submit; New
// derives a Task from it, assigning the identifier and initial state.
type Spec struct {
	Type             string
	Input            *InputData
	Resources        Resources
	Divisible        bool
	MaxExecutionTime int
}

// New constructs a Task from a Spec, validating the invariants from §3:
// a positive max execution time and non-negative, in-range resource
// estimates. The identifier is a fresh UUID, unique across the process
// lifetime.
func New(spec Spec) (*Task, error) {
	if spec.MaxExecutionTime <= 0 {
		return nil, fmt.Errorf("max_execution_time must be positive, got %d", spec.MaxExecutionTime)
	}
	if err := spec.Resources.Validate(); err != nil {
		return nil, err
	}
	if spec.Input == nil {
		spec.Input = NewInputData()
	}

	return &Task{
		ID:               uuid.NewString(),
		Type:             spec.Type,
		Input:            spec.Input,
		Resources:        spec.Resources,
		Divisible:        spec.Divisible,
		MaxExecutionTime: spec.MaxExecutionTime,
		Status:           StatusPending,
		CreatedAt:        time.Now().Unix(),
		AssignedNodes:    nil,
	}, nil
}
