// Package container abstracts the container runtime the local execution
// path depends on. It is injected as a capability at engine construction
// (Design Notes §9, "Singleton container client"); the production
// implementation wraps the Docker client, and tests substitute FakeRuntime.
package container

import (
	"context"
	"time"
)

// Spec describes the container the local execution path (§4.5.1) wants
// run: an image, a command, a single read-write bind mount at a fixed
// mount point, and the resource limits derived from the task's estimates.
type Spec struct {
	Name          string
	Image         string
	Cmd           []string
	MountHostPath string
	MountPoint    string
	MemoryMiB     int64
	CPUQuotaUs    int64 // numerator of the CPU quota, denominator is CPUPeriodUs
	CPUPeriodUs   int64
	Deadline      time.Duration
}

// Result is the outcome of running a container to completion.
type Result struct {
	ExitCode int
}

// Runtime runs one container to completion or to its deadline.
// Implementations must guarantee Run never leaves a container behind on
// any return path, including ctx cancellation.
type Runtime interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}
