package container

import (
	"context"
	"os"
	"path/filepath"
	"sync"
)

// FakeRuntime is a deterministic, in-memory Runtime double for tests
// that don't want a real Docker daemon (Design Notes §9). It records
// every Spec it was asked to run and returns canned exit codes, errors,
// and outputs keyed by image, falling back to a default exit code; Hang
// simulates a timeout for every run regardless of image.
type FakeRuntime struct {
	mu sync.Mutex

	// ExitCodes maps image -> exit code to return for containers run
	// against that image. Missing entries return DefaultExitCode.
	ExitCodes map[string]int
	// Errs maps image -> error to return instead of a Result.
	Errs map[string]error
	// Outputs maps image -> raw JSON written to the mount's output.json
	// before Run returns, simulating the container contract's output
	// file (§6). Missing entries leave no output file behind, the same
	// as a container that never wrote one.
	Outputs map[string][]byte
	// DefaultExitCode is returned for images absent from ExitCodes.
	DefaultExitCode int
	// Hang, if set, makes Run block until ctx is done and return
	// ctx.Err(), simulating a container that never exits — used to
	// exercise the deadline path without a real clock dependency.
	Hang bool

	Runs []Spec
}

// NewFakeRuntime returns a FakeRuntime that succeeds with exit code 0
// for every image unless overridden.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		ExitCodes: make(map[string]int),
		Errs:      make(map[string]error),
		Outputs:   make(map[string][]byte),
	}
}

func (f *FakeRuntime) Run(ctx context.Context, spec Spec) (Result, error) {
	f.mu.Lock()
	f.Runs = append(f.Runs, spec)
	f.mu.Unlock()

	if f.Hang {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}

	if err, ok := f.Errs[spec.Image]; ok {
		return Result{}, err
	}

	if out, ok := f.Outputs[spec.Image]; ok && spec.MountHostPath != "" {
		_ = os.WriteFile(filepath.Join(spec.MountHostPath, "output.json"), out, 0644)
	}

	if code, ok := f.ExitCodes[spec.Image]; ok {
		return Result{ExitCode: code}, nil
	}
	return Result{ExitCode: f.DefaultExitCode}, nil
}

// RunCount returns how many times Run was called.
func (f *FakeRuntime) RunCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Runs)
}
