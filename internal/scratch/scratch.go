// Package scratch manages the per-task working directory the local
// execution path bind-mounts into the container: input.json goes in
// before the container starts, output.json is read back after it
// exits, and the whole directory is removed unconditionally once the
// task is done (§4.5.1 steps 2 and 7).
package scratch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	inputFile  = "input.json"
	outputFile = "output.json"
)

// Dir is one task's scratch workspace on the host filesystem.
type Dir struct {
	Path string
}

// Create makes a fresh workspace at {root}/{taskID} and returns it.
func Create(root, taskID string) (*Dir, error) {
	path := filepath.Join(root, taskID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir for task %s: %w", taskID, err)
	}
	return &Dir{Path: path}, nil
}

// WriteInput serialises input to {dir}/input.json for the container to read.
func (d *Dir) WriteInput(input interface{}) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal task input: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.Path, inputFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write input file: %w", err)
	}
	return nil
}

// ReadOutput reads and returns the raw bytes of {dir}/output.json, the
// file the container is expected to have written before exiting.
func (d *Dir) ReadOutput() (json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(d.Path, outputFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read output file: %w", err)
	}
	return json.RawMessage(data), nil
}

// MountPoint is where the scratch area is bind-mounted read-write
// inside the task container (§4.5.1 step 4). InputMountPath and
// OutputMountPath are the well-known paths within it that the
// container contract (§6) reads from and writes to.
const (
	MountPoint      = "/data"
	InputMountPath  = "/data/input.json"
	OutputMountPath = "/data/output.json"
)

// Cleanup removes the workspace and everything in it. It is called
// unconditionally, on every execution outcome, per §4.5.1 step 7.
func (d *Dir) Cleanup() error {
	return os.RemoveAll(d.Path)
}
