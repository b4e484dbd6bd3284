// Package placement implements the four-step decision procedure from
// component design §4.3: local fit, single-remote fit, split, reject.
package placement

import (
	"github.com/foglayer/dispatchd/internal/ledger"
	"github.com/foglayer/dispatchd/internal/registry"
	"github.com/foglayer/dispatchd/internal/task"
)

// Kind identifies which of the three viable plans was chosen.
type Kind string

const (
	Local  Kind = "local"
	Remote Kind = "remote"
	Split  Kind = "split"
)

// Plan is the outcome of a successful placement decision.
type Plan struct {
	Kind  Kind
	Nodes []registry.Node // empty for Local, one entry for Remote, >=1 for Split
}

// Decide runs the §4.3 procedure for t against the local ledger and the
// static node registry. The zero Plan with ok=false means step 4 was
// reached: no local, remote, or split plan fits, and the caller must
// transition the task to Failed with task.ErrNoPlacement.
func Decide(t *task.Task, l *ledger.Ledger, reg *registry.Registry) (Plan, bool) {
	// Step 1: local fit.
	if l.Fits(t.Resources) {
		return Plan{Kind: Local}, true
	}

	// Step 2: single remote fit. First returned descriptor wins, in
	// registration order, per §4.3 — preferred over split even when
	// both fit, to avoid split's coordination and combine overhead.
	if fitting := reg.Fitting(t.Resources); len(fitting) > 0 {
		return Plan{Kind: Remote, Nodes: fitting[:1]}, true
	}

	// Step 3: split. Only considered for divisible tasks.
	if t.Divisible {
		if nodes, ok := greedySplit(t.Resources, reg); ok {
			return Plan{Kind: Split, Nodes: nodes}, true
		}
	}

	// Step 4: reject.
	return Plan{}, false
}

// greedySplit sorts active nodes by advertised cpu+ram descending
// (ties broken by registration order), then takes nodes from the head
// of that list, subtracting each one's advertised capacity from the
// remaining requirement, stopping the first time all three remaining
// requirements are <= 0. It reports ok=false if even the full active
// set's advertised capacity does not cover the requirement.
//
// Open Question 3's resolution (SPEC_FULL.md §4.3): if this loop
// happens to stop after exactly one node, the caller still reports
// Kind: Split with that single node, not Kind: Remote — step 2 has
// already run and failed against individual node capacities by the
// time this runs, so there is no rediscovered single-remote fit here.
func greedySplit(need task.Resources, reg *registry.Registry) ([]registry.Node, bool) {
	active := reg.ActiveNodes()
	sum := task.Resources{}
	for _, n := range active {
		sum = sum.Add(n.Resources)
	}
	if !need.Fits(sum) {
		return nil, false
	}

	sorted := registry.SortedByCapacityDesc(active)
	remaining := need
	chosen := make([]registry.Node, 0, len(sorted))
	for _, n := range sorted {
		chosen = append(chosen, n)
		remaining = remaining.Sub(n.Resources)
		if remaining.CPU.Sign() <= 0 && remaining.RAM.Sign() <= 0 && remaining.GPU.Sign() <= 0 {
			break
		}
	}
	return chosen, true
}
