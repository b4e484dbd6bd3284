// Package registry holds the static catalogue of remote worker nodes.
// It answers capability queries for the placement engine and never
// mutates after construction — there is no Register/Deregister method.
// Node activity is an advertised attribute here, not a live health
// probe: the registry trusts it, and the engine surfaces any remote
// dispatch failure through the task's result path instead.
package registry

import (
	"sort"

	"github.com/foglayer/dispatchd/internal/task"
)

// Node is one remote worker's immutable, advertised description.
type Node struct {
	ID        string
	Host      string
	Port      int
	Resources task.Resources
	Active    bool
}

// Registry is a read-only catalogue of Node, preserving registration order.
type Registry struct {
	nodes []Node
}

// New builds a Registry from nodes, in the given order.
func New(nodes []Node) *Registry {
	return &Registry{nodes: append([]Node(nil), nodes...)}
}

// Fitting returns every active node whose advertised capacity is at
// least r in every dimension, in registration order.
func (reg *Registry) Fitting(r task.Resources) []Node {
	out := make([]Node, 0, len(reg.nodes))
	for _, n := range reg.nodes {
		if n.Active && r.Fits(n.Resources) {
			out = append(out, n)
		}
	}
	return out
}

// ActiveNodes returns every active node, in registration order.
func (reg *Registry) ActiveNodes() []Node {
	out := make([]Node, 0, len(reg.nodes))
	for _, n := range reg.nodes {
		if n.Active {
			out = append(out, n)
		}
	}
	return out
}

// SortedByCapacityDesc returns nodes sorted by CPU+RAM descending, ties
// broken by registration order (stable sort over the already
// registration-ordered input), as required by the split placement step
// in §4.3.
func SortedByCapacityDesc(nodes []Node) []Node {
	out := append([]Node(nil), nodes...)
	sort.SliceStable(out, func(i, j int) bool {
		ci := out[i].Resources.CPU.Add(out[i].Resources.RAM)
		cj := out[j].Resources.CPU.Add(out[j].Resources.RAM)
		return ci.GreaterThan(cj)
	})
	return out
}
