// Package combine implements the pluggable result combiner for split
// execution (§4.5.3, Design Notes §9: "model it as a capability — a
// function value keyed on task-type — registered alongside the image
// mapping, rather than an inheritance hierarchy").
package combine

import (
	"encoding/json"
	"fmt"
)

// Func combines the N per-shard results, already in chunk-index order,
// into one combined result.
type Func func(shardResults []json.RawMessage) (json.RawMessage, error)

// Registry maps task type to its combiner, falling back to Default for
// any type that never registered one.
type Registry struct {
	byType map[string]Func
}

// NewRegistry builds an empty combiner registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]Func)}
}

// Register installs fn as the combiner for taskType.
func (r *Registry) Register(taskType string, fn Func) {
	r.byType[taskType] = fn
}

// For returns the combiner registered for taskType, or Default.
func (r *Registry) For(taskType string) Func {
	if fn, ok := r.byType[taskType]; ok {
		return fn
	}
	return Default
}

// Default returns the list of per-shard results unchanged, as an array.
func Default(shardResults []json.RawMessage) (json.RawMessage, error) {
	out, err := json.Marshal(shardResults)
	if err != nil {
		return nil, fmt.Errorf("default combiner: %w", err)
	}
	return out, nil
}

// MergeObjects is a type-aware combiner demonstrating the pluggability
// point from Design Notes §9: it merges the shard result objects
// key-wise into a single JSON object instead of returning a list.
// Registered for task type "aggregate-report".
func MergeObjects(shardResults []json.RawMessage) (json.RawMessage, error) {
	merged := make(map[string]interface{})
	for i, raw := range shardResults {
		var obj map[string]interface{}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("merge-objects combiner: shard %d is not a JSON object: %w", i, err)
		}
		for k, v := range obj {
			merged[k] = v
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("merge-objects combiner: %w", err)
	}
	return out, nil
}
