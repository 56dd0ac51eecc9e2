// Package gres models generic-resource (GRES) allocation state carried in
// job credentials: per-plugin counts indexed by node. The projection
// functions collapse job-wide state down to the slice a single node needs.
package gres

import "golang.org/x/exp/slices"

// State describes one generic resource allocated to a job or step.
type State struct {
	// Plugin names the resource type, e.g. "gpu" or "shard".
	Plugin string

	// TypeName optionally narrows the resource, e.g. "a100".
	TypeName string

	// CountPerNode holds the allocated count for each node, indexed by the
	// node's position in the job hostlist.
	CountPerNode []uint64
}

// List is a set of generic-resource states.
type List []State

// Clone deep-copies the list.
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	for i, s := range l {
		out[i] = State{
			Plugin:       s.Plugin,
			TypeName:     s.TypeName,
			CountPerNode: slices.Clone(s.CountPerNode),
		}
	}
	return out
}

// JobStateExtract returns the job GRES state for a single node. The result
// keeps one count per state, at index 0; a state with no count for
// nodeIndex gets a nil CountPerNode. A nil list yields nil.
func JobStateExtract(l List, nodeIndex int) List {
	return extract(l, nodeIndex)
}

// StepStateExtract returns the step GRES state for a single node.
func StepStateExtract(l List, nodeIndex int) List {
	return extract(l, nodeIndex)
}

func extract(l List, nodeIndex int) List {
	if l == nil {
		return nil
	}
	out := make(List, 0, len(l))
	for _, s := range l {
		node := State{
			Plugin:   s.Plugin,
			TypeName: s.TypeName,
		}
		if nodeIndex >= 0 && nodeIndex < len(s.CountPerNode) {
			node.CountPerNode = []uint64{s.CountPerNode[nodeIndex]}
		}
		out = append(out, node)
	}
	return out
}
