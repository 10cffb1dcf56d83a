// ============================================================================
// RCPSP Problem Model
// ============================================================================
//
// Package: internal/instance
// File: problem.go
// Purpose: In-memory representation of one RCPSP instance
//
// Data Model:
//   Problem
//   ├── Capacities []int       one per renewable resource
//   ├── Tasks []Task           duration, demands, successors (0-based)
//   └── LowerBound/UpperBound  optional, only when the instance file carries them
//
// The model is read-only once parsed. It does not check the precedence graph
// for cycles: a cyclic instance is handed to the oracle unchanged and the
// oracle reports it as infeasible.
//
// ============================================================================

package instance

import (
	"errors"
	"fmt"
)

// ErrInvalidRange indicates lower > upper.
var ErrInvalidRange = errors.New("invalid search range")

// Task is one activity of the project.
type Task struct {
	Duration   int   // processing time
	Demands    []int // per-resource demand, len == ResourceCount
	Successors []int // 0-based indices of tasks that may start only after this one ends
}

// Problem is one RCPSP instance.
type Problem struct {
	Name       string
	Capacities []int
	Tasks      []Task
	LowerBound *int
	UpperBound *int
}

// TaskCount returns the number of tasks.
func (p *Problem) TaskCount() int {
	return len(p.Tasks)
}

// ResourceCount returns the number of renewable resources.
func (p *Problem) ResourceCount() int {
	return len(p.Capacities)
}

// Bounds returns the instance's own search range. ok is false when the
// instance does not carry both bounds or they are inconsistent.
func (p *Problem) Bounds() (SearchRange, bool) {
	if p.LowerBound == nil || p.UpperBound == nil {
		return SearchRange{}, false
	}
	rng, err := NewSearchRange(*p.LowerBound, *p.UpperBound)
	if err != nil {
		return SearchRange{}, false
	}
	return rng, true
}

// Predecessors builds the reverse adjacency list.
func (p *Problem) Predecessors() [][]int {
	preds := make([][]int, len(p.Tasks))
	for i, t := range p.Tasks {
		for _, s := range t.Successors {
			preds[s] = append(preds[s], i)
		}
	}
	return preds
}

// SearchRange is the candidate makespan interval [Lower, Upper].
type SearchRange struct {
	Lower int
	Upper int
}

// NewSearchRange validates lower <= upper.
func NewSearchRange(lower, upper int) (SearchRange, error) {
	if lower > upper {
		return SearchRange{}, fmt.Errorf("%w: lower %d > upper %d", ErrInvalidRange, lower, upper)
	}
	return SearchRange{Lower: lower, Upper: upper}, nil
}

// Width returns the number of candidate values in the range.
func (r SearchRange) Width() int {
	return r.Upper - r.Lower + 1
}
