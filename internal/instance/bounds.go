package instance

import (
	"errors"
	"fmt"
)

var (
	// ErrCycle means the precedence relation contains a cycle.
	ErrCycle = errors.New("precedence graph has a cycle")
	// ErrOverCapacity means a positive-duration task demands more than a resource offers.
	ErrOverCapacity = errors.New("task demand exceeds resource capacity")
)

// TopoOrder returns a topological order of the tasks (Kahn's algorithm,
// lowest index first among ready tasks).
func TopoOrder(p *Problem) ([]int, error) {
	n := p.TaskCount()
	inDegree := make([]int, n)
	for _, t := range p.Tasks {
		for _, s := range t.Successors {
			inDegree[s]++
		}
	}

	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]int, 0, n)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, s := range p.Tasks[node].Successors {
			inDegree[s]--
			if inDegree[s] == 0 {
				queue = append(queue, s)
			}
		}
	}

	if len(order) != n {
		return nil, fmt.Errorf("%w (%d of %d tasks sorted)", ErrCycle, len(order), n)
	}
	return order, nil
}

// Tails returns, for every task, the length of the longest precedence chain
// starting with that task (its own duration included).
func Tails(p *Problem, order []int) []int {
	tails := make([]int, p.TaskCount())
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		best := 0
		for _, s := range p.Tasks[id].Successors {
			if tails[s] > best {
				best = tails[s]
			}
		}
		tails[id] = p.Tasks[id].Duration + best
	}
	return tails
}

// CriticalPath returns the length of the longest precedence chain, ignoring
// resources.
func CriticalPath(p *Problem) (int, error) {
	order, err := TopoOrder(p)
	if err != nil {
		return 0, err
	}
	longest := 0
	for _, t := range Tails(p, order) {
		if t > longest {
			longest = t
		}
	}
	return longest, nil
}

// CheckCapacity reports the first positive-duration task whose demand
// exceeds a capacity.
func CheckCapacity(p *Problem) error {
	for i, t := range p.Tasks {
		if t.Duration == 0 {
			continue
		}
		for r, q := range t.Demands {
			if q > p.Capacities[r] {
				return fmt.Errorf("%w: task %d needs %d of resource %d (capacity %d)", ErrOverCapacity, i+1, q, r+1, p.Capacities[r])
			}
		}
	}
	return nil
}

// DeriveBounds computes a search range for an instance that does not carry
// one. The lower bound is the larger of the critical path and the per-resource
// energy bound; the upper bound is the serial schedule length.
func DeriveBounds(p *Problem) (SearchRange, error) {
	if err := CheckCapacity(p); err != nil {
		return SearchRange{}, err
	}
	lower, err := CriticalPath(p)
	if err != nil {
		return SearchRange{}, err
	}

	upper := 0
	for _, t := range p.Tasks {
		upper += t.Duration
	}

	for r, c := range p.Capacities {
		energy := 0
		for _, t := range p.Tasks {
			energy += t.Duration * t.Demands[r]
		}
		if energy == 0 || c == 0 {
			continue
		}
		if lb := (energy + c - 1) / c; lb > lower {
			lower = lb
		}
	}

	return NewSearchRange(lower, upper)
}
