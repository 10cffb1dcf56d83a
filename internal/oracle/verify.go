package oracle

import (
	"fmt"

	"github.com/ChuLiYu/rcpsp-batch/internal/instance"
)

// Verify checks that starts is a complete schedule of p meeting precedence,
// capacity and the makespan bound.
func Verify(p *instance.Problem, starts []int, bound int) error {
	if len(starts) != p.TaskCount() {
		return fmt.Errorf("schedule has %d start times for %d tasks", len(starts), p.TaskCount())
	}

	for i, s := range starts {
		if s < 0 {
			return fmt.Errorf("task %d has negative start %d", i+1, s)
		}
		finish := s + p.Tasks[i].Duration
		if finish > bound {
			return fmt.Errorf("task %d finishes at %d after bound %d", i+1, finish, bound)
		}
		for _, succ := range p.Tasks[i].Successors {
			if starts[succ] < finish {
				return fmt.Errorf("task %d starts at %d before predecessor %d finishes at %d", succ+1, starts[succ], i+1, finish)
			}
		}
	}

	makespan := Makespan(p, starts)
	for r, c := range p.Capacities {
		profile := make([]int, makespan+1)
		for i, t := range p.Tasks {
			for tau := starts[i]; tau < starts[i]+t.Duration; tau++ {
				profile[tau] += t.Demands[r]
			}
		}
		for tau, used := range profile {
			if used > c {
				return fmt.Errorf("resource %d overloaded at time %d: %d > %d", r+1, tau, used, c)
			}
		}
	}
	return nil
}
