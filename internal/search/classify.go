package search

import (
	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
)

// Kind is the category of a search outcome.
type Kind string

const (
	KindOptimal       Kind = "optimal"
	KindFeasible      Kind = "feasible"
	KindInfeasible    Kind = "infeasible"
	KindIndeterminate Kind = "indeterminate"
)

// Outcome is the classified result of one search. Makespan is set only for
// optimal and feasible outcomes.
type Outcome struct {
	Kind     Kind
	Makespan *int
}

// Classify maps a trace to an outcome:
//
//	no feasible bound, proven infeasible, not timed out -> infeasible
//	no feasible bound otherwise                          -> indeterminate
//	best == lower and not timed out                      -> optimal
//	best > lower or timed out                            -> feasible
func Classify(tr Trace) Outcome {
	if !tr.Searched {
		return Outcome{Kind: KindIndeterminate}
	}

	if tr.Best == nil {
		if !tr.TimedOut && tr.InfeasibleAt != nil {
			return Outcome{Kind: KindInfeasible}
		}
		return Outcome{Kind: KindIndeterminate}
	}

	best := *tr.Best
	if best == tr.Lower && !tr.TimedOut {
		return Outcome{Kind: KindOptimal, Makespan: types.IntPtr(best)}
	}
	return Outcome{Kind: KindFeasible, Makespan: types.IntPtr(best)}
}

// Status renders the outcome in the result taxonomy.
// Indeterminate is written as "unknown".
func (o Outcome) Status() types.Status {
	switch o.Kind {
	case KindOptimal:
		return types.StatusOptimal
	case KindFeasible:
		return types.StatusFeasible
	case KindInfeasible:
		return types.StatusInfeasible
	default:
		return types.StatusUnknown
	}
}
