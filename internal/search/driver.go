// ============================================================================
// Search Driver - minimum makespan under a global time budget
// ============================================================================
//
// Package: internal/search
// File: driver.go
// Purpose: Turn a feasibility oracle into a minimum-makespan search
//
// Precondition (monotonicity):
//   Feasibility is monotone non-decreasing in the makespan bound: a schedule
//   that meets bound m also meets every m' > m. The driver relies on this to
//   stop at the first infeasible bound while scanning downward.
//
// Linear descent (default):
//   for m := upper; m >= lower; m--
//     remaining := budget - elapsed
//     remaining <= 0  -> timed out, no further call
//     decide(m, max(remaining, floor))
//       feasible   -> best = m, continue downward
//       infeasible -> stop, best is final
//       timed_out  -> timed out, stop
//
// Bisection (opt-in):
//   Same budget accounting and verdict handling, probing the midpoint of the
//   still-open interval. O(log(upper-lower)) calls instead of O(upper-lower).
//
// Budget:
//   The budget covers the whole search. Each call's wall-clock cost is added
//   to elapsed; a call that overruns is never interrupted, so the total may
//   exceed the budget by at most the duration of that one call.
//
// ============================================================================

package search

import (
	"context"
	"fmt"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/internal/instance"
	"github.com/ChuLiYu/rcpsp-batch/internal/logging"
	"github.com/ChuLiYu/rcpsp-batch/internal/oracle"
	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
)

var log = logging.Component("search")

// Strategy selects how candidate bounds are visited.
type Strategy string

const (
	StrategyLinear Strategy = "linear"
	StrategyBisect Strategy = "bisect"
)

// ParseStrategy validates a strategy name. Empty means linear.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyLinear:
		return StrategyLinear, nil
	case StrategyBisect:
		return StrategyBisect, nil
	}
	return "", fmt.Errorf("unknown search strategy %q", s)
}

// Clock abstracts wall-clock time for budget accounting.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Call records one oracle invocation.
type Call struct {
	Bound    int
	Budget   time.Duration
	Verdict  types.Verdict
	Duration time.Duration
}

// Trace is everything the classifier needs from one search.
type Trace struct {
	Searched   bool // false when no valid range was available
	Lower      int
	Upper      int
	Best       *int  // smallest bound proven feasible
	BestStarts []int // schedule for Best, when the oracle produced one
	TimedOut   bool
	// InfeasibleAt is the largest bound proven infeasible, if any.
	InfeasibleAt *int
	Calls        []Call
	Elapsed      time.Duration
}

// Driver searches for the minimum feasible makespan.
type Driver struct {
	Oracle        oracle.Oracle
	// Budget is the total per instance and must be positive. The per-call
	// floor only applies once a call is issued: with Budget <= 0 no call is
	// made and the search ends timed out.
	Budget        time.Duration
	MinCallBudget time.Duration // floor for a single call
	Strategy      Strategy
	Clock         Clock
}

// NewDriver creates a linear-descent driver with the system clock.
func NewDriver(o oracle.Oracle, budget time.Duration) *Driver {
	return &Driver{
		Oracle:        o,
		Budget:        budget,
		MinCallBudget: oracle.MinCallBudget,
		Strategy:      StrategyLinear,
		Clock:         systemClock{},
	}
}

// Search runs the configured strategy over rng. A nil rng yields an
// unsearched trace. An error means the oracle failed; the partial trace is
// still returned.
func (d *Driver) Search(ctx context.Context, p *instance.Problem, rng *instance.SearchRange) (Trace, error) {
	if rng == nil || rng.Lower > rng.Upper {
		return Trace{}, nil
	}

	r := &run{
		driver: d,
		ctx:    ctx,
		p:      p,
		clock:  d.clock(),
		trace:  Trace{Searched: true, Lower: rng.Lower, Upper: rng.Upper},
	}

	var err error
	switch d.Strategy {
	case StrategyBisect:
		err = r.bisect()
	default:
		err = r.linear()
	}
	return r.trace, err
}

func (d *Driver) clock() Clock {
	if d.Clock == nil {
		return systemClock{}
	}
	return d.Clock
}

// run holds the mutable state of one instance's search.
type run struct {
	driver  *Driver
	ctx     context.Context
	p       *instance.Problem
	clock   Clock
	elapsed time.Duration
	trace   Trace
}

func (r *run) linear() error {
	for m := r.trace.Upper; m >= r.trace.Lower; m-- {
		verdict, ok, err := r.call(m)
		if err != nil {
			return err
		}
		// 單調性：第一個不可行的界限之下不必再試
		if !ok || verdict != types.VerdictFeasible {
			return nil
		}
	}
	return nil
}

// bisect keeps bounds above hi feasible (or untested beyond Upper) and bounds
// below lo infeasible.
func (r *run) bisect() error {
	lo, hi := r.trace.Lower, r.trace.Upper
	for lo <= hi {
		mid := lo + (hi-lo)/2
		verdict, ok, err := r.call(mid)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		switch verdict {
		case types.VerdictFeasible:
			hi = mid - 1
		case types.VerdictInfeasible:
			lo = mid + 1
		default:
			return nil
		}
	}
	return nil
}

// call issues one oracle call at bound m. ok is false when the search must
// stop: the budget is exhausted or the oracle timed out.
func (r *run) call(m int) (types.Verdict, bool, error) {
	remaining := r.driver.Budget - r.elapsed
	if remaining <= 0 {
		r.trace.TimedOut = true
		return "", false, nil
	}
	budget := oracle.FloorBudget(remaining, r.driver.MinCallBudget)

	start := r.clock.Now()
	decision, err := r.driver.Oracle.Decide(r.ctx, r.p, m, budget)
	cost := r.clock.Now().Sub(start)
	r.elapsed += cost
	r.trace.Elapsed = r.elapsed

	call := Call{Bound: m, Budget: budget, Verdict: decision.Verdict, Duration: cost}
	r.trace.Calls = append(r.trace.Calls, call)
	if err != nil {
		return "", false, fmt.Errorf("oracle failed at bound %d: %w", m, err)
	}

	log.Debug("Oracle call",
		"instance", r.p.Name,
		"bound", m,
		"verdict", decision.Verdict,
		"duration", cost)

	switch decision.Verdict {
	case types.VerdictFeasible:
		if r.trace.Best == nil || m < *r.trace.Best {
			r.trace.Best = types.IntPtr(m)
			r.trace.BestStarts = decision.Starts
		}
		return decision.Verdict, true, nil
	case types.VerdictInfeasible:
		if r.trace.InfeasibleAt == nil || m > *r.trace.InfeasibleAt {
			r.trace.InfeasibleAt = types.IntPtr(m)
		}
		return decision.Verdict, true, nil
	case types.VerdictTimedOut:
		r.trace.TimedOut = true
		return decision.Verdict, false, nil
	default:
		return "", false, fmt.Errorf("oracle returned unknown verdict %q at bound %d", decision.Verdict, m)
	}
}
