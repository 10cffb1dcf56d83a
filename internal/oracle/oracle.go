// ============================================================================
// Feasibility Oracle - Decision Contract
// ============================================================================
//
// Package: internal/oracle
// File: oracle.go
// Purpose: The decision procedure consumed by the search driver
//
// Contract:
//   Decide(ctx, problem, bound, budget) -> Decision
//   - feasible:   a schedule with makespan <= bound exists (Starts may be set)
//   - infeasible: proven that none exists
//   - timed_out:  budget exhausted without a determination
//
//   budget is a hard ceiling: implementations return timed_out instead of
//   blocking past it. A returned error is an engine failure, not a verdict.
//
// Implementations:
//   - Engine:     in-process branch-and-bound (engine.go)
//   - GRPCOracle: remote engine behind `rcpsp serve` (grpc_oracle.go)
//
// ============================================================================

package oracle

import (
	"context"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/internal/instance"
	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
)

// MinCallBudget is the smallest budget a single decision call is given.
const MinCallBudget = time.Second

// Oracle decides whether a problem admits a schedule within a makespan bound.
type Oracle interface {
	Decide(ctx context.Context, p *instance.Problem, bound int, budget time.Duration) (Decision, error)
}

// Decision is the result of one oracle call.
type Decision struct {
	Verdict types.Verdict
	Starts  []int // task start times, only with VerdictFeasible and only when the engine produces one
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, p *instance.Problem, bound int, budget time.Duration) (Decision, error)

// Decide calls f.
func (f Func) Decide(ctx context.Context, p *instance.Problem, bound int, budget time.Duration) (Decision, error) {
	return f(ctx, p, bound, budget)
}

// FloorBudget raises budget to floor. A non-positive floor means MinCallBudget.
func FloorBudget(budget, floor time.Duration) time.Duration {
	if floor <= 0 {
		floor = MinCallBudget
	}
	if budget < floor {
		return floor
	}
	return budget
}
