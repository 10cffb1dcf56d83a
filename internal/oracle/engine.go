package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/internal/instance"
	"github.com/ChuLiYu/rcpsp-batch/internal/logging"
	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
)

var log = logging.Component("oracle")

// checkEvery is the node interval between deadline checks.
const checkEvery = 1024

// warmEntries bounds the warm-start cache.
const warmEntries = 64

// Engine is an exact branch-and-bound decision procedure over the serial
// schedule-generation scheme. Enumerating every precedence-feasible task list
// and starting each task as early as possible yields every active schedule,
// and an active schedule of minimum makespan always exists, so exhausting the
// tree proves infeasibility.
//
// Engine remembers the last feasible schedule per problem and answers a looser
// bound from it without searching. Problems are identified by name and
// content, so a problem decoded afresh for every remote call still hits the
// same entry. It is safe for concurrent use.
type Engine struct {
	mu   sync.Mutex
	warm map[string][]int
}

// NewEngine creates an Engine.
func NewEngine() *Engine {
	return &Engine{warm: make(map[string][]int)}
}

// Decide implements Oracle.
func (e *Engine) Decide(ctx context.Context, p *instance.Problem, bound int, budget time.Duration) (Decision, error) {
	if budget <= 0 {
		budget = MinCallBudget
	}
	if bound < 0 {
		return Decision{Verdict: types.VerdictInfeasible}, nil
	}

	if err := instance.CheckCapacity(p); err != nil {
		log.Debug("Over-capacity task", "instance", p.Name, "error", err)
		return Decision{Verdict: types.VerdictInfeasible}, nil
	}
	order, err := instance.TopoOrder(p)
	if err != nil {
		log.Debug("Cyclic precedence", "instance", p.Name, "error", err)
		return Decision{Verdict: types.VerdictInfeasible}, nil
	}
	tails := instance.Tails(p, order)
	for _, t := range tails {
		if t > bound {
			return Decision{Verdict: types.VerdictInfeasible}, nil
		}
	}

	if starts := e.lookup(p, bound); starts != nil {
		return Decision{Verdict: types.VerdictFeasible, Starts: starts}, nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	s := newSearch(searchCtx, p, tails, bound)
	found := s.run()

	switch {
	case found:
		starts := append([]int(nil), s.starts...)
		e.remember(p, starts)
		return Decision{Verdict: types.VerdictFeasible, Starts: starts}, nil
	case s.aborted:
		// parent cancellation is a failure, our own deadline is a timeout
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		return Decision{Verdict: types.VerdictTimedOut}, nil
	default:
		return Decision{Verdict: types.VerdictInfeasible}, nil
	}
}

// Forget drops the warm-start entry of p.
func (e *Engine) Forget(p *instance.Problem) {
	key := warmKey(p)
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.warm, key)
}

func (e *Engine) lookup(p *instance.Problem, bound int) []int {
	key := warmKey(p)
	e.mu.Lock()
	defer e.mu.Unlock()

	starts, ok := e.warm[key]
	if !ok || Makespan(p, starts) > bound {
		return nil
	}
	return append([]int(nil), starts...)
}

func (e *Engine) remember(p *instance.Problem, starts []int) {
	key := warmKey(p)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.warm[key]; !ok && len(e.warm) >= warmEntries {
		e.warm = make(map[string][]int)
	}
	e.warm[key] = starts
}

// warmKey identifies a problem by name and a sha256 of its instance text.
func warmKey(p *instance.Problem) string {
	h := sha256.New()
	if err := instance.Format(h, p); err != nil {
		// 無法序列化時退回指標位址，只在同一個 *Problem 內暖啟動
		return fmt.Sprintf("%s@%p", p.Name, p)
	}
	return p.Name + "\x00" + hex.EncodeToString(h.Sum(nil))
}

// Makespan returns the latest finish time of a schedule.
func Makespan(p *instance.Problem, starts []int) int {
	makespan := 0
	for i, s := range starts {
		if f := s + p.Tasks[i].Duration; f > makespan {
			makespan = f
		}
	}
	return makespan
}

// ============================================================================
// search state
// ============================================================================

type search struct {
	ctx     context.Context
	p       *instance.Problem
	tails   []int
	bound   int
	horizon int

	starts    []int   // -1 while unscheduled
	predsLeft []int   // unscheduled predecessors per task
	estPrec   []int   // earliest start from scheduled predecessors
	usage     [][]int // usage[r][t]
	preds     [][]int

	nodes   int
	aborted bool
}

var (
	errAborted = errors.New("search aborted")
	errDeadEnd = errors.New("dead end")
)

func newSearch(ctx context.Context, p *instance.Problem, tails []int, bound int) *search {
	n := p.TaskCount()

	// A serial schedule never ends after the sum of durations.
	sum := 0
	for _, t := range p.Tasks {
		sum += t.Duration
	}
	horizon := bound
	if sum < horizon {
		horizon = sum
	}

	s := &search{
		ctx:       ctx,
		p:         p,
		tails:     tails,
		bound:     bound,
		horizon:   horizon,
		starts:    make([]int, n),
		predsLeft: make([]int, n),
		estPrec:   make([]int, n),
		usage:     make([][]int, p.ResourceCount()),
		preds:     p.Predecessors(),
	}
	for i := range s.starts {
		s.starts[i] = -1
		s.predsLeft[i] = len(s.preds[i])
	}
	for r := range s.usage {
		s.usage[r] = make([]int, horizon+1)
	}
	return s
}

func (s *search) run() bool {
	err := s.dfs(0)
	if errors.Is(err, errAborted) {
		s.aborted = true
		return false
	}
	return err == nil
}

// dfs returns nil when a complete schedule was found, errAborted on timeout,
// and errDeadEnd when the subtree holds no schedule.
func (s *search) dfs(scheduled int) error {
	if scheduled == len(s.starts) {
		return nil
	}

	s.nodes++
	if s.nodes%checkEvery == 0 && s.ctx.Err() != nil {
		return errAborted
	}

	// Earliest starts only grow as tasks are added, so one eligible task that
	// cannot meet the bound kills the whole node.
	type candidate struct{ task, start int }
	candidates := make([]candidate, 0, 8)
	for j := range s.starts {
		if s.starts[j] >= 0 || s.predsLeft[j] > 0 {
			continue
		}
		t := s.earliestStart(j)
		if t < 0 || t+s.tails[j] > s.bound {
			return errDeadEnd
		}
		candidates = append(candidates, candidate{task: j, start: t})
	}

	// Most urgent first: smallest slack start+tail.
	for i := 1; i < len(candidates); i++ {
		for k := i; k > 0; k-- {
			a, b := candidates[k-1], candidates[k]
			if a.start+s.tails[a.task] <= b.start+s.tails[b.task] {
				break
			}
			candidates[k-1], candidates[k] = b, a
		}
	}

	for _, c := range candidates {
		s.place(c.task, c.start)
		err := s.dfs(scheduled + 1)
		if err == nil {
			return nil
		}
		s.unplace(c.task, c.start)
		if errors.Is(err, errAborted) {
			return err
		}
	}
	return errDeadEnd
}

// earliestStart returns the first precedence- and resource-feasible start of
// task j that finishes within the horizon, or -1.
func (s *search) earliestStart(j int) int {
	task := s.p.Tasks[j]
	t := s.estPrec[j]
	if task.Duration == 0 {
		if t > s.horizon {
			return -1
		}
		return t
	}

	for t+task.Duration <= s.horizon {
		conflict := -1
		for tau := t; tau < t+task.Duration && conflict < 0; tau++ {
			for r, q := range task.Demands {
				if q > 0 && s.usage[r][tau]+q > s.p.Capacities[r] {
					conflict = tau
					break
				}
			}
		}
		if conflict < 0 {
			return t
		}
		t = conflict + 1
	}
	return -1
}

func (s *search) place(j, start int) {
	task := s.p.Tasks[j]
	s.starts[j] = start
	for r, q := range task.Demands {
		if q == 0 {
			continue
		}
		for tau := start; tau < start+task.Duration; tau++ {
			s.usage[r][tau] += q
		}
	}
	for _, succ := range task.Successors {
		s.predsLeft[succ]--
	}
	s.recomputeEst(task.Successors)
}

func (s *search) unplace(j, start int) {
	task := s.p.Tasks[j]
	s.starts[j] = -1
	for r, q := range task.Demands {
		if q == 0 {
			continue
		}
		for tau := start; tau < start+task.Duration; tau++ {
			s.usage[r][tau] -= q
		}
	}
	for _, succ := range task.Successors {
		s.predsLeft[succ]++
	}
	s.recomputeEst(task.Successors)
}

// recomputeEst refreshes the precedence release time of the given tasks from
// their scheduled predecessors.
func (s *search) recomputeEst(tasks []int) {
	for _, succ := range tasks {
		est := 0
		for _, pred := range s.preds[succ] {
			if s.starts[pred] < 0 {
				continue
			}
			if f := s.starts[pred] + s.p.Tasks[pred].Duration; f > est {
				est = f
			}
		}
		s.estPrec[succ] = est
	}
}
