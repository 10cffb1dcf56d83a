// ============================================================================
// Worker - Instance Execution Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Runs one instance at a time in its own goroutine
//
// How it works:
//   1. Receive task from taskCh (blocking wait)
//   2. Run the pool's Handler under the pool context
//   3. Send result to resultCh
//   4. Repeat until stopCh closes
//
// Execution Model:
//   ┌─────────────────────────────────────┐
//   │  Worker Goroutine                   │
//   │  ┌──────────────────────────────┐   │
//   │  │ select taskCh / stopCh       │   │
//   │  │   ├─ execute(task) + recover │   │
//   │  │   └─ send result to resultCh │   │
//   │  └──────────────────────────────┘   │
//   └─────────────────────────────────────┘
//
// Fault isolation:
//   A panic inside the handler is converted into a Result carrying an error
//   row, so one bad instance never kills the worker or the batch.
//
// Budget:
//   Workers impose no timeout of their own. Each instance carries its own
//   search budget, enforced by the search driver.
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
)

// Worker represents a work execution unit
type Worker struct {
	id       int           // Worker unique identifier, used for logging
	handler  Handler       // instance processing logic
	taskCh   <-chan Task   // Task channel (read-only)
	resultCh chan<- Result // Result channel (write-only)
	stopCh   <-chan struct{}
}

// newWorker creates a new Worker instance
func newWorker(id int, handler Handler, taskCh <-chan Task, resultCh chan<- Result, stopCh <-chan struct{}) *Worker {
	return &Worker{
		id:       id,
		handler:  handler,
		taskCh:   taskCh,
		resultCh: resultCh,
		stopCh:   stopCh,
	}
}

// Run is the main loop of Worker.
// Results are never dropped: the send blocks until the pool consumer takes
// it or the pool stops.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-w.stopCh:
			return
		case task := <-w.taskCh:
			result := w.execute(ctx, task)

			select {
			case w.resultCh <- result:
			case <-w.stopCh:
				return
			}
		}
	}
}

// execute runs the handler and recovers from a panic in it.
func (w *Worker) execute(ctx context.Context, task Task) (result Result) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Worker recovered from panic",
				"worker", w.id,
				"instance", task.Name,
				"panic", r)
			result = Result{
				Index: task.Index,
				Name:  task.Name,
				Row:   types.ErrorRow(task.Name),
				Err:   fmt.Errorf("instance %s panicked: %v", task.Name, r),
			}
		}
		result.Duration = time.Since(start)
	}()

	result = w.handler(ctx, task)
	result.Index = task.Index
	result.Name = task.Name
	return result
}
