// ============================================================================
// Batch Executor - 批次求解協調器
// ============================================================================
//
// Package: internal/batch
// 文件: executor.go
// 功能: 依序（或並行）求解目錄中的所有實例，每個實例一列結果
//
// 流程:
//   1. Discover() - 列出實例，依檔名排序
//   2. 跳過結果檔中已有列的實例（續跑）
//   3. 每個實例：載入 -> 決定搜尋範圍 -> Search -> Classify -> 一列結果
//   4. 依列舉順序寫入結果檔，每列 fsync
//
// 故障隔離:
//   解析失敗、oracle 錯誤、panic 都只產生該實例的 error 列（計時 0.00），
//   batch 繼續。只有結果檔寫入失敗（InfrastructureFailure）和取消會中止 batch。
//
// 並行模式 (workers > 1):
//   實例交給 worker.Pool，結果依完成順序回來，經過 reorder buffer
//   以列舉順序寫入。每個實例仍有自己完整的時間預算。
//
// 取消:
//   被取消打斷的實例不寫入結果，續跑時會重新求解。
//
// ============================================================================

package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/internal/instance"
	"github.com/ChuLiYu/rcpsp-batch/internal/logging"
	"github.com/ChuLiYu/rcpsp-batch/internal/metrics"
	"github.com/ChuLiYu/rcpsp-batch/internal/oracle"
	"github.com/ChuLiYu/rcpsp-batch/internal/search"
	"github.com/ChuLiYu/rcpsp-batch/internal/worker"
	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var log = logging.Component("batch")

// ErrSink wraps failures of the result sink. They abort the batch.
var ErrSink = errors.New("batch: result sink failed")

// ============================================================================
// 資料結構定義
// ============================================================================

// Sink 結果檔的寫入端
type Sink interface {
	Append(row types.Row) error
	IsCompleted(name string) bool
}

// Recorder 額外保存每列結果（例如歷史資料庫）。失敗只記錄警告。
type Recorder interface {
	Record(ctx context.Context, runID string, row types.Row) error
}

// forgetter is implemented by oracles that keep per-problem state.
type forgetter interface {
	Forget(p *instance.Problem)
}

// ProgressFunc 每寫入一列呼叫一次
type ProgressFunc func(done, total int, row types.Row)

// Config Executor 配置
type Config struct {
	Dir          string // 實例目錄
	Pattern      string // 檔名 glob，例如 *.data
	Workers      int    // 並行實例數，<= 1 為依序執行
	DeriveBounds bool   // 實例沒有上下界時自行推導
}

// Option configures optional collaborators.
type Option func(*Executor)

// WithRecorder 設定歷史紀錄
func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithMetrics 設定 Prometheus 指標
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = c }
}

// WithProgress 設定進度回呼
func WithProgress(fn ProgressFunc) Option {
	return func(e *Executor) { e.progress = fn }
}

// WithRunID 指定 run ID（預設隨機 UUID）
func WithRunID(id string) Option {
	return func(e *Executor) { e.runID = id }
}

// Executor 批次求解器
type Executor struct {
	config   Config
	fs       afero.Fs
	driver   *search.Driver
	sink     Sink
	recorder Recorder
	metrics  *metrics.Collector
	progress ProgressFunc
	runID    string
}

// Summary 一次 run 的統計
type Summary struct {
	RunID     string
	Total     int // 找到的實例數
	Skipped   int // 續跑時已有結果
	Processed int // 本次寫入的列數
	ByStatus  map[types.Status]int
	Elapsed   time.Duration
}

// NewExecutor 建立 Executor
func NewExecutor(config Config, fs afero.Fs, driver *search.Driver, sink Sink, opts ...Option) *Executor {
	e := &Executor{
		config: config,
		fs:     fs,
		driver: driver,
		sink:   sink,
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunID returns the identifier of this executor's run.
func (e *Executor) RunID() string {
	return e.runID
}

// ============================================================================
// 核心方法實作
// ============================================================================

// Run 求解所有尚未有結果的實例
//
// 返回值：
//   - Summary: 到目前為止的統計（出錯時也有效）
//   - error: 只有結果檔失效、列舉失敗或 ctx 取消
func (e *Executor) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: e.runID, ByStatus: make(map[types.Status]int)}

	names, err := instance.Discover(e.fs, e.config.Dir, e.config.Pattern)
	if err != nil {
		return summary, err
	}
	summary.Total = len(names)

	var pending []worker.Task
	for _, name := range names {
		if e.sink.IsCompleted(name) {
			summary.Skipped++
			continue
		}
		pending = append(pending, worker.Task{Index: len(pending), Name: name})
	}

	if e.metrics != nil {
		e.metrics.SetPending(len(pending))
		e.metrics.RecordSkipped(summary.Skipped)
	}

	log.Info("Batch started",
		"run_id", e.runID,
		"instances", len(names),
		"skipped", summary.Skipped,
		"workers", e.workers())

	c := &committer{executor: e, ctx: ctx, summary: &summary, total: len(pending)}
	if e.workers() <= 1 {
		err = e.runSequential(ctx, pending, c)
	} else {
		err = e.runParallel(ctx, pending, c)
	}

	summary.Elapsed = time.Since(start)
	log.Info("Batch finished",
		"run_id", e.runID,
		"processed", summary.Processed,
		"elapsed", summary.Elapsed,
		"error", err)
	return summary, err
}

func (e *Executor) workers() int {
	if e.config.Workers < 1 {
		return 1
	}
	return e.config.Workers
}

// runSequential 一次一個實例，依列舉順序
func (e *Executor) runSequential(ctx context.Context, tasks []worker.Task, c *committer) error {
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.commit(e.handle(ctx, task)); err != nil {
			return err
		}
	}
	return nil
}

// runParallel 交給 worker.Pool，用 reorder buffer 維持寫入順序
func (e *Executor) runParallel(ctx context.Context, tasks []worker.Task, c *committer) error {
	if len(tasks) == 0 {
		return nil
	}

	// 寫入失敗時取消執行中的搜尋，Stop 不必等它們用完預算
	runCtx, cancel := context.WithCancel(ctx)

	n := e.workers()
	pool := worker.NewPool(n, e.handle)
	if err := pool.Start(runCtx, n); err != nil {
		cancel()
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	defer pool.Stop()
	defer cancel()

	go func() {
		for _, task := range tasks {
			if err := pool.Submit(task); err != nil {
				return
			}
		}
	}()

	buffered := make(map[int]worker.Result)
	next := 0
	for next < len(tasks) {
		result, err := pool.ReceiveResult()
		if err != nil {
			return err
		}
		buffered[result.Index] = result

		// 只寫出連續的前綴
		for {
			r, ok := buffered[next]
			if !ok {
				break
			}
			delete(buffered, next)
			next++
			if err := c.commit(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// handle 是 worker.Handler；依序模式也直接呼叫它
func (e *Executor) handle(ctx context.Context, task worker.Task) worker.Result {
	if e.metrics != nil {
		e.metrics.Started()
		defer e.metrics.Finished()
	}
	start := time.Now()
	row, err := e.Process(ctx, task.Name)
	return worker.Result{Index: task.Index, Name: task.Name, Row: row, Err: err, Duration: time.Since(start)}
}

// Process 求解單一實例，永遠回傳一列結果。
// err 非 nil 時 row 為 error 列，err 說明原因。
func (e *Executor) Process(ctx context.Context, name string) (row types.Row, err error) {
	row = types.ErrorRow(name)

	defer func() {
		if r := recover(); r != nil {
			row = types.ErrorRow(name)
			err = fmt.Errorf("instance %s panicked: %v", name, r)
		}
	}()

	p, err := instance.Load(e.fs, filepath.Join(e.config.Dir, name))
	if err != nil {
		return row, err
	}
	row.LowerBound, row.UpperBound = p.LowerBound, p.UpperBound

	rng, ok := p.Bounds()
	if !ok && e.config.DeriveBounds {
		derived, derr := instance.DeriveBounds(p)
		switch {
		case errors.Is(derr, instance.ErrCycle), errors.Is(derr, instance.ErrOverCapacity):
			// 結構上不可能有排程，不必搜尋
			log.Info("Instance infeasible by construction", "instance", name, "reason", derr)
			row.Status = types.StatusInfeasible
			return row, nil
		case derr != nil:
			return row, derr
		}
		rng, ok = derived, true
		row.LowerBound, row.UpperBound = types.IntPtr(rng.Lower), types.IntPtr(rng.Upper)
	}
	if !ok {
		return row, fmt.Errorf("%s: %w", name, instance.ErrNoBounds)
	}

	start := time.Now()
	trace, err := e.driver.Search(ctx, p, &rng)
	elapsed := time.Since(start)
	if f, ok := e.driver.Oracle.(forgetter); ok {
		f.Forget(p)
	}

	if e.metrics != nil {
		for _, call := range trace.Calls {
			if call.Verdict != "" {
				e.metrics.RecordOracleCall(call.Verdict)
			}
		}
	}
	if err != nil {
		return row, err
	}

	if trace.Best != nil && trace.BestStarts != nil {
		if verr := oracle.Verify(p, trace.BestStarts, *trace.Best); verr != nil {
			return row, fmt.Errorf("oracle returned an invalid schedule for bound %d: %w", *trace.Best, verr)
		}
	}

	outcome := search.Classify(trace)
	row.Makespan = outcome.Makespan
	row.Status = outcome.Status()
	row.SolveSeconds = elapsed.Seconds()
	return row, nil
}

// ============================================================================
// 寫入端
// ============================================================================

// committer 寫入結果列並更新統計，只在單一 goroutine 使用
type committer struct {
	executor *Executor
	ctx      context.Context
	summary  *Summary
	total    int
	done     int
}

func (c *committer) commit(r worker.Result) error {
	e := c.executor

	// 被取消打斷的實例不留下結果
	if r.Err != nil && c.ctx.Err() != nil {
		return c.ctx.Err()
	}

	if r.Err != nil {
		log.Warn("Instance failed",
			"instance", r.Name,
			"error", r.Err)
	}

	if err := e.sink.Append(r.Row); err != nil {
		return fmt.Errorf("%w: %w", ErrSink, err)
	}

	c.done++
	c.summary.Processed++
	c.summary.ByStatus[r.Row.Status]++

	if e.metrics != nil {
		e.metrics.RecordInstance(r.Row)
	}
	if e.recorder != nil {
		if err := e.recorder.Record(c.ctx, e.runID, r.Row); err != nil {
			log.Warn("Failed to record history", "instance", r.Name, "error", err)
		}
	}
	if e.progress != nil {
		e.progress(c.done, c.total, r.Row)
	}

	log.Info("Instance done",
		"instance", r.Name,
		"status", r.Row.Status,
		"progress", fmt.Sprintf("%d/%d", c.done, c.total),
		"seconds", fmt.Sprintf("%.2f", r.Row.SolveSeconds),
		"wall", r.Duration)
	return nil
}
