// ============================================================================
// RCPSP Batch Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露批次求解的運行指標
//
// 指標分類:
//
//   1. 計數器 (Counter)：
//      - rcpsp_instances_total{status}: 各狀態的實例數
//      - rcpsp_oracle_calls_total{verdict}: 可行性判定呼叫數
//      - rcpsp_instances_skipped_total: 續跑時跳過的實例數
//      - rcpsp_publish_failures_total: 結果上傳失敗次數
//
//   2. 分佈 (Histogram)：
//      - rcpsp_solve_seconds: 每個實例的求解時間
//        * 桶分佈: 0.1s 到 1000s，覆蓋 900s 預算
//
//   3. 狀態 (Gauge)：
//      - rcpsp_instances_pending: 尚未開始的實例數
//      - rcpsp_instances_in_flight: 正在求解的實例數
//
// Prometheus 查詢示例:
//
//   # 最佳解比例
//   rcpsp_instances_total{status="optimal"} / ignoring(status) sum(rcpsp_instances_total)
//
//   # 95 分位求解時間
//   histogram_quantile(0.95, rcpsp_solve_seconds_bucket)
//
// HTTP 端點:
//   /metrics，默認端口 9090
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector Prometheus 指標收集器
type Collector struct {
	instances      *prometheus.CounterVec
	oracleCalls    *prometheus.CounterVec
	skipped        prometheus.Counter
	publishFailure prometheus.Counter

	solveSeconds prometheus.Histogram

	pending  prometheus.Gauge
	inFlight prometheus.Gauge
}

// NewCollector 創建並註冊指標收集器。reg 為 nil 時使用 prometheus.DefaultRegisterer。
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		instances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rcpsp_instances_total",
			Help: "Instances processed, by result status",
		}, []string{"status"}),
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rcpsp_oracle_calls_total",
			Help: "Feasibility oracle calls, by verdict",
		}, []string{"verdict"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rcpsp_instances_skipped_total",
			Help: "Instances skipped because a result row already exists",
		}),
		publishFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rcpsp_publish_failures_total",
			Help: "Failed uploads of the results file",
		}),
		solveSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rcpsp_solve_seconds",
			Help:    "Wall-clock search time per instance",
			Buckets: prometheus.ExponentialBuckets(0.1, 2.5, 11),
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rcpsp_instances_pending",
			Help: "Instances not yet started",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rcpsp_instances_in_flight",
			Help: "Instances currently being searched",
		}),
	}

	reg.MustRegister(
		c.instances,
		c.oracleCalls,
		c.skipped,
		c.publishFailure,
		c.solveSeconds,
		c.pending,
		c.inFlight,
	)
	return c
}

// RecordInstance 記錄一個實例的結果列
func (c *Collector) RecordInstance(row types.Row) {
	c.instances.WithLabelValues(string(row.Status)).Inc()
	if row.Status != types.StatusError {
		c.solveSeconds.Observe(row.SolveSeconds)
	}
}

// RecordOracleCall 記錄一次可行性判定
func (c *Collector) RecordOracleCall(verdict types.Verdict) {
	c.oracleCalls.WithLabelValues(string(verdict)).Inc()
}

// RecordSkipped 記錄續跑時跳過的實例
func (c *Collector) RecordSkipped(n int) {
	c.skipped.Add(float64(n))
}

// RecordPublishFailure 記錄上傳失敗
func (c *Collector) RecordPublishFailure() {
	c.publishFailure.Inc()
}

// SetPending 設置尚未開始的實例數
func (c *Collector) SetPending(n int) {
	c.pending.Set(float64(n))
}

// Started 標記一個實例開始求解
func (c *Collector) Started() {
	c.pending.Dec()
	c.inFlight.Inc()
}

// Finished 標記一個實例求解結束
func (c *Collector) Finished() {
	c.inFlight.Dec()
}

// Serve 在 port 上提供 /metrics，直到 ctx 結束
//
// 參數：
//   - ctx: 結束時關閉伺服器
//   - port: HTTP 伺服器端口
//   - g: 要暴露的 registry，nil 表示 prometheus.DefaultGatherer
func Serve(ctx context.Context, port int, g prometheus.Gatherer) error {
	if g == nil {
		g = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
