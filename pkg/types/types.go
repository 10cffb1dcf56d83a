// Package types 定義了 rcpsp-batch 系統中使用的核心領域模型
package types

import (
	"fmt"
	"strconv"
)

// Status 實例結果狀態（輸出檔 status 欄位）
type Status string

// 定義輸出狀態常數
const (
	StatusOptimal    Status = "optimal"    // 已證明最佳：makespan 等於下界且未超時
	StatusFeasible   Status = "feasible"   // 找到可行解，但未證明最小
	StatusInfeasible Status = "infeasible" // 搜尋範圍內沒有可行解
	StatusUnknown    Status = "unknown"    // 預算耗盡前沒有任何判定
	StatusError      Status = "error"      // 解析或搜尋失敗
)

// Verdict 可行性判定結果（oracle 單次呼叫）
type Verdict string

const (
	VerdictFeasible   Verdict = "feasible"   // 存在 makespan <= bound 的排程
	VerdictInfeasible Verdict = "infeasible" // 已證明不存在
	VerdictTimedOut   Verdict = "timed_out"  // 時間用盡，沒有資訊
)

// NotAvailable 缺值欄位的輸出字串
const NotAvailable = "N/A"

// Header 輸出檔欄位順序
var Header = []string{"file_name", "lower_bound", "upper_bound", "makespan", "status", "solve_time_seconds"}

// Row 每個實例一列輸出紀錄，寫入並 flush 之後不再修改
type Row struct {
	FileName     string  `json:"file_name"`
	LowerBound   *int    `json:"lower_bound,omitempty"`
	UpperBound   *int    `json:"upper_bound,omitempty"`
	Makespan     *int    `json:"makespan,omitempty"`
	Status       Status  `json:"status"`
	SolveSeconds float64 `json:"solve_time_seconds"`
}

// Record renders the row in Header order.
func (r Row) Record() []string {
	return []string{
		r.FileName,
		formatOptional(r.LowerBound),
		formatOptional(r.UpperBound),
		formatOptional(r.Makespan),
		string(r.Status),
		fmt.Sprintf("%.2f", r.SolveSeconds),
	}
}

// ErrorRow 解析或搜尋失敗時的輸出列：只有檔名，計時為 0
func ErrorRow(name string) Row {
	return Row{FileName: name, Status: StatusError}
}

// ParseRecord is the inverse of Record.
func ParseRecord(rec []string) (Row, error) {
	if len(rec) != len(Header) {
		return Row{}, fmt.Errorf("expected %d fields, got %d", len(Header), len(rec))
	}

	row := Row{FileName: rec[0], Status: Status(rec[4])}
	var err error
	if row.LowerBound, err = parseOptional(rec[1]); err != nil {
		return Row{}, fmt.Errorf("lower_bound: %w", err)
	}
	if row.UpperBound, err = parseOptional(rec[2]); err != nil {
		return Row{}, fmt.Errorf("upper_bound: %w", err)
	}
	if row.Makespan, err = parseOptional(rec[3]); err != nil {
		return Row{}, fmt.Errorf("makespan: %w", err)
	}
	if row.SolveSeconds, err = strconv.ParseFloat(rec[5], 64); err != nil {
		return Row{}, fmt.Errorf("solve_time_seconds: %w", err)
	}
	if !row.Status.Valid() {
		return Row{}, fmt.Errorf("unknown status %q", rec[4])
	}
	return row, nil
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOptimal, StatusFeasible, StatusInfeasible, StatusUnknown, StatusError:
		return true
	}
	return false
}

// IntPtr 方便建立可選整數欄位
func IntPtr(v int) *int {
	return &v
}

func formatOptional(v *int) string {
	if v == nil {
		return NotAvailable
	}
	return strconv.Itoa(*v)
}

func parseOptional(s string) (*int, error) {
	if s == NotAvailable {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
