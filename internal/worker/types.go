package worker

import (
	"context"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
)

// Task 代表一個要求解的實例
type Task struct {
	Index int    // 在列舉順序中的位置，用於重新排序
	Name  string // 實例檔名
}

// Result 代表實例的處理結果
type Result struct {
	Index    int           // 對應 Task.Index
	Name     string        // 實例檔名
	Row      types.Row     // 要寫入結果檔的列
	Err      error         // 處理失敗原因（Row 仍然有效，狀態為 error）
	Duration time.Duration // 實際執行時間
}

// Handler 執行一個任務。Pool 會攔截 Handler 內的 panic。
type Handler func(ctx context.Context, task Task) Result
