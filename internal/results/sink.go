package results

// ============================================================================
// Result Sink 核心實作
// 職責：
// 1. 每個實例追加一列到 CSV（append-only）
// 2. 每列寫入後 flush + fsync，崩潰時保留完整前綴
// 3. 續跑時截掉未寫完的最後一行，回報已完成的實例
// 4. 以 lock 檔保證同一時間只有一個 run 寫入
// ============================================================================

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ChuLiYu/rcpsp-batch/internal/logging"
	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
	"github.com/gofrs/flock"
)

var log = logging.Component("results")

// Writer 是結果檔的唯一寫入者
type Writer struct {
	mu        sync.Mutex
	file      *os.File
	csv       *csv.Writer
	lock      *flock.Flock
	path      string
	completed map[string]struct{} // 已寫入（包含續跑前）的實例
	appended  int                 // 本次 run 寫入的列數
	closed    bool
}

/*
Open 開啟結果檔

行為：
- resume=false：建立或覆寫檔案，寫入標頭
- resume=true 且檔案存在：截掉未完成的最後一行，讀出已完成的實例，接續追加
- 兩種情況都先取得 path+".lock" 的排他鎖；鎖被占用時回傳 ErrSinkLocked
*/
func Open(path string, resume bool) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSinkLocked, path)
	}

	w, err := open(path, resume)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	w.lock = lock
	return w, nil
}

func open(path string, resume bool) (*Writer, error) {
	completed := make(map[string]struct{})
	fresh := true

	if resume {
		rows, err := recoverFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			fresh = false
			for _, r := range rows {
				completed[r.FileName] = struct{}{}
			}
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if fresh {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		file:      file,
		csv:       csv.NewWriter(file),
		path:      path,
		completed: completed,
	}

	if fresh {
		if err := w.writeLocked(types.Header); err != nil {
			file.Close()
			return nil, err
		}
	}

	log.Info("Results file opened",
		"path", path,
		"resume", resume,
		"completed", len(completed))
	return w, nil
}

// recoverFile 讀取既有結果檔。最後一行沒有換行結尾時視為寫到一半，直接截掉。
// 空檔案回傳 os.ErrNotExist，讓呼叫端當成新檔處理。
func recoverFile(path string) ([]types.Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	complete := completePrefix(data)
	if len(complete) < len(data) {
		log.Warn("Truncating partial trailing row",
			"path", path,
			"bytes", len(data)-len(complete))
		if err := os.Truncate(path, int64(len(complete))); err != nil {
			return nil, fmt.Errorf("failed to truncate partial row: %w", err)
		}
	}
	if len(complete) == 0 {
		return nil, os.ErrNotExist
	}

	return readRows(bytes.NewReader(complete))
}

// completePrefix 回傳以換行結尾的最長前綴
func completePrefix(data []byte) []byte {
	return data[:bytes.LastIndexByte(data, '\n')+1]
}

// Append 寫入一列並同步到磁碟。回傳的錯誤代表輸出端失效，整個 batch 應停止。
func (w *Writer) Append(row types.Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrSinkClosed
	}
	if err := w.writeLocked(row.Record()); err != nil {
		return fmt.Errorf("failed to append row for %s: %w", row.FileName, err)
	}

	w.completed[row.FileName] = struct{}{}
	w.appended++
	return nil
}

// writeLocked 寫入一筆 record，flush 後 fsync
func (w *Writer) writeLocked(record []string) error {
	if err := w.csv.Write(record); err != nil {
		return err
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	return nil
}

// IsCompleted 回報實例是否已有結果列
func (w *Writer) IsCompleted(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.completed[name]
	return ok
}

// Appended 回傳本次 run 寫入的列數
func (w *Writer) Appended() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appended
}

// Path returns the output file path.
func (w *Writer) Path() string {
	return w.path
}

// Close 同步並關閉檔案，釋放鎖
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	if err := w.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrSyncFailed, err))
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if w.lock != nil {
		if err := w.lock.Unlock(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReadFile 讀取結果檔的所有完整列，忽略寫到一半的最後一行
func ReadFile(path string) ([]types.Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrForeignFile, path)
	}
	return readRows(bytes.NewReader(completePrefix(data)))
}

// Read 同 ReadFile，來源為任意 reader
func Read(r io.Reader) ([]types.Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return readRows(bytes.NewReader(completePrefix(data)))
}

func readRows(r io.Reader) ([]types.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(types.Header)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrForeignFile, err)
	}
	for i, h := range types.Header {
		if header[i] != h {
			return nil, fmt.Errorf("%w: unexpected column %q", ErrForeignFile, header[i])
		}
	}

	var rows []types.Row
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrForeignFile, err)
		}
		row, err := types.ParseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrForeignFile, err)
		}
		rows = append(rows, row)
	}
}
