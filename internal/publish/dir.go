package publish

// ============================================================================
// 職責說明：
// 1. 將結果檔複製到目標目錄（temp file + rename，讀者不會看到半個檔案）
// 2. 同時寫出 JSON manifest（列數、sha256、發佈時間）
// 3. 已有同名檔案時先保留備份
// 4. 載入 manifest 時驗證 schema 版本
// ============================================================================

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/internal/results"
	"github.com/spf13/afero"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedManifest   = errors.New("manifest file is corrupted")
	ErrIncompatibleVersion = errors.New("manifest schema version is incompatible")
)

const manifestSchema = 1

// Manifest 描述一次發佈
type Manifest struct {
	SchemaVer   int       `json:"schema_ver"`
	Source      string    `json:"source"`
	Object      string    `json:"object"`
	Rows        int       `json:"rows"`
	SHA256      string    `json:"sha256"`
	PublishedAt time.Time `json:"published_at"`
}

// Dir 發佈到本機（或掛載的）目錄
type Dir struct {
	fs     afero.Fs
	dir    string
	backup bool       // 覆寫前保留舊檔 <name>.<timestamp>
	mu     sync.Mutex // 保護檔案操作
	now    func() time.Time
}

// NewDir 建立目錄發佈器
func NewDir(fs afero.Fs, dir string, backup bool) *Dir {
	return &Dir{fs: fs, dir: dir, backup: backup, now: time.Now}
}

// Publish 原子性複製 localPath 到目錄
//
// 流程：
// 1. 讀取來源並計算列數與 sha256
// 2. 寫入臨時檔案（.tmp）
// 3. 需要時把舊檔改名為備份
// 4. 使用 Rename 原子性替換
// 5. 以相同方式寫 manifest
func (d *Dir) Publish(_ context.Context, localPath string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := afero.ReadFile(d.fs, localPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}
	rows, err := countRows(localPath, data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}

	if err := d.fs.MkdirAll(d.dir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}

	name := filepath.Base(localPath)
	dest := filepath.Join(d.dir, name)

	if d.backup {
		if _, err := d.fs.Stat(dest); err == nil {
			backupPath := fmt.Sprintf("%s.%s", dest, d.now().Format("20060102_150405"))
			if err := d.fs.Rename(dest, backupPath); err != nil {
				return "", fmt.Errorf("%w: failed to back up %s: %v", ErrPublish, dest, err)
			}
		}
	}

	if err := d.atomicWrite(dest, data); err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	manifest := Manifest{
		SchemaVer:   manifestSchema,
		Source:      localPath,
		Object:      dest,
		Rows:        rows,
		SHA256:      hex.EncodeToString(sum[:]),
		PublishedAt: d.now().UTC(),
	}
	jsonBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal manifest: %v", ErrPublish, err)
	}
	if err := d.atomicWrite(manifestPath(dest), jsonBytes); err != nil {
		return "", err
	}

	log.Info("Results published", "path", dest, "rows", rows)
	return dest, nil
}

func (d *Dir) atomicWrite(path string, data []byte) error {
	tmpPath := path + ".tmp"

	if err := afero.WriteFile(d.fs, tmpPath, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write temp file: %v", ErrPublish, err)
	}
	if err := d.fs.Rename(tmpPath, path); err != nil {
		d.fs.Remove(tmpPath)
		return fmt.Errorf("%w: failed to rename %s: %v", ErrPublish, tmpPath, err)
	}
	return nil
}

// LoadManifest 讀取某個已發佈檔案的 manifest
func (d *Dir) LoadManifest(name string) (Manifest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var m Manifest
	jsonBytes, err := afero.ReadFile(d.fs, manifestPath(filepath.Join(d.dir, name)))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(jsonBytes, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrCorruptedManifest, err)
	}
	if m.SchemaVer != manifestSchema {
		return m, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, m.SchemaVer, manifestSchema)
	}
	return m, nil
}

func manifestPath(dest string) string {
	return dest + ".manifest.json"
}

// countRows 驗證內容確實是結果檔，回傳資料列數
func countRows(name string, data []byte) (int, error) {
	rows, err := results.Read(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return len(rows), nil
}
