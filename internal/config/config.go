// ============================================================================
// Configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: Layered configuration for the rcpsp binary
//
// Precedence (highest first):
//   1. command line flags (bound by internal/cli)
//   2. RCPSP_* environment variables, "." -> "_" (RCPSP_SEARCH_TIME_LIMIT)
//   3. YAML config file (default configs/default.yaml, optional)
//   4. built-in defaults below
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config is given. A missing file is fine.
const DefaultPath = "configs/default.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RCPSP"

// Config 系統配置
type Config struct {
	Data    DataConfig    `mapstructure:"data"`
	Output  OutputConfig  `mapstructure:"output"`
	Search  SearchConfig  `mapstructure:"search"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Oracle  OracleConfig  `mapstructure:"oracle"`
	Publish PublishConfig `mapstructure:"publish"`
	History HistoryConfig `mapstructure:"history"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`

	settings map[string]interface{}
}

// DataConfig 實例來源
type DataConfig struct {
	Dir     string `mapstructure:"dir"`
	Pattern string `mapstructure:"pattern"` // glob on the base name
}

// OutputConfig 結果檔
type OutputConfig struct {
	Path   string `mapstructure:"path"`
	Resume bool   `mapstructure:"resume"` // keep existing rows and skip their instances
}

// SearchConfig 搜尋參數
type SearchConfig struct {
	TimeLimit     time.Duration `mapstructure:"time_limit"`      // total budget per instance
	MinCallBudget time.Duration `mapstructure:"min_call_budget"` // floor for one oracle call
	Strategy      string        `mapstructure:"strategy"`        // linear | bisect
	DeriveBounds  bool          `mapstructure:"derive_bounds"`
}

// BatchConfig 批次執行
type BatchConfig struct {
	Workers int `mapstructure:"workers"`
}

// OracleConfig 可行性判定來源
type OracleConfig struct {
	Mode      string        `mapstructure:"mode"`       // local | remote
	Address   string        `mapstructure:"address"`    // remote oracle, host:port
	Listen    string        `mapstructure:"listen"`     // `rcpsp serve` listen address
	MaxBudget time.Duration `mapstructure:"max_budget"` // serve: cap per call, 0 = none
}

// PublishConfig 結果上傳
type PublishConfig struct {
	Mode   string `mapstructure:"mode"` // none | gcs | dir
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	Dir    string `mapstructure:"dir"`
	Backup bool   `mapstructure:"backup"` // dir: keep the previous file
}

// HistoryConfig SQLite 歷史紀錄
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MetricsConfig Prometheus
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LogConfig 日誌
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // auto | text | json
}

// defaults 以字串表示 duration，讓 config show 輸出可讀
var defaults = map[string]interface{}{
	"data.dir":               "data",
	"data.pattern":           "*.data",
	"output.path":            "result/results.csv",
	"output.resume":          false,
	"search.time_limit":      "900s",
	"search.min_call_budget": "1s",
	"search.strategy":        "linear",
	"search.derive_bounds":   false,
	"batch.workers":          1,
	"oracle.mode":            "local",
	"oracle.address":         "localhost:50051",
	"oracle.listen":          ":50051",
	"oracle.max_budget":      "0s",
	"publish.mode":           "none",
	"publish.bucket":         "rcpsp-results-bucket",
	"publish.prefix":         "results",
	"publish.dir":            "published",
	"publish.backup":         false,
	"history.enabled":        false,
	"history.path":           "result/history.db",
	"metrics.enabled":        false,
	"metrics.port":           9090,
	"log.level":              "info",
	"log.format":             "auto",
}

// New returns a viper instance with defaults and environment overrides set.
// Flags are bound onto it by the caller before Load.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (DefaultPath when empty) into v and decodes the result.
// Only an explicitly named file must exist.
func Load(v *viper.Viper, path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if explicit || !isNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.settings = v.AllSettings()
	return &cfg, nil
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

// Validate 檢查所有欄位，一次回報全部錯誤
func (c *Config) Validate() error {
	var errs []error

	if c.Data.Dir == "" {
		errs = append(errs, errors.New("data.dir must not be empty"))
	}
	if c.Data.Pattern == "" {
		errs = append(errs, errors.New("data.pattern must not be empty"))
	}
	if c.Output.Path == "" {
		errs = append(errs, errors.New("output.path must not be empty"))
	}
	if c.Search.TimeLimit <= 0 {
		errs = append(errs, fmt.Errorf("search.time_limit must be positive, got %s", c.Search.TimeLimit))
	}
	if c.Search.MinCallBudget < 0 {
		errs = append(errs, fmt.Errorf("search.min_call_budget must not be negative, got %s", c.Search.MinCallBudget))
	}
	if !oneOf(c.Search.Strategy, "linear", "bisect") {
		errs = append(errs, fmt.Errorf("search.strategy must be linear or bisect, got %q", c.Search.Strategy))
	}
	if c.Batch.Workers < 1 {
		errs = append(errs, fmt.Errorf("batch.workers must be at least 1, got %d", c.Batch.Workers))
	}
	if !oneOf(c.Oracle.Mode, "local", "remote") {
		errs = append(errs, fmt.Errorf("oracle.mode must be local or remote, got %q", c.Oracle.Mode))
	}
	if c.Oracle.Mode == "remote" && c.Oracle.Address == "" {
		errs = append(errs, errors.New("oracle.address is required with oracle.mode=remote"))
	}
	if !oneOf(c.Publish.Mode, "none", "gcs", "dir") {
		errs = append(errs, fmt.Errorf("publish.mode must be none, gcs or dir, got %q", c.Publish.Mode))
	}
	if c.Publish.Mode == "gcs" && c.Publish.Bucket == "" {
		errs = append(errs, errors.New("publish.bucket is required with publish.mode=gcs"))
	}
	if c.Publish.Mode == "dir" && c.Publish.Dir == "" {
		errs = append(errs, errors.New("publish.dir is required with publish.mode=dir"))
	}
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, errors.New("history.path is required with history.enabled"))
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port))
	}
	if !oneOf(c.Log.Level, "debug", "info", "warn", "error") {
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	if !oneOf(c.Log.Format, "auto", "text", "json") {
		errs = append(errs, fmt.Errorf("log.format must be auto, text or json, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}

// WriteYAML 輸出最終生效的設定（含預設值、檔案、環境變數和旗標）
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.settings); err != nil {
		return err
	}
	return enc.Close()
}
