package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/internal/results"
	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tasks 2 and 3 cannot overlap on the single resource: optimum is 5.
const smallInstance = `4 1 5 8
2
0 0 0 2 3
3 1 0 4
2 2 0 4
0 0 0
`

// fixture 建立資料目錄與設定檔
type fixture struct {
	dir    string
	data   string
	output string
	config string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	color.NoColor = true

	dir := t.TempDir()
	f := fixture{
		dir:    dir,
		data:   filepath.Join(dir, "data"),
		output: filepath.Join(dir, "result", "results.csv"),
		config: filepath.Join(dir, "rcpsp.yaml"),
	}

	require.NoError(t, os.MkdirAll(f.data, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.data, "a.data"), []byte(smallInstance), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.data, "b.data"), []byte("not an instance\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.data, "notes.txt"), []byte("ignored\n"), 0o644))

	cfg := "log:\n  level: error\nhistory:\n  path: " + filepath.Join(dir, "history.db") + "\n"
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o644))
	return f
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.Equal(t, "rcpsp", cmd.Use)
	assert.Equal(t, Version, cmd.Version)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "solve", "serve", "report", "history", "config"} {
		assert.True(t, names[want], "missing %q command", want)
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestFlagBindingsResolve(t *testing.T) {
	a := &app{}
	for _, tc := range []struct {
		name     string
		build    func() *cobra.Command
		bindings map[string]string
	}{
		{"run", a.buildRunCommand, runBindings},
		{"solve", a.buildSolveCommand, solveBindings},
		{"serve", a.buildServeCommand, serveBindings},
	} {
		cmd := tc.build()
		for key, name := range tc.bindings {
			assert.NotNil(t, cmd.Flags().Lookup(name), "%s: flag --%s for %s", tc.name, name, key)
		}
	}
}

func TestRunWritesOneRowPerInstance(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "run", "--config", f.config,
		"--data", f.data, "--output", f.output, "--time-limit", "10s")
	require.NoError(t, err)
	assert.Contains(t, out, "[2/2]")
	assert.Contains(t, out, "-> "+f.output)

	rows, err := results.ReadFile(f.output)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "a.data", rows[0].FileName)
	assert.Equal(t, types.StatusOptimal, rows[0].Status)
	require.NotNil(t, rows[0].Makespan)
	assert.Equal(t, 5, *rows[0].Makespan)

	assert.Equal(t, "b.data", rows[1].FileName)
	assert.Equal(t, types.StatusError, rows[1].Status)
	assert.Nil(t, rows[1].Makespan)
}

func TestRunResumeSkipsCompleted(t *testing.T) {
	f := newFixture(t)

	_, err := execute(t, "run", "--config", f.config, "--data", f.data, "--output", f.output)
	require.NoError(t, err)

	out, err := execute(t, "run", "--config", f.config, "--data", f.data, "--output", f.output, "--resume")
	require.NoError(t, err)
	assert.Contains(t, out, "processed: 0")
	assert.Contains(t, out, "skipped: 2")

	rows, err := results.ReadFile(f.output)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRunParallelBisect(t *testing.T) {
	f := newFixture(t)

	_, err := execute(t, "run", "--config", f.config, "--data", f.data, "--output", f.output,
		"--workers", "2", "--strategy", "bisect")
	require.NoError(t, err)

	rows, err := results.ReadFile(f.output)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a.data", rows[0].FileName)
	assert.Equal(t, types.StatusOptimal, rows[0].Status)
}

func TestRunPublishDir(t *testing.T) {
	f := newFixture(t)
	pub := filepath.Join(f.dir, "published")

	out, err := execute(t, "run", "--config", f.config, "--data", f.data, "--output", f.output,
		"--publish", "dir", "--publish-dir", pub)
	require.NoError(t, err)
	assert.Contains(t, out, "published:")

	rows, err := results.ReadFile(filepath.Join(pub, "results.csv"))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRunRejectsBadConfig(t *testing.T) {
	f := newFixture(t)

	_, err := execute(t, "run", "--config", f.config, "--data", f.data, "--output", f.output, "--workers", "0")
	assert.Error(t, err)

	_, err = execute(t, "run", "--config", f.config, "--data", f.data, "--output", f.output, "--strategy", "random")
	assert.Error(t, err)
}

func TestSolvePrintsSchedule(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "solve", "--config", f.config, filepath.Join(f.data, "a.data"))
	require.NoError(t, err)
	assert.Contains(t, out, "status: optimal")
	assert.Contains(t, out, "makespan: 5")
	assert.Contains(t, out, "finish")
}

func TestSolveNoBounds(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "nobounds.data")
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(smallInstance, "4 1 5 8", "4 1", 1)), 0o644))

	_, err := execute(t, "solve", "--config", f.config, path)
	assert.Error(t, err)

	out, err := execute(t, "solve", "--config", f.config, "--derive-bounds", path)
	require.NoError(t, err)
	// energy bound gives [4, 5]; 4 is infeasible, so 5 is not proven optimal
	assert.Contains(t, out, "derived bounds: [4, 5]")
	assert.Contains(t, out, "status: feasible")
	assert.Contains(t, out, "makespan: 5")
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	_, err := execute(t, "run", "--config", f.config, "--data", f.data, "--output", f.output)
	require.NoError(t, err)

	out, err := execute(t, "report", "--config", f.config, f.output)
	require.NoError(t, err)
	assert.Contains(t, out, "| optimal | 1 |")
	assert.Contains(t, out, "| error | 1 |")

	htmlPath := filepath.Join(f.dir, "report.html")
	_, err = execute(t, "report", "--config", f.config, f.output, "--html", htmlPath)
	require.NoError(t, err)
	html, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<table>")
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	_, err := execute(t, "run", "--config", f.config, "--data", f.data, "--output", f.output, "--history")
	require.NoError(t, err)

	out, err := execute(t, "history", "--config", f.config)
	require.NoError(t, err)
	assert.Contains(t, out, "optimal=1")
	assert.Contains(t, out, "error=1")

	out, err = execute(t, "history", "--config", f.config, "--best", "a.data")
	require.NoError(t, err)
	assert.Contains(t, out, "makespan=5")
}

func TestConfigShow(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "config", "show", "--config", f.config)
	require.NoError(t, err)
	assert.Contains(t, out, "time_limit: 900s")
	assert.Contains(t, out, "level: error")
}

func TestServeStopsOnCancel(t *testing.T) {
	f := newFixture(t)

	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"serve", "--config", f.config, "--addr", "127.0.0.1:0"})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, out.String(), "served 0 feasible")
}
