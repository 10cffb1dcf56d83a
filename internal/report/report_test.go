package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRows() []types.Row {
	return []types.Row{
		{FileName: "j30_1.data", LowerBound: types.IntPtr(10), UpperBound: types.IntPtr(12), Makespan: types.IntPtr(10), Status: types.StatusOptimal, SolveSeconds: 2},
		{FileName: "j30_2.data", LowerBound: types.IntPtr(20), UpperBound: types.IntPtr(30), Makespan: types.IntPtr(25), Status: types.StatusFeasible, SolveSeconds: 4},
		{FileName: "j30_3.data", LowerBound: types.IntPtr(10), UpperBound: types.IntPtr(15), Makespan: types.IntPtr(11), Status: types.StatusFeasible, SolveSeconds: 6},
		types.ErrorRow("j30_4.data"),
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleRows())

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.ByStatus[types.StatusOptimal])
	assert.Equal(t, 2, s.ByStatus[types.StatusFeasible])
	assert.Equal(t, 1, s.ByStatus[types.StatusError])
	assert.InDelta(t, 4.0, s.MeanSeconds, 1e-9)

	require.Len(t, s.Gaps, 2)
	assert.Equal(t, "j30_2.data", s.Gaps[0].FileName)
	assert.InDelta(t, 25.0, s.Gaps[0].Percent, 1e-9)
	assert.InDelta(t, 10.0, s.Gaps[1].Percent, 1e-9)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Total)
	assert.Zero(t, s.MeanSeconds)
	assert.Empty(t, s.Gaps)
}

func TestMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Markdown(&buf, "pack", sampleRows()))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# pack\n"))
	assert.Contains(t, out, "| optimal | 1 |")
	assert.Contains(t, out, "| **total** | **4** |")
	assert.Contains(t, out, "Mean solve time: 4.00 s")
	assert.Contains(t, out, "| j30_2.data | 20 | 25 | 25.0% |")
	assert.Contains(t, out, "| j30_4.data | N/A | N/A | N/A | error | 0.00 |")
}

func TestHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, HTML(&buf, "pack <900s>", sampleRows()))
	out := buf.String()

	assert.Contains(t, out, "<title>pack &lt;900s&gt;</title>")
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<td>j30_1.data</td>")
	assert.Contains(t, out, "<h2>Gaps</h2>")
}
