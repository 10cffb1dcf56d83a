package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowRecord(t *testing.T) {
	row := Row{
		FileName:     "j301_1.data",
		LowerBound:   IntPtr(43),
		UpperBound:   IntPtr(47),
		Makespan:     IntPtr(43),
		Status:       StatusOptimal,
		SolveSeconds: 1.236,
	}

	assert.Equal(t, []string{"j301_1.data", "43", "47", "43", "optimal", "1.24"}, row.Record())
}

func TestRowRecordMissingFields(t *testing.T) {
	row := Row{FileName: "broken.data", Status: StatusError}

	assert.Equal(t, []string{"broken.data", "N/A", "N/A", "N/A", "error", "0.00"}, row.Record())
}

func TestParseRecord(t *testing.T) {
	row, err := ParseRecord([]string{"a.data", "10", "N/A", "11", "feasible", "3.50"})
	require.NoError(t, err)

	require.NotNil(t, row.LowerBound)
	assert.Equal(t, 10, *row.LowerBound)
	assert.Nil(t, row.UpperBound)
	require.NotNil(t, row.Makespan)
	assert.Equal(t, 11, *row.Makespan)
	assert.Equal(t, StatusFeasible, row.Status)
	assert.InDelta(t, 3.5, row.SolveSeconds, 1e-9)
}

func TestParseRecordErrors(t *testing.T) {
	testCases := []struct {
		name string
		rec  []string
	}{
		{"short", []string{"a.data", "1"}},
		{"bad bound", []string{"a.data", "x", "2", "2", "optimal", "0.00"}},
		{"bad status", []string{"a.data", "1", "2", "2", "solved", "0.00"}},
		{"bad time", []string{"a.data", "1", "2", "2", "optimal", "soon"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRecord(tc.rec)
			assert.Error(t, err)
		})
	}
}
