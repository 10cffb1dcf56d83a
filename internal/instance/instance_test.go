package instance

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 4 tasks, 1 resource: 1 -> {2,3} -> 4
const smallInstance = `4 1 5 8
2
0 0 0 2 3
3 1 0 4
2 2 0 4
0 0 0
`

func TestParseSmallInstance(t *testing.T) {
	p, err := Parse("small.data", strings.NewReader(smallInstance))
	require.NoError(t, err)

	assert.Equal(t, "small.data", p.Name)
	assert.Equal(t, 4, p.TaskCount())
	assert.Equal(t, 1, p.ResourceCount())
	assert.Equal(t, []int{2}, p.Capacities)
	assert.Equal(t, []int{1, 2}, p.Tasks[0].Successors)
	assert.Equal(t, []int{3}, p.Tasks[1].Successors)
	assert.Empty(t, p.Tasks[3].Successors)
	assert.Equal(t, 3, p.Tasks[1].Duration)
	assert.Equal(t, []int{2}, p.Tasks[2].Demands)

	rng, ok := p.Bounds()
	require.True(t, ok)
	assert.Equal(t, SearchRange{Lower: 5, Upper: 8}, rng)
}

func TestParseBoundsOptional(t *testing.T) {
	testCases := []struct {
		name      string
		header    string
		wantLower bool
		wantUpper bool
	}{
		{"no bounds", "1 1", false, false},
		{"lower only", "1 1 3", true, false},
		{"both", "1 1 3 4", true, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Parse("x", strings.NewReader(tc.header+"\n1\n3 1 0\n"))
			require.NoError(t, err)
			assert.Equal(t, tc.wantLower, p.LowerBound != nil)
			assert.Equal(t, tc.wantUpper, p.UpperBound != nil)

			_, ok := p.Bounds()
			assert.Equal(t, tc.wantLower && tc.wantUpper, ok)
		})
	}
}

func TestParseInvertedBoundsNotSearchable(t *testing.T) {
	p, err := Parse("x", strings.NewReader("1 1 9 4\n1\n3 1 0\n"))
	require.NoError(t, err)

	_, ok := p.Bounds()
	assert.False(t, ok)
}

func TestParseMalformed(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"short header", "4\n"},
		{"too many header fields", "1 1 1 2 3\n1\n1 1 0\n"},
		{"non-integer header", "four 1\n1\n1 1 0\n"},
		{"zero tasks", "0 1\n1\n"},
		{"missing task lines", "3 1\n1\n1 1 0\n"},
		{"capacity count", "1 2\n1\n1 1 1 0\n"},
		{"negative capacity", "1 1\n-1\n1 1 0\n"},
		{"short task line", "1 2\n1 1\n1 1\n"},
		{"non-integer demand", "1 1\n1\n1 x 0\n"},
		{"successor out of range", "2 1\n1\n1 1 0 3\n1 1 0\n"},
		{"self loop", "2 1\n1\n1 1 0 1\n1 1 0\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse("bad.data", strings.NewReader(tc.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedInstance), "error should wrap ErrMalformedInstance: %v", err)
		})
	}
}

func TestParseMalformedCarriesLine(t *testing.T) {
	_, err := Parse("bad.data", strings.NewReader("2 1\n1\n1 1 0\n1 z 0\n"))

	var me *MalformedError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, 4, me.Line)
	assert.Contains(t, err.Error(), "bad.data: line 4")
}

func TestParseKeepsCycles(t *testing.T) {
	p, err := Parse("cycle", strings.NewReader("2 1\n1\n1 1 0 2\n1 1 0 1\n"))
	require.NoError(t, err)

	_, err = TopoOrder(p)
	assert.True(t, errors.Is(err, ErrCycle))
}

func TestFormatParsesBack(t *testing.T) {
	p, err := Parse("small.data", strings.NewReader(smallInstance))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Format(&buf, p))

	again, err := Parse("small.data", &buf)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestCriticalPathAndTails(t *testing.T) {
	p, err := Parse("small.data", strings.NewReader(smallInstance))
	require.NoError(t, err)

	order, err := TopoOrder(p)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 2, 0}, Tails(p, order))

	cp, err := CriticalPath(p)
	require.NoError(t, err)
	assert.Equal(t, 3, cp)
}

func TestDeriveBounds(t *testing.T) {
	p, err := Parse("small.data", strings.NewReader(smallInstance))
	require.NoError(t, err)

	rng, err := DeriveBounds(p)
	require.NoError(t, err)
	// energy bound ceil((3*1 + 2*2) / 2) = 4 beats the critical path of 3
	assert.Equal(t, 4, rng.Lower)
	assert.Equal(t, 5, rng.Upper)
}

func TestDeriveBoundsOverCapacity(t *testing.T) {
	p, err := Parse("over", strings.NewReader("1 1\n1\n2 3 0\n"))
	require.NoError(t, err)

	_, err = DeriveBounds(p)
	assert.True(t, errors.Is(err, ErrOverCapacity))
}

func TestNewSearchRange(t *testing.T) {
	_, err := NewSearchRange(5, 4)
	assert.True(t, errors.Is(err, ErrInvalidRange))

	rng, err := NewSearchRange(4, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, rng.Width())
}

func TestDiscoverSortedAndFiltered(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("data/sub.data", 0755))
	for _, name := range []string{"b.data", "a.data", "notes.txt", "c.data"} {
		require.NoError(t, afero.WriteFile(fs, "data/"+name, []byte(smallInstance), 0644))
	}

	names, err := Discover(fs, "data", "*.data")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.data", "b.data", "c.data"}, names)
}

func TestDiscoverErrors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := Discover(fs, "missing", "*.data")
	assert.Error(t, err)

	_, err = Discover(fs, "missing", "[")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "data/j1.data", []byte(smallInstance), 0644))

	p, err := Load(fs, "data/j1.data")
	require.NoError(t, err)
	assert.Equal(t, "j1.data", p.Name)

	_, err = Load(fs, "data/none.data")
	assert.Error(t, err)
}
