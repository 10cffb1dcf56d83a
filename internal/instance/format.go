package instance

import (
	"bufio"
	"io"
	"strconv"
)

// Format writes p in the format accepted by Parse.
func Format(w io.Writer, p *Problem) error {
	bw := bufio.NewWriter(w)

	header := []int{p.TaskCount(), p.ResourceCount()}
	if p.LowerBound != nil {
		header = append(header, *p.LowerBound)
		if p.UpperBound != nil {
			header = append(header, *p.UpperBound)
		}
	}
	writeInts(bw, header)
	writeInts(bw, p.Capacities)

	for _, t := range p.Tasks {
		vals := make([]int, 0, 2+len(t.Demands)+len(t.Successors))
		vals = append(vals, t.Duration)
		vals = append(vals, t.Demands...)
		vals = append(vals, 0)
		for _, s := range t.Successors {
			vals = append(vals, s+1)
		}
		writeInts(bw, vals)
	}

	return bw.Flush()
}

func writeInts(bw *bufio.Writer, vals []int) {
	for i, v := range vals {
		if i > 0 {
			bw.WriteByte(' ')
		}
		bw.WriteString(strconv.Itoa(v))
	}
	bw.WriteByte('\n')
}
