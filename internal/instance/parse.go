package instance

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// line is a non-blank input line with its 1-based position.
type line struct {
	no     int
	fields []string
}

// Parse reads one instance in the pack data format:
//
//	n R [lb [ub]]
//	c_1 ... c_R
//	d q_1 ... q_R 0 s_1 ... s_k      (n lines, successors 1-based)
//
// Blank lines are ignored. The token after the demands is a separator and is
// not interpreted. Every failure wraps ErrMalformedInstance.
func Parse(name string, r io.Reader) (*Problem, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, fmt.Errorf("%s: read: %w", name, err)
	}
	if len(lines) == 0 {
		return nil, malformed(name, 0, "empty instance")
	}

	// Header
	header := lines[0]
	if len(header.fields) < 2 {
		return nil, malformed(name, header.no, "header needs task and resource counts, got %d fields", len(header.fields))
	}
	if len(header.fields) > 4 {
		return nil, malformed(name, header.no, "header has %d fields, at most 4 allowed", len(header.fields))
	}
	head, err := atois(name, header)
	if err != nil {
		return nil, err
	}
	n, res := head[0], head[1]
	if n <= 0 || res <= 0 {
		return nil, malformed(name, header.no, "task and resource counts must be positive, got %d and %d", n, res)
	}

	p := &Problem{Name: name}
	if len(head) > 2 {
		p.LowerBound = &head[2]
	}
	if len(head) > 3 {
		p.UpperBound = &head[3]
	}

	if len(lines) < n+2 {
		return nil, malformed(name, 0, "expected %d lines, got %d", n+2, len(lines))
	}

	// Capacities
	capLine := lines[1]
	if len(capLine.fields) != res {
		return nil, malformed(name, capLine.no, "expected %d capacities, got %d", res, len(capLine.fields))
	}
	if p.Capacities, err = atois(name, capLine); err != nil {
		return nil, err
	}
	for r, c := range p.Capacities {
		if c < 0 {
			return nil, malformed(name, capLine.no, "capacity of resource %d is negative", r+1)
		}
	}

	// Tasks
	p.Tasks = make([]Task, n)
	for i := 0; i < n; i++ {
		ln := lines[i+2]
		if len(ln.fields) < res+1 {
			return nil, malformed(name, ln.no, "task %d needs a duration and %d demands, got %d fields", i+1, res, len(ln.fields))
		}
		vals, err := atois(name, ln)
		if err != nil {
			return nil, err
		}
		for _, v := range vals[:res+1] {
			if v < 0 {
				return nil, malformed(name, ln.no, "task %d has a negative duration or demand", i+1)
			}
		}

		task := Task{Duration: vals[0], Demands: vals[1 : res+1]}
		if len(vals) > res+2 {
			task.Successors, err = successors(name, ln.no, i, n, vals[res+2:])
			if err != nil {
				return nil, err
			}
		}
		p.Tasks[i] = task
	}

	return p, nil
}

// successors converts 1-based indices to 0-based, dropping duplicates.
func successors(name string, lineNo, self, n int, raw []int) ([]int, error) {
	out := make([]int, 0, len(raw))
	seen := make(map[int]bool, len(raw))
	for _, s := range raw {
		if s < 1 || s > n {
			return nil, malformed(name, lineNo, "task %d: successor %d out of range 1..%d", self+1, s, n)
		}
		if s-1 == self {
			return nil, malformed(name, lineNo, "task %d lists itself as successor", self+1)
		}
		if seen[s-1] {
			continue
		}
		seen[s-1] = true
		out = append(out, s-1)
	}
	return out, nil
}

func readLines(r io.Reader) ([]line, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var lines []line
	no := 0
	for scanner.Scan() {
		no++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		lines = append(lines, line{no: no, fields: fields})
	}
	return lines, scanner.Err()
}

func atois(name string, ln line) ([]int, error) {
	out := make([]int, len(ln.fields))
	for i, f := range ln.fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, malformed(name, ln.no, "field %d: %q is not an integer", i+1, f)
		}
		out[i] = v
	}
	return out, nil
}
