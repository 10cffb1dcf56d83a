// ============================================================================
// Batch Report
// ============================================================================
//
// Package: internal/report
// File: report.go
// Purpose: Summarize a results file as Markdown, optionally rendered to HTML
//
// Report layout:
//   # RCPSP batch report
//   ## Summary        counts per status, mean solve time
//   ## Gaps           instances whose makespan is above the lower bound
//   ## Results        every row, in file order
//
// ============================================================================

package report

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// statusOrder 報告中狀態的顯示順序
var statusOrder = []types.Status{
	types.StatusOptimal,
	types.StatusFeasible,
	types.StatusInfeasible,
	types.StatusUnknown,
	types.StatusError,
}

// Gap 一個未達下界的實例
type Gap struct {
	FileName string
	Lower    int
	Makespan int
	Percent  float64 // (makespan - lower) / lower * 100
}

// Summary 結果統計
type Summary struct {
	Total       int
	ByStatus    map[types.Status]int
	MeanSeconds float64 // 不含 error 列
	Gaps        []Gap   // 依 Percent 由大到小
}

// Summarize 統計結果列
func Summarize(rows []types.Row) Summary {
	s := Summary{Total: len(rows), ByStatus: make(map[types.Status]int)}

	var seconds float64
	timed := 0
	for _, r := range rows {
		s.ByStatus[r.Status]++
		if r.Status != types.StatusError {
			seconds += r.SolveSeconds
			timed++
		}
		if r.Makespan != nil && r.LowerBound != nil && *r.Makespan > *r.LowerBound {
			g := Gap{FileName: r.FileName, Lower: *r.LowerBound, Makespan: *r.Makespan}
			if g.Lower > 0 {
				g.Percent = float64(g.Makespan-g.Lower) / float64(g.Lower) * 100
			}
			s.Gaps = append(s.Gaps, g)
		}
	}
	if timed > 0 {
		s.MeanSeconds = seconds / float64(timed)
	}

	sort.SliceStable(s.Gaps, func(i, j int) bool {
		return s.Gaps[i].Percent > s.Gaps[j].Percent
	})
	return s
}

// Markdown 寫出 Markdown 報告
func Markdown(w io.Writer, title string, rows []types.Row) error {
	s := Summarize(rows)
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", title)

	b.WriteString("## Summary\n\n")
	b.WriteString("| status | instances |\n|---|---:|\n")
	for _, st := range statusOrder {
		fmt.Fprintf(&b, "| %s | %d |\n", st, s.ByStatus[st])
	}
	fmt.Fprintf(&b, "| **total** | **%d** |\n\n", s.Total)
	fmt.Fprintf(&b, "Mean solve time: %.2f s\n\n", s.MeanSeconds)

	if len(s.Gaps) > 0 {
		b.WriteString("## Gaps\n\n")
		b.WriteString("| file | lower bound | makespan | gap |\n|---|---:|---:|---:|\n")
		for _, g := range s.Gaps {
			fmt.Fprintf(&b, "| %s | %d | %d | %.1f%% |\n", escape(g.FileName), g.Lower, g.Makespan, g.Percent)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Results\n\n")
	b.WriteString("| " + strings.Join(types.Header, " | ") + " |\n")
	b.WriteString("|---|---:|---:|---:|---|---:|\n")
	for _, r := range rows {
		rec := r.Record()
		rec[0] = escape(rec[0])
		b.WriteString("| " + strings.Join(rec, " | ") + " |\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// HTML 寫出 HTML 報告（Markdown 經 goldmark 轉換，含表格擴充）
func HTML(w io.Writer, title string, rows []types.Row) error {
	var md bytes.Buffer
	if err := Markdown(&md, title, rows); err != nil {
		return err
	}

	converter := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := converter.Convert(md.Bytes(), &body); err != nil {
		return fmt.Errorf("render html: %w", err)
	}

	_, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>%s</title></head>\n<body>\n%s</body>\n</html>\n",
		htmlEscape(title), body.String())
	return err
}

// escape keeps file names from breaking table cells.
func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
