// pkg/workflow/report.go

package workflow

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// StepResult records one step on one host.
type StepResult struct {
	Step     string
	OK       bool
	Detail   string
	Duration time.Duration
}

// Report is the ordered list of step results for one host.
type Report struct {
	Host string

	mu    sync.Mutex
	steps []StepResult
}

func (r *Report) add(res StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, res)
}

// Steps returns a copy of the results so far.
func (r *Report) Steps() []StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StepResult(nil), r.steps...)
}

// OK reports whether every recorded step succeeded.
func (r *Report) OK() bool {
	for _, s := range r.Steps() {
		if !s.OK {
			return false
		}
	}
	return true
}

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// RenderReports prints one row per step, grouped by host.
func RenderReports(reports []*Report) string {
	var rows [][]string
	for _, r := range reports {
		if r == nil {
			continue
		}
		for _, s := range r.Steps() {
			status := okStyle.Render("ok")
			if !s.OK {
				status = failStyle.Render("FAILED")
			}
			rows = append(rows, []string{r.Host, s.Step, status, s.Duration.Round(time.Millisecond).String(), oneLine(s.Detail)})
		}
	}
	if len(rows) == 0 {
		return ""
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("HOST", "STEP", "STATUS", "TIME", "DETAIL").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const max = 80
	if len(s) > max {
		return fmt.Sprintf("%s...", s[:max-3])
	}
	return s
}
