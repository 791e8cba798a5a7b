package plan

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99"))

	parallelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	sequentialStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	detailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			PaddingLeft(4)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))
)

// Render writes a human-readable view of the plan
func Render(w io.Writer, p *Plan) error {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Batch Plan"))
	b.WriteString("\n")
	if p.Fingerprint != "" {
		fp := p.Fingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		b.WriteString(detailStyle.Render("manifest " + fp))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for _, batch := range p.Batches {
		mode := sequentialStyle.Render("sequential")
		if batch.Parallel {
			mode = parallelStyle.Render("parallel")
		}
		b.WriteString(headerStyle.Render(fmt.Sprintf("Batch %d", batch.Index)))
		fmt.Fprintf(&b, " [%s] %s\n", mode, strings.Join(batch.Tasks, ", "))
		b.WriteString(detailStyle.Render(batch.Reason))
		b.WriteString("\n")
		if len(batch.Files) > 0 {
			b.WriteString(detailStyle.Render("files: " + strings.Join(batch.Files, ", ")))
			b.WriteString("\n")
		}
	}

	if len(p.Conflicts) > 0 {
		b.WriteString("\n")
		b.WriteString(headerStyle.Render("Conflicts"))
		b.WriteString("\n")
		for _, c := range p.Conflicts {
			b.WriteString(detailStyle.Render(fmt.Sprintf("%s <-> %s: %s", c.A, c.B, strings.Join(c.Files, ", "))))
			b.WriteString("\n")
		}
	}

	for _, warning := range p.Warnings {
		b.WriteString(warnStyle.Render("warning: " + warning))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("Summary"))
	fmt.Fprintf(&b, "\n  tasks: %d  batches: %d  parallelization: %.1f%%  speedup: %.2fx\n",
		p.Metrics.TotalTasks, p.Metrics.TotalBatches,
		p.Metrics.ParallelizationPercent, p.Metrics.SpeedupFactor)

	_, err := io.WriteString(w, b.String())
	return err
}
