package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/felixgeelhaar/batchguard/internal/breaker"
	"github.com/felixgeelhaar/batchguard/internal/history"
	"github.com/felixgeelhaar/batchguard/internal/rollback"
	"github.com/felixgeelhaar/batchguard/internal/snapshot"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).PaddingRight(2)
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
)

func statusStyle(status breaker.RunStatus) lipgloss.Style {
	switch status {
	case breaker.StatusCompleted:
		return okStyle
	case breaker.StatusRolledBack:
		return warnStyle
	default:
		return failStyle
	}
}

// runView renders one run record
type runView struct {
	*history.RunRecord
}

func (v runView) MarshalYAML() (any, error) { return v.RunRecord, nil }

func (v runView) RenderText(w io.Writer) error {
	r := v.RunRecord
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("Run"), r.RunID)
	fmt.Fprintf(&b, "  status:      %s\n", statusStyle(r.Status).Render(string(r.Status)))
	fmt.Fprintf(&b, "  started:     %s\n", r.StartedAt.Format(time.RFC3339))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "  duration:    %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(&b, "  fingerprint: %s\n", r.Fingerprint)
	if r.BackupDir != "" {
		fmt.Fprintf(&b, "  backups:     %s\n", r.BackupDir)
	}

	for i, ex := range r.Executions {
		decision := "-"
		if i < len(r.Validations) && r.Validations[i] != nil {
			decision = string(r.Validations[i].Decision)
		}
		fmt.Fprintf(&b, "\n  batch %d  %d task(s)  %s  gate: %s\n",
			ex.Index, len(ex.Results), ex.Duration.Round(time.Millisecond), decision)
		for _, t := range ex.Results {
			line := fmt.Sprintf("    %-24s %s", t.TaskID, t.Status)
			if t.Attempts > 1 {
				line += fmt.Sprintf(" after %d attempts", t.Attempts)
			}
			if t.Error != "" {
				line += dimStyle.Render("  " + t.Error)
			}
			b.WriteString(line + "\n")
		}
		if i < len(r.Validations) && r.Validations[i] != nil {
			for _, l := range r.Validations[i].Layers {
				mark := okStyle.Render("pass")
				switch {
				case l.Skipped:
					mark = dimStyle.Render("skip")
				case !l.Passed && l.Blocking:
					mark = failStyle.Render("FAIL")
				case !l.Passed:
					mark = warnStyle.Render("warn")
				}
				fmt.Fprintf(&b, "    [%s] %s %s\n", mark, l.Name, dimStyle.Render(l.Message))
			}
		}
	}

	if r.Rollback != nil {
		b.WriteString("\n")
		writeRollback(&b, r.Rollback)
	}
	if r.Error != nil {
		fmt.Fprintf(&b, "\n  %s", failStyle.Render("error:"))
		if r.Error.Code != "" {
			fmt.Fprintf(&b, " [%s]", r.Error.Code)
		}
		fmt.Fprintf(&b, " %s\n", r.Error.Message)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// rollbackView renders the result of a manual restore
type rollbackView struct {
	*rollback.Result
}

func (v rollbackView) MarshalYAML() (any, error) { return v.Result, nil }

func (v rollbackView) RenderText(w io.Writer) error {
	var b strings.Builder
	writeRollback(&b, v.Result)
	_, err := io.WriteString(w, b.String())
	return err
}

func writeRollback(b *strings.Builder, r *rollback.Result) {
	fmt.Fprintf(b, "  %s batch %d from %s\n", titleStyle.Render("Rollback"), r.Batch, r.BackupPath)
	fmt.Fprintf(b, "    restored %d, removed %d, verified %d\n", len(r.Restored), len(r.Removed), r.Verified)
	for _, f := range r.Mismatched {
		fmt.Fprintf(b, "    %s %s\n", failStyle.Render("mismatch"), f)
	}
}

// runListView renders a table of run records
type runListView []*history.RunRecord

func (v runListView) RenderText(w io.Writer) error {
	if len(v) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	t := newTable("RUN", "STATUS", "STARTED", "BATCHES", "ERROR")
	for _, r := range v {
		code := ""
		if r.Error != nil {
			code = r.Error.Code
		}
		t.Row(r.RunID, string(r.Status), r.StartedAt.Local().Format(time.DateTime),
			fmt.Sprint(len(r.Executions)), code)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// breakerView renders persisted breaker state
type breakerView struct {
	breaker.State
}

func (v breakerView) MarshalYAML() (any, error) { return v.State, nil }

func (v breakerView) RenderText(w io.Writer) error {
	state := okStyle.Render("closed")
	if v.Open {
		state = failStyle.Render("open")
	}
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Circuit breaker"), state)
	fmt.Fprintf(w, "  consecutive failures: %d / %d\n", v.ConsecutiveFailures, v.Threshold)
	if v.LastStatus != "" {
		fmt.Fprintf(w, "  last run:             %s\n", v.LastStatus)
	}
	if v.OpenedAt != nil {
		fmt.Fprintf(w, "  opened at:            %s\n", v.OpenedAt.Local().Format(time.DateTime))
	}
	return nil
}

// snapshotListView renders the run arenas under the backup root
type snapshotListView []snapshot.RunMeta

func (v snapshotListView) RenderText(w io.Writer) error {
	if len(v) == 0 {
		_, err := fmt.Fprintln(w, "No snapshots.")
		return err
	}
	t := newTable("RUN", "CREATED", "BATCHES", "FILES", "STATE")
	for _, m := range v {
		state := "active"
		if m.FinishedAt != nil {
			state = "finished"
		}
		t.Row(m.RunID, m.CreatedAt.Local().Format(time.DateTime),
			fmt.Sprint(len(m.Batches)), fmt.Sprint(m.FileCount), state)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// prunedView lists the run arenas a prune removed
type prunedView []string

func (v prunedView) RenderText(w io.Writer) error {
	if len(v) == 0 {
		_, err := fmt.Fprintln(w, "Nothing to prune.")
		return err
	}
	for _, id := range v {
		if _, err := fmt.Fprintf(w, "removed %s\n", id); err != nil {
			return err
		}
	}
	return nil
}

// eventsView renders a verified event log, one line per event
type eventsView []history.Event

func (v eventsView) RenderText(w io.Writer) error {
	t := newTable("TIME", "EVENT", "BATCH")
	for _, e := range v {
		batch := "-"
		if e.Batch != history.NoBatch {
			batch = fmt.Sprint(e.Batch)
		}
		t.Row(e.Timestamp.Local().Format(time.RFC3339), string(e.Type), batch)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderRow(false).
		BorderColumn(false).
		BorderLeft(false).
		BorderRight(false).
		BorderTop(false).
		BorderBottom(false).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}
