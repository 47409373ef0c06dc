// Package output provides adapters for writing application output.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/MyCarrier-DevOps/repo-merge/internal/domain"
)

// Writer renders the job report. By default, it writes to stdout.
type Writer struct {
	out io.Writer
}

// NewWriter creates a new Writer that writes to stdout.
func NewWriter() *Writer {
	return &Writer{out: os.Stdout}
}

// NewWriterWithOutput creates a new Writer with a custom output destination.
// This is useful for testing.
func NewWriterWithOutput(out io.Writer) *Writer {
	return &Writer{out: out}
}

// WriteReport writes one table row per attempted source followed by the
// final target tip, or the recovery hint when the job halted.
func (w *Writer) WriteReport(report *domain.JobReport, stepErr *domain.StepError) error {
	t := table.NewWriter()
	t.SetOutputMirror(w.out)
	t.AppendHeader(table.Row{"#", "SOURCE", "OUTCOME", "CONFLICTS", "COMMIT"})
	for _, step := range report.Steps {
		t.AppendRow(table.Row{
			step.Index,
			step.Source,
			outcomeLabel(step),
			conflictSummary(step.ConflictingPaths),
			short(step.PostTip),
		})
	}
	t.AppendSeparator()
	t.Render()

	var err error
	switch {
	case report.Completed:
		_, err = fmt.Fprintf(w.out, "Merged %d sources into %s (%s) at %s\n",
			len(report.Steps), report.Target.Path, report.Mode, short(report.Target.Tip))
	case stepErr != nil:
		_, err = fmt.Fprintf(w.out, "Stopped at source %d (%s): %s\n",
			stepErr.Index, stepErr.Path, stepErr.Recovery())
	}
	return err
}

func outcomeLabel(step domain.StepResult) string {
	if step.AlreadyMerged {
		return string(step.Outcome) + " (already merged)"
	}
	return string(step.Outcome)
}

func conflictSummary(paths []string) string {
	switch len(paths) {
	case 0:
		return "-"
	case 1, 2, 3:
		return strings.Join(paths, ", ")
	default:
		return fmt.Sprintf("%s, ... (%d paths)", strings.Join(paths[:3], ", "), len(paths))
	}
}

func short(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
