package output

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MyCarrier-DevOps/repo-merge/internal/domain"
)

// Logger defines the logging interface for the progress printer.
type Logger interface {
	Debug(ctx context.Context, msg string, fields map[string]interface{})
}

// ProgressPrinter implements domain.EventSink by writing one status line per
// event. Remote bookkeeping events are only printed when verbose.
type ProgressPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	logger  Logger
}

// NewProgressPrinter creates a ProgressPrinter writing to out.
func NewProgressPrinter(out io.Writer, verbose bool, log Logger) *ProgressPrinter {
	return &ProgressPrinter{out: out, verbose: verbose, logger: log}
}

// Emit prints the event and records it in the debug log.
func (p *ProgressPrinter) Emit(ctx context.Context, event domain.Event) {
	p.logger.Debug(ctx, "progress event", map[string]interface{}{
		"kind":    string(event.Kind),
		"index":   event.Index,
		"source":  event.Source,
		"outcome": string(event.Outcome),
		"paths":   event.Paths,
	})

	if !p.verbose && (event.Kind == domain.EventRemoteAttached || event.Kind == domain.EventRemoteReleased) {
		return
	}
	line := FormatProgress(event)
	if line == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

// FormatProgress formats an event as a human-readable status line.
func FormatProgress(event domain.Event) string {
	name := filepath.Base(event.Source)
	switch event.Kind {
	case domain.EventJobStarted:
		return fmt.Sprintf("Merging into %s (%s)", event.Source, event.Message)
	case domain.EventTargetPrepared:
		return fmt.Sprintf("  target: %s", event.Message)
	case domain.EventStepStarted:
		return fmt.Sprintf("[%d] ● %s...", event.Index, name)
	case domain.EventRemoteAttached:
		return fmt.Sprintf("[%d]   fetched %s", event.Index, event.Message)
	case domain.EventRemoteReleased:
		return fmt.Sprintf("[%d]   released remote", event.Index)
	case domain.EventConflictPending:
		line := fmt.Sprintf("[%d] ! conflicts in %s", event.Index, strings.Join(event.Paths, ", "))
		if event.Message != "" {
			line += "\n" + event.Message
		}
		return line
	case domain.EventResolutionCheck:
		return fmt.Sprintf("[%d] ✗ not accepted: %s", event.Index, event.Message)
	case domain.EventStepFinished:
		if event.Outcome.Merged() {
			return fmt.Sprintf("[%d] ✓ %s %s", event.Index, name, event.Outcome)
		}
		return fmt.Sprintf("[%d] ✗ %s failed: %s", event.Index, name, event.Message)
	case domain.EventJobFinished:
		return fmt.Sprintf("✓ %s", event.Message)
	default:
		return ""
	}
}
