// Package prompt asks the operator how a suspended manual merge continues.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/MyCarrier-DevOps/repo-merge/internal/domain"
)

// ResolvePrompt is shown with each question. The conflicting paths and the
// resolution steps are printed by the progress output before the first one.
const ResolvePrompt = "Resolve the conflicts listed above, then continue."

// New returns an interactive form when in and out are terminals, and a
// line-oriented confirmer otherwise.
func New(in *os.File, out io.Writer) domain.Confirmer {
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(in.Fd())) && term.IsTerminal(int(f.Fd())) {
		return &FormConfirmer{in: in, out: out}
	}
	return NewLineConfirmer(in, out)
}

// FormConfirmer renders a select form in the terminal.
type FormConfirmer struct {
	in  io.Reader
	out io.Writer
}

// AwaitResolution implements domain.Confirmer.
func (c *FormConfirmer) AwaitResolution(ctx context.Context, p domain.ResolutionPrompt) (domain.Decision, error) {
	decision := domain.DecisionContinue

	description := ResolvePrompt
	if p.Problem != "" {
		description = "Not accepted: " + p.Problem
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[domain.Decision]().
				Title(fmt.Sprintf("Source %d (%s) has conflicts", p.Index, p.Source)).
				Description(description).
				Options(
					huh.NewOption("Continue - the merge is committed", domain.DecisionContinue),
					huh.NewOption("Abort - roll this source back", domain.DecisionAbort),
				).
				Value(&decision),
		),
	).WithInput(c.in).WithOutput(c.out)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return domain.DecisionAbort, nil
		}
		return "", err
	}
	return decision, nil
}

// LineConfirmer reads one answer per line. An empty line, "c", "continue",
// "y" or "yes" continues; "a", "abort", "q" or end of input aborts.
type LineConfirmer struct {
	lines <-chan string
	out   io.Writer
}

// NewLineConfirmer starts reading in. Lines are consumed lazily, one per prompt.
func NewLineConfirmer(in io.Reader, out io.Writer) *LineConfirmer {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return &LineConfirmer{lines: lines, out: out}
}

// AwaitResolution implements domain.Confirmer.
func (c *LineConfirmer) AwaitResolution(ctx context.Context, p domain.ResolutionPrompt) (domain.Decision, error) {
	for {
		fmt.Fprint(c.out, "Continue or abort? [C/a]: ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return "", ctx.Err()
		case l, ok := <-c.lines:
			if !ok {
				fmt.Fprintln(c.out)
				return domain.DecisionAbort, nil
			}
			line = l
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "", "c", "continue", "y", "yes":
			return domain.DecisionContinue, nil
		case "a", "abort", "q", "quit":
			return domain.DecisionAbort, nil
		default:
			fmt.Fprintf(c.out, "Unrecognized answer %q\n", line)
		}
	}
}
