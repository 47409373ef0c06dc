package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/samber/lo"
)

// Runner runs git commands in a local repository.
type Runner struct {
	// Path to the git executable.
	gitPath string

	// Dir is the directory the commands are run in.
	Dir string

	// Mirror, when set, receives a copy of stdout and stderr of every command.
	Mirror io.Writer
}

// RunResult holds the captured output of a git command.
type RunResult struct {
	Stdout string
	Stderr string
}

// NewRunner returns a Runner for dir. Output is mirrored to mirror when it is not nil.
func NewRunner(dir string, mirror io.Writer) (*Runner, error) {
	p, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("no 'git' program on path: %w", err)
	}
	return &Runner{gitPath: p, Dir: dir, Mirror: mirror}, nil
}

// Run runs a git command. Omit the 'git' part of the command.
func (r *Runner) Run(ctx context.Context, args ...string) (RunResult, error) {
	cmd := exec.CommandContext(ctx, r.gitPath, args...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_MERGE_AUTOEDIT=no",
		"LC_ALL=C",
	)

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if r.Mirror != nil {
		cmd.Stdout = io.MultiWriter(stdout, r.Mirror)
		cmd.Stderr = io.MultiWriter(stderr, r.Mirror)
	} else {
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	}

	if err := cmd.Run(); err != nil {
		execErr := &ExecError{
			Args:     args,
			Err:      err,
			ExitCode: -1,
			StdOut:   stdout.String(),
			StdErr:   stderr.String(),
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			execErr.ExitCode = exitErr.ExitCode()
		}
		return RunResult{Stdout: stdout.String(), Stderr: stderr.String()}, execErr
	}

	return RunResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}, nil
}

// ExecError is returned when a git command exits unsuccessfully.
type ExecError struct {
	Args     []string
	Err      error
	ExitCode int
	StdErr   string
	StdOut   string
}

func (e *ExecError) Error() string {
	b := new(strings.Builder)
	b.WriteString("git ")
	b.WriteString(strings.Join(e.Args, " "))
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if msg := strings.TrimSpace(e.StdErr); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// exitCode returns the exit status carried by err, or -1.
func exitCode(err error) int {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.ExitCode
	}
	return -1
}

// nulFields splits NUL-terminated command output. Fields are kept verbatim.
func nulFields(out string) []string {
	return lo.Compact(strings.Split(out, "\x00"))
}
