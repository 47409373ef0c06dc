package domain

import (
	"fmt"
	"strings"
)

// EventKind names a progress event.
type EventKind string

const (
	EventJobStarted      EventKind = "job-started"
	EventTargetPrepared  EventKind = "target-prepared"
	EventStepStarted     EventKind = "step-started"
	EventRemoteAttached  EventKind = "remote-attached"
	EventRemoteReleased  EventKind = "remote-released"
	EventConflictPending EventKind = "conflict-pending"
	EventResolutionCheck EventKind = "resolution-rejected"
	EventStepFinished    EventKind = "step-finished"
	EventJobFinished     EventKind = "job-finished"
)

// Event is a structured progress record.
type Event struct {
	Kind    EventKind
	Index   int
	Source  string
	Outcome StepOutcome
	Paths   []string
	Message string
}

// StepResult is the per-source record kept in the job report.
type StepResult struct {
	Index            int
	Source           string
	Outcome          StepOutcome
	ConflictingPaths []string
	PreTip           string
	PostTip          string
	SourceTip        string
	// AlreadyMerged is set when the target already contained the source tip
	// and the step committed nothing.
	AlreadyMerged    bool
	Err              error
}

// JobReport summarizes a run.
type JobReport struct {
	Target      TargetRepository
	Mode        MergeMode
	Steps       []StepResult
	Completed   bool
	FailedIndex int
}

// NewJobReport returns an empty report for job.
func NewJobReport(job *MergeJob) *JobReport {
	return &JobReport{
		Target:      job.Target,
		Mode:        job.Mode,
		FailedIndex: -1,
	}
}

// StepError is returned when a step halts the job. It names the failing
// source and the recovery action.
type StepError struct {
	Index int
	Path  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("source %d (%s): %v; %s", e.Index, e.Path, e.Err, e.Recovery())
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Recovery describes what the operator does next.
func (e *StepError) Recovery() string {
	if e.Index == 0 {
		return "the target is unchanged; fix the source and re-run"
	}
	return fmt.Sprintf(
		"sources 0..%d are merged and preserved; fix this source and re-run the same command (merged sources are skipped)",
		e.Index-1)
}

// ResolutionInstructions is the operator guidance for a suspended manual step.
func ResolutionInstructions(targetPath string, paths []string) string {
	var b strings.Builder
	b.WriteString("Merge conflicts detected in:\n")
	for _, p := range paths {
		b.WriteString("  " + p + "\n")
	}
	b.WriteString("To resolve:\n")
	b.WriteString("  cd " + targetPath + "\n")
	b.WriteString("  edit the files above and remove the conflict markers\n")
	b.WriteString("  git add <resolved-files>\n")
	b.WriteString("  git commit --no-edit   (or: git merge --continue)\n")
	b.WriteString("Then confirm to continue, or choose abort to roll this source back.")
	return b.String()
}
