// Package domain defines the core business entities and interfaces for repo-merge.
// This package contains no I/O and represents the innermost layer of the
// CLEAN architecture.
package domain

import (
	"context"
	"errors"
)

// Input errors. The job never starts when one of these is returned.
var (
	// ErrEmptyPath indicates a blank target or source path.
	ErrEmptyPath = errors.New("repository path is empty")

	// ErrTooFewSources indicates fewer than MinSources sources were given.
	ErrTooFewSources = errors.New("at least two source repositories are required")

	// ErrConflictingMode indicates both a policy and a custom option were selected.
	ErrConflictingMode = errors.New("a resolution policy and a custom option are mutually exclusive")

	// ErrUnknownPolicy indicates an unrecognized policy name.
	ErrUnknownPolicy = errors.New("unknown resolution policy")

	// ErrInvalidSource indicates a source that cannot be merged for a structural reason.
	ErrInvalidSource = errors.New("invalid source repository")

	// ErrNotFound indicates the path does not exist.
	ErrNotFound = errors.New("path does not exist")

	// ErrNotARepository indicates the path exists but has no git metadata.
	ErrNotARepository = errors.New("not a git repository")

	// ErrEmptySource indicates a source repository without any commit.
	ErrEmptySource = errors.New("source repository has no commits")

	// ErrTargetDirty indicates uncommitted changes or an unfinished merge in the target.
	ErrTargetDirty = errors.New("target repository has uncommitted changes or a merge in progress")

	// ErrBareTarget indicates the target has no working tree.
	ErrBareTarget = errors.New("target repository is bare")
)

// Step errors.
var (
	// ErrFetch indicates the source could not be fetched into the target.
	ErrFetch = errors.New("failed to fetch source repository")

	// ErrMergeProcess indicates the merge primitive failed for a reason other than conflicts.
	ErrMergeProcess = errors.New("merge process failed")

	// ErrUnresolvedConflict indicates conflicts remained where the policy required a clean tree.
	ErrUnresolvedConflict = errors.New("conflicts remain after automatic resolution")

	// ErrOperatorAbort indicates the operator aborted a manual resolution.
	ErrOperatorAbort = errors.New("merge aborted by operator")

	// ErrIllegalTransition indicates a bug in the step state machine.
	ErrIllegalTransition = errors.New("illegal merge state transition")
)

// GitEngine is the version-control capability the merge core depends on.
type GitEngine interface {
	// Inspect reports what lives at path. Side-effect free.
	// Returns ErrNotFound or ErrNotARepository.
	Inspect(ctx context.Context, path string) (*RepoInfo, error)

	// InitTarget creates a repository at path, writing identity into its
	// local configuration. The directory is created when missing.
	InitTarget(ctx context.Context, path string, identity Identity) error

	// OpenTarget opens an existing non-bare repository for merging.
	OpenTarget(ctx context.Context, path string) (TargetRepo, error)
}

// MergeRequest describes one invocation of the merge primitive. Unrelated
// histories are always allowed and fast-forwards are never taken.
type MergeRequest struct {
	// Ref is the commit merged into HEAD.
	Ref string

	// Message is the merge commit message.
	Message string

	// Strategy is passed as -s when set.
	Strategy string

	// StrategyOptions are passed as -X, in order.
	StrategyOptions []string

	// NoCommit stops before the merge commit is created.
	NoCommit bool
}

// MergeResult is what the merge primitive reported.
type MergeResult struct {
	// Conflicted is true when the merge stopped on conflicting paths.
	Conflicted bool

	// Paths lists the conflicting paths when Conflicted is true.
	Paths []string
}

// TargetRepo is an opened target repository. Every method is a scoped,
// synchronous call into the git engine.
type TargetRepo interface {
	Path() string

	// Head returns the HEAD commit, or "" when HEAD is unborn.
	Head(ctx context.Context) (string, error)

	AddRemote(ctx context.Context, label, url string) error

	// RemoveRemote removes the remote registration and its tracking refs.
	RemoveRemote(ctx context.Context, label string) error

	Remotes(ctx context.Context) ([]string, error)

	// Fetch fetches every branch of the remote into refs/remotes/<label>/.
	Fetch(ctx context.Context, label string) error

	// ResolveRef returns the commit a ref or revision points to.
	ResolveRef(ctx context.Context, ref string) (string, error)

	// Merge runs the merge primitive. Conflicts are reported through the
	// result, not as an error.
	Merge(ctx context.Context, req MergeRequest) (*MergeResult, error)

	// ReadTreePrefix grafts ref's tree under prefix in the index and worktree.
	ReadTreePrefix(ctx context.Context, prefix, ref string) error

	StageAll(ctx context.Context) error
	Commit(ctx context.Context, message string) error

	// CommitEmpty records a commit with no changes, used to seed unborn targets.
	CommitEmpty(ctx context.Context, message string) error

	AbortMerge(ctx context.Context) error
	ResetHard(ctx context.Context, rev string) error

	ConflictingPaths(ctx context.Context) ([]string, error)
	MergeInProgress(ctx context.Context) (bool, error)
	WorkingTreeClean(ctx context.Context) (bool, error)

	// IsAncestor reports whether ancestor is reachable from rev.
	IsAncestor(ctx context.Context, ancestor, rev string) (bool, error)

	// HasConflictMarkers reports whether any of paths at rev contains a
	// conflict marker line.
	HasConflictMarkers(ctx context.Context, rev string, paths []string) (bool, error)

	Close() error
}

// Decision is the operator's answer while a manual step is suspended.
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionAbort    Decision = "abort"
)

// ResolutionPrompt is shown to the operator while a manual step is suspended.
type ResolutionPrompt struct {
	Index        int
	Source       string
	TargetPath   string
	Paths        []string
	Instructions string

	// Attempt counts confirmations; Problem explains why the previous one
	// was not accepted.
	Attempt int
	Problem string
}

// Confirmer blocks until the operator decides how a suspended step continues.
type Confirmer interface {
	AwaitResolution(ctx context.Context, prompt ResolutionPrompt) (Decision, error)
}

// EventSink receives progress events. The core never renders them itself.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// JobRunner executes a merge job.
type JobRunner interface {
	// Run folds every source into the target in order. The report is returned
	// even when the job halts.
	Run(ctx context.Context, job *MergeJob) (*JobReport, error)
}

// ReportWriter renders the job report for the operator.
type ReportWriter interface {
	WriteReport(report *JobReport, stepErr *StepError) error
}
