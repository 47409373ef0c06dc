// Package domain defines the core business entities and interfaces for repo-merge.
package domain

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
)

// MinSources is the smallest number of source repositories a job accepts.
const MinSources = 2

// LabelPrefix prefixes the temporary remote name registered for each source.
const LabelPrefix = "repo-merge-source-"

// Default identity written into a newly created target repository.
const (
	DefaultAuthorName  = "Repo Merger"
	DefaultAuthorEmail = "merge@example.com"
)

// RepoState classifies a target repository before the first merge step.
type RepoState string

const (
	// RepoStateNew means the target did not exist and was initialized by this run.
	RepoStateNew RepoState = "new"

	// RepoStateEmpty means the target existed but had no commits.
	RepoStateEmpty RepoState = "empty"

	// RepoStateExisting means the target already had history.
	RepoStateExisting RepoState = "existing"
)

// Layout controls where each source's tree lands in the target.
type Layout string

const (
	// LayoutFlat merges every source onto the same root.
	LayoutFlat Layout = "flat"

	// LayoutSubdirectory grafts each source's tree under its own directory.
	LayoutSubdirectory Layout = "subdirectory"
)

// Identity is the committer identity configured on a newly created target.
type Identity struct {
	Name  string
	Email string
}

// TargetRepository is the destination accumulating merged content and history.
type TargetRepository struct {
	// Path is the absolute filesystem location.
	Path string

	// State is how the target looked before the run started.
	State RepoState

	// Tip is the current HEAD commit. The orchestrator advances it after
	// every committed step.
	Tip string
}

// SourceRepository is one input folded into the target, in declared order.
type SourceRepository struct {
	// Index is the zero-based position in the declared order.
	Index int

	// Path is the absolute filesystem location.
	Path string

	// Name is the directory base name, used in commit messages.
	Name string

	// Label is the temporary remote name. It is derived from Index only so
	// two sources sharing a directory name never collide.
	Label string

	// Dir is the directory the source is grafted under in LayoutSubdirectory.
	Dir string
}

// MergeJob is one run of the tool: an ordered list of sources folded into a target.
type MergeJob struct {
	Target   TargetRepository
	Sources  []SourceRepository
	Mode     MergeMode
	Layout   Layout
	Identity Identity
	Verbose  bool
}

// JobInput is the validated-by-construction input of NewMergeJob.
type JobInput struct {
	TargetPath     string
	SourcePaths    []string
	Policy         string
	CustomOption   string
	Subdirectories bool
	AuthorName     string
	AuthorEmail    string
	Verbose        bool
}

// NewMergeJob validates input and builds the immutable job description.
// Paths are made absolute; no filesystem access happens here.
func NewMergeJob(in JobInput) (*MergeJob, error) {
	if strings.TrimSpace(in.TargetPath) == "" {
		return nil, fmt.Errorf("%w: target", ErrEmptyPath)
	}
	if len(in.SourcePaths) < MinSources {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewSources, len(in.SourcePaths))
	}

	mode, err := NewMergeMode(in.Policy, in.CustomOption)
	if err != nil {
		return nil, err
	}

	target, err := filepath.Abs(in.TargetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target path %s: %w", in.TargetPath, err)
	}

	sources := make([]SourceRepository, 0, len(in.SourcePaths))
	for i, p := range in.SourcePaths {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("%w: source %d", ErrEmptyPath, i)
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve source path %s: %w", p, err)
		}
		if abs == target {
			return nil, fmt.Errorf("%w: source %d is the target itself", ErrInvalidSource, i)
		}
		sources = append(sources, SourceRepository{
			Index: i,
			Path:  abs,
			Name:  filepath.Base(abs),
			Label: SourceLabel(i),
		})
	}
	assignDirs(sources)

	layout := LayoutFlat
	if in.Subdirectories {
		layout = LayoutSubdirectory
	}

	identity := Identity{Name: in.AuthorName, Email: in.AuthorEmail}
	if identity.Name == "" {
		identity.Name = DefaultAuthorName
	}
	if identity.Email == "" {
		identity.Email = DefaultAuthorEmail
	}

	return &MergeJob{
		Target:   TargetRepository{Path: target},
		Sources:  sources,
		Mode:     mode,
		Layout:   layout,
		Identity: identity,
		Verbose:  in.Verbose,
	}, nil
}

// SourceLabel returns the remote name used for the source at index.
func SourceLabel(index int) string {
	return fmt.Sprintf("%s%d", LabelPrefix, index)
}

// TrackingRef returns the remote-tracking ref of branch fetched under label.
func TrackingRef(label, branch string) string {
	return "refs/remotes/" + label + "/" + branch
}

// assignDirs gives each source a unique graft directory. Sources sharing a
// base name get their index appended.
func assignDirs(sources []SourceRepository) {
	counts := lo.CountValuesBy(sources, func(s SourceRepository) string { return s.Name })
	for i := range sources {
		if counts[sources[i].Name] > 1 {
			sources[i].Dir = fmt.Sprintf("%s-%d", sources[i].Name, sources[i].Index)
			continue
		}
		sources[i].Dir = sources[i].Name
	}
}

// RepoInfo describes a repository found by the validator.
type RepoInfo struct {
	// Path is the inspected location.
	Path string

	// Bare is true for repositories without a working tree.
	Bare bool

	// HasHistory is false when HEAD does not resolve to a commit.
	HasHistory bool

	// Head is the HEAD commit, empty when HasHistory is false.
	Head string

	// DefaultBranch is the branch merged from this repository when it is a source.
	DefaultBranch string
}
