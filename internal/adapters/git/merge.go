package git

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/MyCarrier-DevOps/repo-merge/internal/domain"
)

// markerPattern matches the opening and closing conflict marker lines.
const markerPattern = "^(<<<<<<<|>>>>>>>)( |$)"

// Merge runs git merge with unrelated histories allowed and fast-forward
// disabled. A merge that stops on conflicts is reported through the result;
// any other failure wraps domain.ErrMergeProcess.
func (r *Repository) Merge(ctx context.Context, req domain.MergeRequest) (*domain.MergeResult, error) {
	args := []string{"merge", "--allow-unrelated-histories", "--no-ff", "--no-edit"}
	if req.NoCommit {
		args = append(args, "--no-commit")
	}
	if req.Strategy != "" {
		args = append(args, "-s", req.Strategy)
	}
	for _, opt := range req.StrategyOptions {
		args = append(args, "-X", opt)
	}
	if req.Message != "" {
		args = append(args, "-m", req.Message)
	}
	args = append(args, req.Ref)

	r.logger.Debug(ctx, "running merge", map[string]interface{}{
		"ref":              req.Ref,
		"strategy":         req.Strategy,
		"strategy_options": req.StrategyOptions,
		"no_commit":        req.NoCommit,
	})

	_, mergeErr := r.runner.Run(ctx, args...)
	if mergeErr == nil {
		return &domain.MergeResult{}, nil
	}

	paths, err := r.ConflictingPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w (while listing conflicts: %v)", domain.ErrMergeProcess, mergeErr, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrMergeProcess, mergeErr)
	}

	r.logger.Debug(ctx, "merge stopped on conflicts", map[string]interface{}{
		"ref":       req.Ref,
		"conflicts": paths,
	})
	return &domain.MergeResult{Conflicted: true, Paths: paths}, nil
}

// ConflictingPaths lists unmerged paths, sorted. Paths are read NUL-separated
// so they come back verbatim, without quoting or trimming.
func (r *Repository) ConflictingPaths(ctx context.Context) ([]string, error) {
	res, err := r.runner.Run(ctx, "diff", "-z", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicting paths: %w", err)
	}
	paths := lo.Uniq(nulFields(res.Stdout))
	sort.Strings(paths)
	return paths, nil
}

// ReadTreePrefix grafts ref's tree under prefix in both index and worktree.
func (r *Repository) ReadTreePrefix(ctx context.Context, prefix, ref string) error {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	if _, err := r.runner.Run(ctx, "read-tree", "--prefix="+prefix, "-u", ref); err != nil {
		return fmt.Errorf("%w: failed to graft %s under %s: %w", domain.ErrMergeProcess, ref, prefix, err)
	}
	return nil
}

// StageAll stages every change, including files still carrying conflict markers.
func (r *Repository) StageAll(ctx context.Context) error {
	if _, err := r.runner.Run(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("failed to stage changes: %w", err)
	}
	return nil
}

// Commit records the staged changes. With a merge in progress this creates
// the merge commit.
func (r *Repository) Commit(ctx context.Context, message string) error {
	if _, err := r.runner.Run(ctx, "commit", "--no-edit", "--no-verify", "-m", message); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// CommitEmpty records a commit without changes.
func (r *Repository) CommitEmpty(ctx context.Context, message string) error {
	if _, err := r.runner.Run(ctx, "commit", "--allow-empty", "--no-verify", "-m", message); err != nil {
		return fmt.Errorf("failed to create empty commit: %w", err)
	}
	return nil
}

// AbortMerge abandons the in-progress merge and restores the pre-merge state.
func (r *Repository) AbortMerge(ctx context.Context) error {
	if _, err := r.runner.Run(ctx, "merge", "--abort"); err != nil {
		return fmt.Errorf("failed to abort merge: %w", err)
	}
	return nil
}

// ResetHard moves HEAD, index and worktree to rev.
func (r *Repository) ResetHard(ctx context.Context, rev string) error {
	if _, err := r.runner.Run(ctx, "reset", "--hard", rev); err != nil {
		return fmt.Errorf("failed to reset to %s: %w", rev, err)
	}
	return nil
}

// MergeInProgress reports whether MERGE_HEAD exists.
func (r *Repository) MergeInProgress(ctx context.Context) (bool, error) {
	_, err := r.runner.Run(ctx, "rev-parse", "-q", "--verify", "MERGE_HEAD")
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, fmt.Errorf("failed to check for an in-progress merge: %w", err)
}

// WorkingTreeClean reports whether there are no staged, unstaged or untracked changes.
func (r *Repository) WorkingTreeClean(ctx context.Context) (bool, error) {
	res, err := r.runner.Run(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to read status: %w", err)
	}
	return strings.TrimSpace(res.Stdout) == "", nil
}

// IsAncestor reports whether ancestor is reachable from rev.
func (r *Repository) IsAncestor(ctx context.Context, ancestor, rev string) (bool, error) {
	_, err := r.runner.Run(ctx, "merge-base", "--is-ancestor", ancestor, rev)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, fmt.Errorf("failed to compare %s and %s: %w", ancestor, rev, err)
}

// HasConflictMarkers reports whether any of paths at rev still contains a
// conflict marker line.
func (r *Repository) HasConflictMarkers(ctx context.Context, rev string, paths []string) (bool, error) {
	if len(paths) == 0 {
		return false, nil
	}
	args := append([]string{"--literal-pathspecs", "grep", "-l", "-E", "-e", markerPattern, rev, "--"}, paths...)
	_, err := r.runner.Run(ctx, args...)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, fmt.Errorf("failed to search for conflict markers: %w", err)
}
