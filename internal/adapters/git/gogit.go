// Package git provides the git engine used to fold source repositories into a target.
// Repository inspection, initialization, remotes and fetch go through go-git/v5;
// merge, commit and working tree operations run the git CLI.
package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/samber/lo"

	"github.com/MyCarrier-DevOps/repo-merge/internal/domain"
)

// Logger defines the logging interface for the git adapter.
type Logger interface {
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
}

// fallbackBranches are tried, in order, when a source has a detached HEAD.
var fallbackBranches = []string{"main", "master"}

// Engine implements domain.GitEngine.
type Engine struct {
	logger Logger

	// mirror receives git output when verbose; nil otherwise.
	mirror io.Writer
}

// NewEngine creates an Engine. When mirror is not nil every git command's
// output is copied to it.
func NewEngine(log Logger, mirror io.Writer) *Engine {
	return &Engine{logger: log, mirror: mirror}
}

// Inspect reports what lives at path without modifying it.
// Returns domain.ErrNotFound or domain.ErrNotARepository.
func (e *Engine) Inspect(ctx context.Context, path string) (*domain.RepoInfo, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotARepository, path)
	}

	info := &domain.RepoInfo{Path: path}
	if _, err := repo.Worktree(); errors.Is(err, git.ErrIsBareRepository) {
		info.Bare = true
	}

	head, err := repo.Head()
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		info.DefaultBranch = unbornBranch(repo)
	case err != nil:
		return nil, fmt.Errorf("failed to read HEAD of %s: %w", path, err)
	default:
		info.HasHistory = true
		info.Head = head.Hash().String()
		if head.Name().IsBranch() {
			info.DefaultBranch = head.Name().Short()
		} else {
			info.DefaultBranch, err = detachedBranch(repo)
			if err != nil {
				return nil, fmt.Errorf("failed to pick a branch of %s: %w", path, err)
			}
			e.logger.Warn(ctx, "HEAD is detached; merging fallback branch", map[string]interface{}{
				"path":   path,
				"branch": info.DefaultBranch,
			})
		}
	}

	e.logger.Debug(ctx, "inspected repository", map[string]interface{}{
		"path":           path,
		"bare":           info.Bare,
		"has_history":    info.HasHistory,
		"head":           info.Head,
		"default_branch": info.DefaultBranch,
	})

	return info, nil
}

// unbornBranch returns the branch HEAD points to in a repository without commits.
func unbornBranch(repo *git.Repository) string {
	ref, err := repo.Storer.Reference(plumbing.HEAD)
	if err != nil || ref.Type() != plumbing.SymbolicReference {
		return ""
	}
	return ref.Target().Short()
}

// detachedBranch picks main, then master, then the first branch by name.
func detachedBranch(repo *git.Repository) (string, error) {
	iter, err := repo.Branches()
	if err != nil {
		return "", err
	}
	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	if err != nil {
		return "", err
	}
	for _, b := range fallbackBranches {
		if lo.Contains(names, b) {
			return b, nil
		}
	}
	if len(names) == 0 {
		return "", errors.New("repository has no branches")
	}
	sort.Strings(names)
	return names[0], nil
}

// InitTarget creates a non-bare repository on branch main and writes identity
// into its local configuration.
func (e *Engine) InitTarget(ctx context.Context, path string, identity domain.Identity) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	repo, err := git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName("main"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize %s: %w", path, err)
	}

	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("failed to read config of %s: %w", path, err)
	}
	cfg.User.Name = identity.Name
	cfg.User.Email = identity.Email
	if err := repo.SetConfig(cfg); err != nil {
		return fmt.Errorf("failed to write config of %s: %w", path, err)
	}

	e.logger.Debug(ctx, "initialized target repository", map[string]interface{}{
		"path":         path,
		"author_name":  identity.Name,
		"author_email": identity.Email,
	})
	return nil
}

// OpenTarget opens a non-bare repository for merging.
func (e *Engine) OpenTarget(_ context.Context, path string) (domain.TargetRepo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotARepository, path)
	}
	if _, err := repo.Worktree(); errors.Is(err, git.ErrIsBareRepository) {
		return nil, fmt.Errorf("%w: %s", domain.ErrBareTarget, path)
	}

	runner, err := NewRunner(path, e.mirror)
	if err != nil {
		return nil, err
	}

	return &Repository{
		repo:   repo,
		path:   path,
		runner: runner,
		logger: e.logger,
	}, nil
}

// Repository implements domain.TargetRepo.
type Repository struct {
	repo   *git.Repository
	path   string
	runner *Runner
	logger Logger
}

// Path returns the repository location.
func (r *Repository) Path() string {
	return r.path
}

// Head returns the HEAD commit, or "" when HEAD is unborn.
func (r *Repository) Head(_ context.Context) (string, error) {
	head, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// AddRemote registers url as remote label fetching every branch into
// refs/remotes/<label>/.
func (r *Repository) AddRemote(ctx context.Context, label, url string) error {
	_, err := r.repo.CreateRemote(&config.RemoteConfig{
		Name:  label,
		URLs:  []string{url},
		Fetch: []config.RefSpec{trackingRefSpec(label)},
	})
	if err != nil {
		return fmt.Errorf("failed to add remote %s: %w", label, err)
	}
	r.logger.Debug(ctx, "added remote", map[string]interface{}{
		"label": label,
		"url":   url,
	})
	return nil
}

// RemoveRemote deletes the remote registration and its tracking refs.
func (r *Repository) RemoveRemote(ctx context.Context, label string) error {
	if err := r.repo.DeleteRemote(label); err != nil && !errors.Is(err, git.ErrRemoteNotFound) {
		return fmt.Errorf("failed to remove remote %s: %w", label, err)
	}

	prefix := domain.TrackingRef(label, "")
	refs, err := r.repo.References()
	if err != nil {
		return fmt.Errorf("failed to list references: %w", err)
	}
	var stale []plumbing.ReferenceName
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if strings.HasPrefix(ref.Name().String(), prefix) {
			stale = append(stale, ref.Name())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list references: %w", err)
	}
	for _, name := range stale {
		if err := r.repo.Storer.RemoveReference(name); err != nil {
			return fmt.Errorf("failed to remove reference %s: %w", name, err)
		}
	}

	r.logger.Debug(ctx, "removed remote", map[string]interface{}{
		"label":        label,
		"refs_removed": len(stale),
	})
	return nil
}

// Remotes lists the registered remote names.
func (r *Repository) Remotes(_ context.Context) ([]string, error) {
	remotes, err := r.repo.Remotes()
	if err != nil {
		return nil, fmt.Errorf("failed to list remotes: %w", err)
	}
	return lo.Map(remotes, func(rm *git.Remote, _ int) string {
		return rm.Config().Name
	}), nil
}

// Fetch fetches every branch of remote label. Tags are not fetched so that
// tags of different sources cannot clobber each other.
func (r *Repository) Fetch(ctx context.Context, label string) error {
	err := r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: label,
		RefSpecs:   []config.RefSpec{trackingRefSpec(label)},
		Tags:       git.NoTags,
		Progress:   r.runner.Mirror,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("%w from remote %s: %w", domain.ErrFetch, label, err)
	}
	return nil
}

// ResolveRef returns the commit a reference points to.
func (r *Repository) ResolveRef(_ context.Context, ref string) (string, error) {
	resolved, err := r.repo.Reference(plumbing.ReferenceName(ref), true)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", ref, err)
	}
	return resolved.Hash().String(), nil
}

// Close releases any resources held by the repository.
// For go-git and the CLI runner this is a no-op.
func (r *Repository) Close() error {
	return nil
}

func trackingRefSpec(label string) config.RefSpec {
	return config.RefSpec("+refs/heads/*:refs/remotes/" + label + "/*")
}
