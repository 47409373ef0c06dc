// Package usecases contains the application business logic.
// This package orchestrates domain entities and interfaces to fold source
// repositories into a target one step at a time.
package usecases

import (
	"context"
	"errors"
	"fmt"

	"github.com/MyCarrier-DevOps/repo-merge/internal/domain"
)

// Logger defines the logging interface required by the use cases.
// This abstracts the logger dependency to avoid coupling to a specific implementation.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields map[string]interface{})
}

// SeedMessage is the message of the empty root commit created in a target
// without history.
const SeedMessage = "Initialize merge target"

// Validator confirms repositories exist and classifies them.
type Validator struct {
	git    domain.GitEngine
	logger Logger
}

// NewValidator creates a Validator backed by the given engine.
func NewValidator(git domain.GitEngine, log Logger) *Validator {
	return &Validator{git: git, logger: log}
}

// Validate inspects path without modifying it.
// Returns domain.ErrNotFound or domain.ErrNotARepository.
func (v *Validator) Validate(ctx context.Context, path string) (*domain.RepoInfo, error) {
	return v.git.Inspect(ctx, path)
}

// ValidateSource validates a source and requires it to have history.
func (v *Validator) ValidateSource(ctx context.Context, src domain.SourceRepository) (*domain.RepoInfo, error) {
	info, err := v.Validate(ctx, src.Path)
	if err != nil {
		return nil, err
	}
	if !info.HasHistory || info.DefaultBranch == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrEmptySource, src.Path)
	}
	return info, nil
}

// PrepareTarget opens the target, initializing it when missing. A target
// without history gets an empty root commit so every step records a real
// merge commit. The job's target state and tip are filled in.
func (v *Validator) PrepareTarget(ctx context.Context, job *domain.MergeJob) (domain.TargetRepo, error) {
	path := job.Target.Path

	info, err := v.Validate(ctx, path)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		v.logger.Info(ctx, "creating target repository", map[string]interface{}{
			"path": path,
		})
		if err := v.git.InitTarget(ctx, path, job.Identity); err != nil {
			return nil, err
		}
		job.Target.State = domain.RepoStateNew
	case err != nil:
		return nil, err
	case info.Bare:
		return nil, fmt.Errorf("%w: %s", domain.ErrBareTarget, path)
	case info.HasHistory:
		job.Target.State = domain.RepoStateExisting
	default:
		job.Target.State = domain.RepoStateEmpty
	}

	target, err := v.git.OpenTarget(ctx, path)
	if err != nil {
		return nil, err
	}

	if err := v.requireClean(ctx, target); err != nil {
		_ = target.Close()
		return nil, err
	}

	if job.Target.State != domain.RepoStateExisting {
		if err := target.CommitEmpty(ctx, SeedMessage); err != nil {
			_ = target.Close()
			return nil, err
		}
	}

	tip, err := target.Head(ctx)
	if err != nil {
		_ = target.Close()
		return nil, err
	}
	job.Target.Tip = tip

	v.logger.Info(ctx, "target repository ready", map[string]interface{}{
		"path":  path,
		"state": string(job.Target.State),
		"tip":   tip,
	})
	return target, nil
}

// requireClean rejects a target with pending changes, since aborting a step
// resets the working tree.
func (v *Validator) requireClean(ctx context.Context, target domain.TargetRepo) error {
	inProgress, err := target.MergeInProgress(ctx)
	if err != nil {
		return err
	}
	clean, err := target.WorkingTreeClean(ctx)
	if err != nil {
		return err
	}
	if inProgress || !clean {
		return fmt.Errorf("%w: %s", domain.ErrTargetDirty, target.Path())
	}
	return nil
}
