package usecases

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"github.com/MyCarrier-DevOps/repo-merge/internal/domain"
)

// RemoteManager registers sources as temporary remotes of the target.
type RemoteManager struct {
	sink   domain.EventSink
	logger Logger
}

// NewRemoteManager creates a RemoteManager.
func NewRemoteManager(sink domain.EventSink, log Logger) *RemoteManager {
	return &RemoteManager{sink: sink, logger: log}
}

// AttachedRemote is a source registered and fetched into the target. It must
// be released before the step that attached it ends.
type AttachedRemote struct {
	Label  string
	Branch string

	// Tip is the fetched commit of Branch.
	Tip string

	source   domain.SourceRepository
	target   domain.TargetRepo
	manager  *RemoteManager
	released bool
}

// Attach registers source as a remote of target under its label, fetches
// every branch and resolves the tip of branch. On failure nothing stays
// registered.
func (m *RemoteManager) Attach(
	ctx context.Context,
	target domain.TargetRepo,
	source domain.SourceRepository,
	branch string,
) (*AttachedRemote, error) {
	remotes, err := target.Remotes(ctx)
	if err != nil {
		return nil, err
	}
	if lo.Contains(remotes, source.Label) {
		m.logger.Warn(ctx, "removing stale remote left by a previous run", map[string]interface{}{
			"label": source.Label,
		})
		if err := target.RemoveRemote(ctx, source.Label); err != nil {
			return nil, err
		}
	}

	remote := &AttachedRemote{
		Label:   source.Label,
		Branch:  branch,
		source:  source,
		target:  target,
		manager: m,
	}

	if err := target.AddRemote(ctx, source.Label, source.Path); err != nil {
		return nil, combine(err, remote.Release(context.WithoutCancel(ctx)))
	}

	m.logger.Info(ctx, "fetching source", map[string]interface{}{
		"index":  source.Index,
		"source": source.Path,
		"label":  source.Label,
	})
	if err := target.Fetch(ctx, source.Label); err != nil {
		return nil, combine(err, remote.Release(context.WithoutCancel(ctx)))
	}

	tip, err := target.ResolveRef(ctx, domain.TrackingRef(source.Label, branch))
	if err != nil {
		err = fmt.Errorf("%w: branch %s not found after fetch: %w", domain.ErrFetch, branch, err)
		return nil, combine(err, remote.Release(context.WithoutCancel(ctx)))
	}
	remote.Tip = tip

	m.sink.Emit(ctx, domain.Event{
		Kind:    domain.EventRemoteAttached,
		Index:   source.Index,
		Source:  source.Path,
		Message: fmt.Sprintf("%s/%s at %s", source.Label, branch, shortSHA(tip)),
	})
	return remote, nil
}

// Release removes the remote registration and its tracking refs. Calling it
// more than once is a no-op.
func (a *AttachedRemote) Release(ctx context.Context) error {
	if a.released {
		return nil
	}
	if err := a.target.RemoveRemote(ctx, a.Label); err != nil {
		return err
	}
	a.released = true
	a.manager.sink.Emit(ctx, domain.Event{
		Kind:   domain.EventRemoteReleased,
		Index:  a.source.Index,
		Source: a.source.Path,
	})
	return nil
}

// WithRemote attaches source, runs fn and releases the remote on every exit
// path. A release failure is reported together with fn's error.
func (m *RemoteManager) WithRemote(
	ctx context.Context,
	target domain.TargetRepo,
	source domain.SourceRepository,
	branch string,
	fn func(remote *AttachedRemote) error,
) (err error) {
	remote, err := m.Attach(ctx, target, source, branch)
	if err != nil {
		return err
	}
	defer func() {
		err = combine(err, remote.Release(context.WithoutCancel(ctx)))
	}()
	return fn(remote)
}

// combine returns the non-nil error, or both aggregated.
func combine(primary, secondary error) error {
	switch {
	case secondary == nil:
		return primary
	case primary == nil:
		return secondary
	default:
		return multierror.Append(primary, secondary)
	}
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
