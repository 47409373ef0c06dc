package usecases

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyCarrier-DevOps/repo-merge/internal/domain"
)

const targetPath = "/work/target"

// fixture builds an orchestrator over a mock engine with an existing target
// and the given sources, each with a distinct tip.
type fixture struct {
	engine *mockEngine
	target *mockTarget
	sink   *recordingSink
}

func newFixture(sources ...string) *fixture {
	target := newMockTarget(targetPath)
	target.head = "base"
	engine := newMockEngine(target)
	engine.repos[targetPath] = &domain.RepoInfo{Path: targetPath, HasHistory: true, Head: "base", DefaultBranch: "main"}
	for _, src := range sources {
		engine.addSource(src, "tip-"+src)
	}
	return &fixture{engine: engine, target: target, sink: &recordingSink{}}
}

func (f *fixture) run(t *testing.T, confirmer domain.Confirmer, in domain.JobInput) (*domain.JobReport, error) {
	t.Helper()
	if in.TargetPath == "" {
		in.TargetPath = targetPath
	}
	job, err := domain.NewMergeJob(in)
	require.NoError(t, err)
	return NewOrchestrator(f.engine, confirmer, f.sink, &mockLogger{}).Run(context.Background(), job)
}

func TestOrchestrator_Run_AllClean(t *testing.T) {
	f := newFixture("/src/a", "/src/b")

	report, err := f.run(t, nil, domain.JobInput{SourcePaths: []string{"/src/a", "/src/b"}})

	require.NoError(t, err)
	assert.True(t, report.Completed)
	assert.Equal(t, -1, report.FailedIndex)
	require.Len(t, report.Steps, 2)
	for i, step := range report.Steps {
		assert.Equal(t, i, step.Index)
		assert.Equal(t, domain.OutcomeClean, step.Outcome)
		assert.NotEqual(t, step.PreTip, step.PostTip)
	}
	assert.Equal(t, report.Steps[0].PostTip, report.Steps[1].PreTip)
	assert.Equal(t, f.target.head, report.Target.Tip)
	assert.True(t, f.target.contains["tip-/src/a"])
	assert.True(t, f.target.contains["tip-/src/b"])
	assert.Empty(t, f.target.remotes)
	assert.True(t, f.target.closed)
	assert.Equal(t, []string{"/src/a", "/src/b"}, f.target.fetched)

	assert.Equal(t, 2, f.sink.count(domain.EventRemoteAttached))
	assert.Equal(t, 2, f.sink.count(domain.EventRemoteReleased))
	assert.Equal(t, domain.EventJobStarted, f.sink.kinds()[0])
	assert.Equal(t, domain.EventJobFinished, f.sink.kinds()[len(f.sink.events)-1])
}

func TestOrchestrator_Run_MergeMessagesNameSources(t *testing.T) {
	f := newFixture("/src/alpha", "/src/beta")

	_, err := f.run(t, nil, domain.JobInput{SourcePaths: []string{"/src/alpha", "/src/beta"}})

	require.NoError(t, err)
	require.Len(t, f.target.merges, 2)
	assert.Equal(t, "Merge alpha repository", f.target.merges[0].Message)
	assert.Equal(t, "Merge beta repository", f.target.merges[1].Message)
	assert.Equal(t, "tip-/src/alpha", f.target.merges[0].Ref)
}

func TestOrchestrator_Run_FetchFailureHaltsAtFailingSource(t *testing.T) {
	f := newFixture("/src/a", "/src/b", "/src/c")
	f.target.fetchErr["/src/b"] = errors.New("connection refused")

	report, err := f.run(t, nil, domain.JobInput{SourcePaths: []string{"/src/a", "/src/b", "/src/c"}})

	require.Error(t, err)
	var stepErr *domain.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 1, stepErr.Index)
	assert.Equal(t, "/src/b", stepErr.Path)
	assert.ErrorIs(t, err, domain.ErrFetch)
	assert.Contains(t, err.Error(), "sources 0..0 are merged and preserved")

	assert.False(t, report.Completed)
	assert.Equal(t, 1, report.FailedIndex)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, domain.OutcomeClean, report.Steps[0].Outcome)
	assert.Equal(t, domain.OutcomeAborted, report.Steps[1].Outcome)

	// The first merge survives and the third source is never touched.
	assert.True(t, f.target.contains["tip-/src/a"])
	assert.Equal(t, report.Steps[0].PostTip, f.target.head)
	assert.Equal(t, []string{"/src/a", "/src/b"}, f.target.fetched)
	assert.Empty(t, f.target.remotes)
}

func TestOrchestrator_Run_FirstSourceFailureLeavesTargetUnchanged(t *testing.T) {
	f := newFixture("/src/a", "/src/b")
	f.target.mergeErr = errors.New("boom")

	report, err := f.run(t, nil, domain.JobInput{SourcePaths: []string{"/src/a", "/src/b"}})

	var stepErr *domain.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 0, stepErr.Index)
	assert.Contains(t, err.Error(), "the target is unchanged")
	assert.Equal(t, "base", f.target.head)
	assert.Equal(t, 0, report.FailedIndex)
	assert.Empty(t, f.target.remotes)
}

func TestOrchestrator_Run_InputErrorsNeverTouchTarget(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		wantErr error
	}{
		{
			name:    "missing source",
			setup:   func(f *fixture) { delete(f.engine.repos, "/src/b") },
			wantErr: domain.ErrNotFound,
		},
		{
			name: "source without commits",
			setup: func(f *fixture) {
				f.engine.repos["/src/b"] = &domain.RepoInfo{Path: "/src/b", DefaultBranch: "main"}
			},
			wantErr: domain.ErrEmptySource,
		},
		{
			name:    "source is not a repository",
			setup:   func(f *fixture) { f.engine.inspectErr["/src/a"] = domain.ErrNotARepository },
			wantErr: domain.ErrNotARepository,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture("/src/a", "/src/b")
			tt.setup(f)

			report, err := f.run(t, nil, domain.JobInput{SourcePaths: []string{"/src/a", "/src/b"}})

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			var stepErr *domain.StepError
			assert.False(t, errors.As(err, &stepErr))
			assert.Empty(t, report.Steps)
			assert.Empty(t, f.target.merges)
			assert.Empty(t, f.target.emptySet)
			assert.Empty(t, f.engine.inits)
		})
	}
}

func TestOrchestrator_Run_NewTargetIsInitializedAndSeeded(t *testing.T) {
	f := newFixture("/src/a", "/src/b")
	delete(f.engine.repos, targetPath)
	f.target.head = ""

	report, err := f.run(t, nil, domain.JobInput{SourcePaths: []string{"/src/a", "/src/b"}})

	require.NoError(t, err)
	assert.Equal(t, []string{targetPath}, f.engine.inits)
	assert.Equal(t, []string{SeedMessage}, f.target.emptySet)
	assert.Equal(t, domain.RepoStateNew, report.Target.State)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, "c001", report.Steps[0].PreTip)
}

func TestOrchestrator_Run_EmptyTargetIsSeeded(t *testing.T) {
	f := newFixture("/src/a", "/src/b")
	f.engine.repos[targetPath] = &domain.RepoInfo{Path: targetPath, DefaultBranch: "main"}
	f.target.head = ""

	report, err := f.run(t, nil, domain.JobInput{SourcePaths: []string{"/src/a", "/src/b"}})

	require.NoError(t, err)
	assert.Empty(t, f.engine.inits)
	assert.Equal(t, []string{SeedMessage}, f.target.emptySet)
	assert.Equal(t, domain.RepoStateEmpty, report.Target.State)
}

func TestOrchestrator_Run_TargetPreconditions(t *testing.T) {
	t.Run("dirty target", func(t *testing.T) {
		f := newFixture("/src/a", "/src/b")
		f.target.dirty = true

		_, err := f.run(t, nil, domain.JobInput{SourcePaths: []string{"/src/a", "/src/b"}})

		assert.ErrorIs(t, err, domain.ErrTargetDirty)
		assert.Empty(t, f.target.merges)
	})

	t.Run("bare target", func(t *testing.T) {
		f := newFixture("/src/a", "/src/b")
		f.engine.repos[targetPath].Bare = true

		_, err := f.run(t, nil, domain.JobInput{SourcePaths: []string{"/src/a", "/src/b"}})

		assert.ErrorIs(t, err, domain.ErrBareTarget)
	})
}

func TestOrchestrator_Run_StaleRemoteIsReplaced(t *testing.T) {
	f := newFixture("/src/a", "/src/b")
	f.target.remotes[domain.SourceLabel(0)] = "/old/path"

	_, err := f.run(t, nil, domain.JobInput{SourcePaths: []string{"/src/a", "/src/b"}})

	require.NoError(t, err)
	assert.Empty(t, f.target.remotes)
	assert.Equal(t, []string{"/src/a", "/src/b"}, f.target.fetched)
}

func TestOrchestrator_Run_CancelledContextHaltsBeforeNextStep(t *testing.T) {
	f := newFixture("/src/a", "/src/b")
	job, err := domain.NewMergeJob(domain.JobInput{TargetPath: targetPath, SourcePaths: []string{"/src/a", "/src/b"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := NewOrchestrator(f.engine, nil, nil, &mockLogger{}).Run(ctx, job)

	var stepErr *domain.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 0, stepErr.Index)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.target.merges)
	assert.Equal(t, 0, report.FailedIndex)
}

func TestOrchestrator_Run_SubdirectoryLayout(t *testing.T) {
	f := newFixture("/a/lib", "/b/lib", "/c/app")

	report, err := f.run(t, nil, domain.JobInput{
		SourcePaths:    []string{"/a/lib", "/b/lib", "/c/app"},
		Subdirectories: true,
		Policy:         "theirs",
	})

	require.NoError(t, err)
	assert.True(t, report.Completed)
	assert.Equal(t, []string{"lib-0=tip-/a/lib", "lib-1=tip-/b/lib", "app=tip-/c/app"}, f.target.grafts)
	for _, m := range f.target.merges {
		assert.Equal(t, "ours", m.Strategy)
		assert.True(t, m.NoCommit)
		assert.Empty(t, m.StrategyOptions)
	}
	assert.Contains(t, f.target.calls, "commit Merge lib repository into lib-0/")
}

func TestOrchestrator_Run_RerunAfterHaltSkipsMergedSources(t *testing.T) {
	f := newFixture("/src/a", "/src/b", "/src/c")
	f.target.fetchErr["/src/c"] = errors.New("connection refused")
	in := domain.JobInput{SourcePaths: []string{"/src/a", "/src/b", "/src/c"}}

	_, err := f.run(t, nil, in)
	var stepErr *domain.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 2, stepErr.Index)
	assert.Contains(t, stepErr.Recovery(), "re-run the same command")
	haltedAt := f.target.head

	delete(f.target.fetchErr, "/src/c")
	report, err := f.run(t, nil, in)

	require.NoError(t, err)
	assert.True(t, report.Completed)
	require.Len(t, report.Steps, 3)
	for _, step := range report.Steps[:2] {
		assert.Equal(t, domain.OutcomeClean, step.Outcome)
		assert.True(t, step.AlreadyMerged)
		assert.Equal(t, haltedAt, step.PostTip)
	}
	assert.False(t, report.Steps[2].AlreadyMerged)
	assert.NotEqual(t, haltedAt, report.Steps[2].PostTip)
	assert.True(t, f.target.contains["tip-/src/c"])
	assert.Len(t, f.target.merges, 3)
}

func TestOrchestrator_Run_RerunOfCompletedJobChangesNothing(t *testing.T) {
	f := newFixture("/src/a", "/src/b")
	in := domain.JobInput{SourcePaths: []string{"/src/a", "/src/b"}}

	_, err := f.run(t, nil, in)
	require.NoError(t, err)
	tip := f.target.head

	report, err := f.run(t, nil, in)

	require.NoError(t, err)
	assert.True(t, report.Completed)
	assert.Equal(t, tip, f.target.head)
	assert.Equal(t, tip, report.Target.Tip)
	assert.Len(t, f.target.merges, 2)
	assert.Empty(t, f.target.resets)
	assert.Empty(t, f.target.remotes)
}

func TestOrchestrator_Run_ReleaseFailureRollsBackCommittedStep(t *testing.T) {
	f := newFixture("/src/a", "/src/b")
	f.target.removeErr[domain.SourceLabel(1)] = errors.New("could not lock config file")

	report, err := f.run(t, nil, domain.JobInput{SourcePaths: []string{"/src/a", "/src/b"}})

	require.Error(t, err)
	var stepErr *domain.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 1, stepErr.Index)
	assert.ErrorContains(t, err, "could not lock config file")

	assert.False(t, report.Completed)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, domain.OutcomeClean, report.Steps[0].Outcome)
	failed := report.Steps[1]
	assert.Equal(t, domain.OutcomeAborted, failed.Outcome)
	assert.Equal(t, report.Steps[0].PostTip, failed.PreTip)
	assert.Equal(t, failed.PreTip, failed.PostTip)
	assert.Equal(t, failed.PreTip, f.target.head)
	assert.Equal(t, []string{failed.PreTip}, f.target.resets)
	assert.Len(t, f.target.merges, 2)
}
