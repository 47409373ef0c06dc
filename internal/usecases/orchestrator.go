package usecases

import (
	"context"
	"fmt"

	"github.com/MyCarrier-DevOps/repo-merge/internal/domain"
)

// Orchestrator runs a merge job: it prepares the target and folds each source
// into it strictly in declared order.
type Orchestrator struct {
	validator *Validator
	remotes   *RemoteManager
	engine    *StrategyEngine
	sink      domain.EventSink
	logger    Logger
}

// NewOrchestrator wires the merge core. confirmer may be nil when the job
// never uses the manual policy; sink may be nil to discard progress events.
func NewOrchestrator(
	git domain.GitEngine,
	confirmer domain.Confirmer,
	sink domain.EventSink,
	log Logger,
) *Orchestrator {
	if sink == nil {
		sink = discardSink{}
	}
	return &Orchestrator{
		validator: NewValidator(git, log),
		remotes:   NewRemoteManager(sink, log),
		engine:    NewStrategyEngine(confirmer, sink, log),
		sink:      sink,
		logger:    log,
	}
}

// Run executes job. The report is returned even when the job halts; the
// error is then a *domain.StepError naming the failing source, or an input
// error when nothing was attempted.
func (o *Orchestrator) Run(ctx context.Context, job *domain.MergeJob) (*domain.JobReport, error) {
	report := domain.NewJobReport(job)

	o.logger.Info(ctx, "starting merge job", map[string]interface{}{
		"target":  job.Target.Path,
		"sources": len(job.Sources),
		"mode":    job.Mode.String(),
		"layout":  string(job.Layout),
	})
	o.sink.Emit(ctx, domain.Event{
		Kind:    domain.EventJobStarted,
		Source:  job.Target.Path,
		Message: fmt.Sprintf("%d sources, %s", len(job.Sources), job.Mode),
	})

	// Input errors are reported before the target is touched.
	for _, src := range job.Sources {
		if _, err := o.validator.ValidateSource(ctx, src); err != nil {
			return report, fmt.Errorf("source %d (%s): %w", src.Index, src.Path, err)
		}
	}

	target, err := o.validator.PrepareTarget(ctx, job)
	if err != nil {
		return report, err
	}
	defer func() {
		if cerr := target.Close(); cerr != nil {
			o.logger.Warn(ctx, "failed to close target repository", map[string]interface{}{
				"error": cerr.Error(),
			})
		}
	}()
	report.Target = job.Target
	o.sink.Emit(ctx, domain.Event{
		Kind:    domain.EventTargetPrepared,
		Source:  job.Target.Path,
		Message: fmt.Sprintf("%s target at %s", job.Target.State, shortSHA(job.Target.Tip)),
	})

	for _, src := range job.Sources {
		if err := ctx.Err(); err != nil {
			return o.halt(ctx, report, src, domain.StepResult{
				Index:   src.Index,
				Source:  src.Path,
				Outcome: domain.OutcomeAborted,
				PreTip:  job.Target.Tip,
				PostTip: job.Target.Tip,
			}, err)
		}

		result, err := o.runStep(ctx, job, target, src)
		if err != nil {
			return o.halt(ctx, report, src, *result, err)
		}

		report.Steps = append(report.Steps, *result)
		job.Target.Tip = result.PostTip
		report.Target = job.Target
		o.sink.Emit(ctx, domain.Event{
			Kind:    domain.EventStepFinished,
			Index:   src.Index,
			Source:  src.Path,
			Outcome: result.Outcome,
			Paths:   result.ConflictingPaths,
		})
	}

	report.Completed = true
	o.logger.Info(ctx, "merge job completed", map[string]interface{}{
		"target": job.Target.Path,
		"tip":    job.Target.Tip,
		"steps":  len(report.Steps),
	})
	o.sink.Emit(ctx, domain.Event{
		Kind:    domain.EventJobFinished,
		Index:   len(job.Sources) - 1,
		Source:  job.Target.Path,
		Message: "all sources merged at " + shortSHA(job.Target.Tip),
	})
	return report, nil
}

// runStep validates, attaches and merges one source. The returned result is
// never nil.
func (o *Orchestrator) runStep(
	ctx context.Context,
	job *domain.MergeJob,
	target domain.TargetRepo,
	src domain.SourceRepository,
) (*domain.StepResult, error) {
	result := &domain.StepResult{
		Index:   src.Index,
		Source:  src.Path,
		Outcome: domain.OutcomeAborted,
		PreTip:  job.Target.Tip,
		PostTip: job.Target.Tip,
	}

	o.sink.Emit(ctx, domain.Event{
		Kind:    domain.EventStepStarted,
		Index:   src.Index,
		Source:  src.Path,
		Message: fmt.Sprintf("merging %s", src.Name),
	})

	// The source may have changed since pre-flight validation.
	info, err := o.validator.ValidateSource(ctx, src)
	if err != nil {
		return result, err
	}

	err = o.remotes.WithRemote(ctx, target, src, info.DefaultBranch, func(remote *AttachedRemote) error {
		res, err := o.engine.Run(ctx, StepRequest{
			Target: target,
			Source: src,
			Remote: remote,
			Mode:   job.Mode,
			Layout: job.Layout,
		})
		result = res
		return err
	})
	if err != nil && result.Outcome.Merged() {
		return o.rollback(ctx, target, result, err)
	}
	return result, err
}

// rollback undoes a step that committed but failed afterwards, so an aborted
// step never leaves its merge commit in the target.
func (o *Orchestrator) rollback(
	ctx context.Context,
	target domain.TargetRepo,
	result *domain.StepResult,
	cause error,
) (*domain.StepResult, error) {
	err := combine(cause, target.ResetHard(context.WithoutCancel(ctx), result.PreTip))
	o.logger.Warn(ctx, "rolled back committed merge step", map[string]interface{}{
		"index":  result.Index,
		"source": result.Source,
		"from":   result.PostTip,
		"to":     result.PreTip,
	})
	result.Outcome = domain.OutcomeAborted
	result.PostTip = result.PreTip
	result.AlreadyMerged = false
	return result, err
}

// halt records the failed step and returns the StepError that ends the job.
func (o *Orchestrator) halt(
	ctx context.Context,
	report *domain.JobReport,
	src domain.SourceRepository,
	result domain.StepResult,
	err error,
) (*domain.JobReport, error) {
	result.Outcome = domain.OutcomeAborted
	result.Err = err
	report.Steps = append(report.Steps, result)
	report.FailedIndex = src.Index

	stepErr := &domain.StepError{Index: src.Index, Path: src.Path, Err: err}
	o.logger.Error(ctx, "merge job halted", err, map[string]interface{}{
		"index":    src.Index,
		"source":   src.Path,
		"recovery": stepErr.Recovery(),
	})
	o.sink.Emit(ctx, domain.Event{
		Kind:    domain.EventStepFinished,
		Index:   src.Index,
		Source:  src.Path,
		Outcome: domain.OutcomeAborted,
		Paths:   result.ConflictingPaths,
		Message: err.Error(),
	})
	return report, stepErr
}

type discardSink struct{}

func (discardSink) Emit(context.Context, domain.Event) {}
