package usecases

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/MyCarrier-DevOps/repo-merge/internal/domain"
)

// Strategy options passed to the merge primitive for each auto-resolving policy.
const (
	optionTheirs   = "theirs"
	optionOurs     = "ours"
	optionPatience = "patience"
	strategyOurs   = "ours"
)

// StepRequest is everything the engine needs to merge one source.
type StepRequest struct {
	Target domain.TargetRepo
	Source domain.SourceRepository
	Remote *AttachedRemote
	Mode   domain.MergeMode
	Layout domain.Layout
}

// StrategyEngine merges one attached source into the target according to the
// job's merge mode.
type StrategyEngine struct {
	confirmer domain.Confirmer
	sink      domain.EventSink
	logger    Logger
}

// NewStrategyEngine creates a StrategyEngine. confirmer is only consulted by
// the manual policy.
func NewStrategyEngine(confirmer domain.Confirmer, sink domain.EventSink, log Logger) *StrategyEngine {
	return &StrategyEngine{confirmer: confirmer, sink: sink, logger: log}
}

// step is one instantiation of the merge state machine.
type step struct {
	engine *StrategyEngine
	req    StepRequest
	state  domain.StepState
	result domain.StepResult
}

// Run merges req.Remote into req.Target. The returned result is never nil.
// When the step aborts, the target is reset to its pre-step tip before Run
// returns and the error describes why.
func (e *StrategyEngine) Run(ctx context.Context, req StepRequest) (*domain.StepResult, error) {
	s := &step{
		engine: e,
		req:    req,
		state:  domain.StateIdle,
		result: domain.StepResult{
			Index:     req.Source.Index,
			Source:    req.Source.Path,
			SourceTip: req.Remote.Tip,
		},
	}

	preTip, err := req.Target.Head(ctx)
	if err != nil {
		s.result.Outcome = domain.OutcomeAborted
		s.result.Err = fmt.Errorf("%w: %w", domain.ErrMergeProcess, err)
		return &s.result, s.result.Err
	}
	s.result.PreTip = preTip
	s.result.PostTip = preTip

	outcome, err := s.run(ctx)
	if err == nil {
		err = s.finalize(ctx)
	}
	if err != nil {
		err = combine(err, s.abort(context.WithoutCancel(ctx)))
		s.result.Outcome = domain.OutcomeAborted
		s.result.Err = err
		e.logger.Error(ctx, "merge step aborted", err, map[string]interface{}{
			"index":  req.Source.Index,
			"source": req.Source.Path,
			"tip":    s.result.PostTip,
		})
		return &s.result, err
	}

	s.result.Outcome = outcome
	e.logger.Info(ctx, "merge step committed", map[string]interface{}{
		"index":     req.Source.Index,
		"source":    req.Source.Path,
		"outcome":   string(outcome),
		"conflicts": len(s.result.ConflictingPaths),
		"tip":       s.result.PostTip,
	})
	return &s.result, nil
}

// to moves the state machine, refusing illegal transitions.
func (s *step) to(next domain.StepState) error {
	if !domain.CanTransition(s.state, next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, s.state, next)
	}
	s.engine.logger.Debug(context.Background(), "merge state transition", map[string]interface{}{
		"index": s.req.Source.Index,
		"from":  string(s.state),
		"to":    string(next),
	})
	s.state = next
	return nil
}

func (s *step) message() string {
	return fmt.Sprintf("Merge %s repository", s.req.Source.Name)
}

// run drives idle -> merging -> ... -> resolved.
func (s *step) run(ctx context.Context) (domain.StepOutcome, error) {
	if err := s.to(domain.StateMerging); err != nil {
		return "", err
	}

	merged, err := s.req.Target.IsAncestor(ctx, s.req.Remote.Tip, s.result.PreTip)
	if err != nil {
		return "", err
	}
	if merged {
		return s.skip(ctx)
	}

	switch {
	case s.req.Layout == domain.LayoutSubdirectory:
		return s.graft(ctx)
	case s.req.Mode.IsCustom():
		return s.mergeCustom(ctx)
	case s.req.Mode.Policy == domain.PolicyOursOnly:
		return s.mergeOursOnly(ctx)
	}

	res, err := s.req.Target.Merge(ctx, domain.MergeRequest{
		Ref:     s.req.Remote.Tip,
		Message: s.message(),
	})
	if err != nil {
		return "", err
	}
	if !res.Conflicted {
		if err := s.to(domain.StateClean); err != nil {
			return "", err
		}
		return domain.OutcomeClean, s.to(domain.StateResolved)
	}

	if err := s.to(domain.StateConflictPending); err != nil {
		return "", err
	}
	s.result.ConflictingPaths = res.Paths
	if s.req.Mode.Policy != domain.PolicyManual {
		s.emitConflicts(ctx, "")
	}

	switch s.req.Mode.Policy {
	case domain.PolicyOurs:
		return s.commitWithMarkers(ctx)
	case domain.PolicyTheirs:
		return s.remerge(ctx, optionTheirs, true)
	case domain.PolicyRecursiveOurs:
		return s.remerge(ctx, optionOurs, true)
	case domain.PolicyPatience:
		return s.remerge(ctx, optionPatience, false)
	case domain.PolicyManual:
		return s.suspend(ctx)
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownPolicy, s.req.Mode.Policy)
	}
}

// skip records a source whose history the target already contains, as left
// by an earlier run. Nothing is merged and the tip is unchanged.
func (s *step) skip(ctx context.Context) (domain.StepOutcome, error) {
	s.result.AlreadyMerged = true
	s.engine.logger.Info(ctx, "source already merged", map[string]interface{}{
		"index":  s.req.Source.Index,
		"source": s.req.Source.Path,
		"tip":    s.req.Remote.Tip,
	})
	if err := s.to(domain.StateClean); err != nil {
		return "", err
	}
	return domain.OutcomeClean, s.to(domain.StateResolved)
}

// mergeCustom forwards the custom option verbatim and otherwise behaves like
// a default merge: residual conflicts are committed with markers.
func (s *step) mergeCustom(ctx context.Context) (domain.StepOutcome, error) {
	res, err := s.req.Target.Merge(ctx, domain.MergeRequest{
		Ref:             s.req.Remote.Tip,
		Message:         s.message(),
		StrategyOptions: []string{s.req.Mode.CustomOption},
	})
	if err != nil {
		return "", err
	}
	if err := s.to(domain.StateCustomOptionApplied); err != nil {
		return "", err
	}
	if res.Conflicted {
		s.result.ConflictingPaths = res.Paths
		s.emitConflicts(ctx, "")
		return s.commitWithMarkers(ctx)
	}
	return domain.OutcomeClean, s.to(domain.StateResolved)
}

// mergeOursOnly records history linkage only; the target tree is unchanged.
func (s *step) mergeOursOnly(ctx context.Context) (domain.StepOutcome, error) {
	res, err := s.req.Target.Merge(ctx, domain.MergeRequest{
		Ref:      s.req.Remote.Tip,
		Message:  s.message(),
		Strategy: strategyOurs,
	})
	if err != nil {
		return "", err
	}
	if res.Conflicted {
		return "", fmt.Errorf("%w: %v", domain.ErrUnresolvedConflict, res.Paths)
	}
	return domain.OutcomeAutoResolved, s.to(domain.StateResolved)
}

// graft places the source tree under its own directory. Grafted trees do not
// overlap, so the policy is not consulted.
func (s *step) graft(ctx context.Context) (domain.StepOutcome, error) {
	_, err := s.req.Target.Merge(ctx, domain.MergeRequest{
		Ref:      s.req.Remote.Tip,
		Strategy: strategyOurs,
		NoCommit: true,
	})
	if err != nil {
		return "", err
	}
	if err := s.req.Target.ReadTreePrefix(ctx, s.req.Source.Dir, s.req.Remote.Tip); err != nil {
		return "", err
	}
	msg := fmt.Sprintf("Merge %s repository into %s/", s.req.Source.Name, s.req.Source.Dir)
	if err := s.req.Target.Commit(ctx, msg); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrMergeProcess, err)
	}
	return domain.OutcomeClean, s.to(domain.StateResolved)
}

// remerge undoes the conflicted merge and repeats it with a strategy option.
// With requireClean, residual conflicts abort the step instead of being
// committed with markers.
func (s *step) remerge(ctx context.Context, option string, requireClean bool) (domain.StepOutcome, error) {
	if err := s.req.Target.AbortMerge(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrMergeProcess, err)
	}

	res, err := s.req.Target.Merge(ctx, domain.MergeRequest{
		Ref:             s.req.Remote.Tip,
		Message:         s.message(),
		StrategyOptions: []string{option},
	})
	if err != nil {
		return "", err
	}
	if !res.Conflicted {
		return domain.OutcomeAutoResolved, s.to(domain.StateResolved)
	}

	s.result.ConflictingPaths = res.Paths
	if requireClean {
		return "", fmt.Errorf("%w: -X %s left %v", domain.ErrUnresolvedConflict, option, res.Paths)
	}
	return s.commitWithMarkers(ctx)
}

// commitWithMarkers stages every path as-is, markers included, and records
// the merge commit.
func (s *step) commitWithMarkers(ctx context.Context) (domain.StepOutcome, error) {
	if err := s.req.Target.StageAll(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrMergeProcess, err)
	}
	if err := s.req.Target.Commit(ctx, s.message()+" with conflicts"); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUnresolvedConflict, err)
	}
	s.engine.logger.Warn(ctx, "committed merge with conflict markers", map[string]interface{}{
		"index": s.req.Source.Index,
		"paths": s.result.ConflictingPaths,
	})
	return domain.OutcomeWithMarkers, s.to(domain.StateResolved)
}

// suspend blocks until the operator resolves the conflicts and confirms, or
// aborts. There is no timeout; an unaccepted confirmation keeps the step
// suspended.
func (s *step) suspend(ctx context.Context) (domain.StepOutcome, error) {
	if s.engine.confirmer == nil {
		return "", fmt.Errorf("%w: no operator confirmation available", domain.ErrOperatorAbort)
	}
	if err := s.to(domain.StateSuspended); err != nil {
		return "", err
	}

	prompt := domain.ResolutionPrompt{
		Index:        s.req.Source.Index,
		Source:       s.req.Source.Path,
		TargetPath:   s.req.Target.Path(),
		Paths:        s.result.ConflictingPaths,
		Instructions: domain.ResolutionInstructions(s.req.Target.Path(), s.result.ConflictingPaths),
	}
	s.emitConflicts(ctx, prompt.Instructions)

	for {
		decision, err := s.engine.confirmer.AwaitResolution(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrOperatorAbort, err)
		}
		if decision == domain.DecisionAbort {
			return "", domain.ErrOperatorAbort
		}

		problem, err := s.checkResolution(ctx)
		if err != nil {
			return "", err
		}
		if problem == "" {
			break
		}

		prompt.Attempt++
		prompt.Problem = problem
		s.engine.sink.Emit(ctx, domain.Event{
			Kind:    domain.EventResolutionCheck,
			Index:   s.req.Source.Index,
			Source:  s.req.Source.Path,
			Message: problem,
		})
	}

	head, err := s.req.Target.Head(ctx)
	if err != nil {
		return "", err
	}
	markers, err := s.req.Target.HasConflictMarkers(ctx, head, s.result.ConflictingPaths)
	if err != nil {
		return "", err
	}
	if err := s.to(domain.StateResolved); err != nil {
		return "", err
	}
	if markers {
		return domain.OutcomeWithMarkers, nil
	}
	return domain.OutcomeAutoResolved, nil
}

// checkResolution returns why the operator's confirmation cannot be accepted,
// or "" when the merge was committed.
func (s *step) checkResolution(ctx context.Context) (string, error) {
	inProgress, err := s.req.Target.MergeInProgress(ctx)
	if err != nil {
		return "", err
	}
	if inProgress {
		return "the merge is still in progress: stage the resolved files and commit", nil
	}

	clean, err := s.req.Target.WorkingTreeClean(ctx)
	if err != nil {
		return "", err
	}
	if !clean {
		return "the working tree has uncommitted changes: commit or discard them", nil
	}

	head, err := s.req.Target.Head(ctx)
	if err != nil {
		return "", err
	}
	if head == s.result.PreTip {
		return "", fmt.Errorf("%w: the merge was abandoned in the working tree", domain.ErrOperatorAbort)
	}

	contains, err := s.req.Target.IsAncestor(ctx, s.req.Remote.Tip, head)
	if err != nil {
		return "", err
	}
	if !contains {
		return "HEAD does not contain the source history: record the merge commit", nil
	}
	return "", nil
}

// finalize drives resolved -> committed after checking the merge commit exists.
func (s *step) finalize(ctx context.Context) error {
	inProgress, err := s.req.Target.MergeInProgress(ctx)
	if err != nil {
		return err
	}
	head, err := s.req.Target.Head(ctx)
	if err != nil {
		return err
	}
	if inProgress || (head == s.result.PreTip) != s.result.AlreadyMerged {
		return fmt.Errorf("%w: no merge commit was recorded", domain.ErrMergeProcess)
	}
	contains, err := s.req.Target.IsAncestor(ctx, s.req.Remote.Tip, head)
	if err != nil {
		return err
	}
	if !contains {
		return fmt.Errorf("%w: merge commit %s does not contain %s", domain.ErrMergeProcess, head, s.req.Remote.Tip)
	}
	s.result.PostTip = head
	return s.to(domain.StateCommitted)
}

// abort undoes any partially applied merge and restores the pre-step tip.
func (s *step) abort(ctx context.Context) error {
	s.state = domain.StateAborted
	var errs *multierror.Error

	abortFailed := false
	inProgress, err := s.req.Target.MergeInProgress(ctx)
	if err != nil {
		errs = multierror.Append(errs, err)
	} else if inProgress {
		if err := s.req.Target.AbortMerge(ctx); err != nil {
			errs = multierror.Append(errs, err)
			abortFailed = true
		}
	}

	head, err := s.req.Target.Head(ctx)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	if s.result.PreTip != "" && (abortFailed || err != nil || head != s.result.PreTip) {
		if err := s.req.Target.ResetHard(ctx, s.result.PreTip); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	s.result.PostTip = s.result.PreTip
	s.engine.logger.Debug(ctx, "merge step rolled back", map[string]interface{}{
		"index": s.req.Source.Index,
		"tip":   s.result.PreTip,
	})
	return errs.ErrorOrNil()
}

func (s *step) emitConflicts(ctx context.Context, instructions string) {
	s.engine.sink.Emit(ctx, domain.Event{
		Kind:    domain.EventConflictPending,
		Index:   s.req.Source.Index,
		Source:  s.req.Source.Path,
		Paths:   s.result.ConflictingPaths,
		Message: instructions,
	})
}
