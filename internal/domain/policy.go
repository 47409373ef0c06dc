package domain

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// ResolutionPolicy is the named rule set governing file-level conflicts.
type ResolutionPolicy string

const (
	// PolicyOurs leaves conflict markers in place and commits anyway.
	PolicyOurs ResolutionPolicy = "ours"

	// PolicyTheirs favors incoming hunks on every conflicting region.
	PolicyTheirs ResolutionPolicy = "theirs"

	// PolicyOursOnly discards incoming content and records history linkage only.
	PolicyOursOnly ResolutionPolicy = "ours-only"

	// PolicyRecursiveOurs applies non-conflicting incoming hunks and favors
	// the target on true conflicts.
	PolicyRecursiveOurs ResolutionPolicy = "recursive-ours"

	// PolicyPatience re-merges with the patience diff and keeps markers on
	// residual conflicts.
	PolicyPatience ResolutionPolicy = "patience"

	// PolicyManual suspends the step until the operator resolves it.
	PolicyManual ResolutionPolicy = "manual"
)

// DefaultPolicy applies when neither a policy nor a custom option is given.
const DefaultPolicy = PolicyOurs

// Policies lists every accepted policy in help-text order.
var Policies = []ResolutionPolicy{
	PolicyOurs,
	PolicyTheirs,
	PolicyOursOnly,
	PolicyRecursiveOurs,
	PolicyPatience,
	PolicyManual,
}

// ParsePolicy converts a policy name into a ResolutionPolicy.
func ParsePolicy(name string) (ResolutionPolicy, error) {
	p := ResolutionPolicy(strings.ToLower(strings.TrimSpace(name)))
	if !lo.Contains(Policies, p) {
		return "", fmt.Errorf("%w: %q (valid: %s)", ErrUnknownPolicy, name, PolicyNames())
	}
	return p, nil
}

// PolicyNames returns the accepted policy names joined for display.
func PolicyNames() string {
	return strings.Join(lo.Map(Policies, func(p ResolutionPolicy, _ int) string {
		return string(p)
	}), "|")
}

// MergeMode is the effective merge mode of a job: a policy or a custom option.
type MergeMode struct {
	// Policy is set when the mode is policy driven.
	Policy ResolutionPolicy

	// CustomOption is forwarded verbatim to the diff engine. When set it
	// supersedes Policy entirely.
	CustomOption string
}

// NewMergeMode resolves the effective mode. Supplying both a policy and a
// custom option is an input error.
func NewMergeMode(policy, customOption string) (MergeMode, error) {
	policy = strings.TrimSpace(policy)
	if policy != "" && customOption != "" {
		return MergeMode{}, fmt.Errorf("%w: --strategy %s and --custom-option %s",
			ErrConflictingMode, policy, customOption)
	}
	if customOption != "" {
		return MergeMode{CustomOption: customOption}, nil
	}
	if policy == "" {
		return MergeMode{Policy: DefaultPolicy}, nil
	}
	p, err := ParsePolicy(policy)
	if err != nil {
		return MergeMode{}, err
	}
	return MergeMode{Policy: p}, nil
}

// IsCustom reports whether the custom option is the effective mode.
func (m MergeMode) IsCustom() bool {
	return m.CustomOption != ""
}

func (m MergeMode) String() string {
	if m.IsCustom() {
		return "custom(-X " + m.CustomOption + ")"
	}
	return string(m.Policy)
}

// StepOutcome is the result of merging one source.
type StepOutcome string

const (
	OutcomeClean        StepOutcome = "merged-clean"
	OutcomeWithMarkers  StepOutcome = "merged-with-markers"
	OutcomeAutoResolved StepOutcome = "merged-auto-resolved"
	OutcomeAborted      StepOutcome = "aborted"
)

// Merged reports whether the outcome left a commit in the target.
func (o StepOutcome) Merged() bool {
	return o == OutcomeClean || o == OutcomeWithMarkers || o == OutcomeAutoResolved
}

// StepState is a state of the per-step merge state machine.
type StepState string

const (
	StateIdle                StepState = "idle"
	StateMerging             StepState = "merging"
	StateClean               StepState = "clean"
	StateConflictPending     StepState = "conflict-pending"
	StateCustomOptionApplied StepState = "custom-option-applied"
	StateSuspended           StepState = "suspended"
	StateResolved            StepState = "resolved"
	StateCommitted           StepState = "committed"
	StateAborted             StepState = "aborted"
)

// transitions lists the legal moves. Aborted is reachable from every
// non-terminal state and is handled separately in CanTransition.
var transitions = map[StepState][]StepState{
	StateIdle:                {StateMerging},
	StateMerging:             {StateClean, StateConflictPending, StateCustomOptionApplied, StateResolved},
	StateClean:               {StateResolved},
	StateConflictPending:     {StateResolved, StateSuspended},
	StateCustomOptionApplied: {StateResolved},
	StateSuspended:           {StateResolved},
	StateResolved:            {StateCommitted},
}

// CanTransition reports whether moving from -> to is legal.
func CanTransition(from, to StepState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateAborted {
		return true
	}
	return lo.Contains(transitions[from], to)
}

// Terminal reports whether no further transition is possible.
func (s StepState) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}
