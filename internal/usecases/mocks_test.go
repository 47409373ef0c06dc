package usecases

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/MyCarrier-DevOps/repo-merge/internal/domain"
)

// mockLogger implements the Logger interface for testing.
type mockLogger struct{}

func (m *mockLogger) Info(_ context.Context, _ string, _ map[string]interface{})           {}
func (m *mockLogger) Debug(_ context.Context, _ string, _ map[string]interface{})          {}
func (m *mockLogger) Warn(_ context.Context, _ string, _ map[string]interface{})           {}
func (m *mockLogger) Error(_ context.Context, _ string, _ error, _ map[string]interface{}) {}

// recordingSink collects emitted events.
type recordingSink struct {
	events []domain.Event
}

func (s *recordingSink) Emit(_ context.Context, e domain.Event) {
	s.events = append(s.events, e)
}

func (s *recordingSink) kinds() []domain.EventKind {
	kinds := make([]domain.EventKind, 0, len(s.events))
	for _, e := range s.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (s *recordingSink) count(kind domain.EventKind) int {
	n := 0
	for _, e := range s.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// mockTarget is an in-memory domain.TargetRepo. Commits are numbered and the
// set of merged source tips stands in for ancestry.
type mockTarget struct {
	path string
	head string
	seq  int

	remotes map[string]string
	refs    map[string]string

	// sourceTips maps a remote URL to the tip of its default branch.
	sourceTips map[string]string
	fetchErr   map[string]error
	removeErr  map[string]error

	// conflicts maps a strategy option ("" for none) to the paths a merge
	// with that option stops on.
	conflicts map[string][]string
	mergeErr  error
	markers   bool
	dirty     bool

	inProgress bool
	pending    string
	contains   map[string]bool

	merges   []domain.MergeRequest
	grafts   []string
	resets   []string
	calls    []string
	fetched  []string
	closed   bool
	emptySet []string
}

func newMockTarget(path string) *mockTarget {
	return &mockTarget{
		path:       path,
		remotes:    map[string]string{},
		refs:       map[string]string{},
		sourceTips: map[string]string{},
		fetchErr:   map[string]error{},
		removeErr:  map[string]error{},
		conflicts:  map[string][]string{},
		contains:   map[string]bool{},
	}
}

func (m *mockTarget) commit() {
	m.seq++
	m.head = fmt.Sprintf("c%03d", m.seq)
}

func (m *mockTarget) Path() string { return m.path }

func (m *mockTarget) Head(_ context.Context) (string, error) { return m.head, nil }

func (m *mockTarget) AddRemote(_ context.Context, label, url string) error {
	m.calls = append(m.calls, "add-remote "+label)
	if _, ok := m.remotes[label]; ok {
		return fmt.Errorf("remote %s already exists", label)
	}
	m.remotes[label] = url
	return nil
}

func (m *mockTarget) RemoveRemote(_ context.Context, label string) error {
	m.calls = append(m.calls, "remove-remote "+label)
	if err := m.removeErr[label]; err != nil {
		return err
	}
	delete(m.remotes, label)
	for ref := range m.refs {
		if strings.HasPrefix(ref, domain.TrackingRef(label, "")) {
			delete(m.refs, ref)
		}
	}
	return nil
}

func (m *mockTarget) Remotes(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(m.remotes))
	for name := range m.remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *mockTarget) Fetch(_ context.Context, label string) error {
	url := m.remotes[label]
	m.fetched = append(m.fetched, url)
	if err := m.fetchErr[url]; err != nil {
		return fmt.Errorf("%w: %w", domain.ErrFetch, err)
	}
	m.refs[domain.TrackingRef(label, "main")] = m.sourceTips[url]
	return nil
}

func (m *mockTarget) ResolveRef(_ context.Context, ref string) (string, error) {
	sha, ok := m.refs[ref]
	if !ok {
		return "", fmt.Errorf("reference %s not found", ref)
	}
	return sha, nil
}

func (m *mockTarget) Merge(_ context.Context, req domain.MergeRequest) (*domain.MergeResult, error) {
	m.merges = append(m.merges, req)
	if m.mergeErr != nil {
		return nil, m.mergeErr
	}
	if m.inProgress {
		return nil, fmt.Errorf("%w: a merge is already in progress", domain.ErrMergeProcess)
	}

	key := strings.Join(req.StrategyOptions, ",")
	if paths := m.conflicts[key]; len(paths) > 0 && req.Strategy == "" {
		m.inProgress = true
		m.pending = req.Ref
		return &domain.MergeResult{Conflicted: true, Paths: paths}, nil
	}
	if req.NoCommit {
		m.inProgress = true
		m.pending = req.Ref
		return &domain.MergeResult{}, nil
	}
	m.contains[req.Ref] = true
	m.commit()
	return &domain.MergeResult{}, nil
}

func (m *mockTarget) ReadTreePrefix(_ context.Context, prefix, ref string) error {
	m.grafts = append(m.grafts, prefix+"="+ref)
	return nil
}

func (m *mockTarget) StageAll(_ context.Context) error {
	m.calls = append(m.calls, "stage-all")
	return nil
}

func (m *mockTarget) Commit(_ context.Context, message string) error {
	m.calls = append(m.calls, "commit "+message)
	if m.inProgress {
		m.contains[m.pending] = true
		m.inProgress = false
		m.pending = ""
	}
	m.commit()
	return nil
}

func (m *mockTarget) CommitEmpty(_ context.Context, message string) error {
	m.emptySet = append(m.emptySet, message)
	m.commit()
	return nil
}

func (m *mockTarget) AbortMerge(_ context.Context) error {
	m.calls = append(m.calls, "abort-merge")
	m.inProgress = false
	m.pending = ""
	return nil
}

func (m *mockTarget) ResetHard(_ context.Context, rev string) error {
	m.resets = append(m.resets, rev)
	m.head = rev
	m.inProgress = false
	return nil
}

func (m *mockTarget) ConflictingPaths(_ context.Context) ([]string, error) {
	return nil, nil
}

func (m *mockTarget) MergeInProgress(_ context.Context) (bool, error) {
	return m.inProgress, nil
}

func (m *mockTarget) WorkingTreeClean(_ context.Context) (bool, error) {
	return !m.dirty, nil
}

func (m *mockTarget) IsAncestor(_ context.Context, ancestor, rev string) (bool, error) {
	return rev == m.head && m.contains[ancestor], nil
}

func (m *mockTarget) HasConflictMarkers(_ context.Context, _ string, _ []string) (bool, error) {
	return m.markers, nil
}

func (m *mockTarget) Close() error {
	m.closed = true
	return nil
}

// resolveByHand simulates an operator finishing a suspended merge.
func (m *mockTarget) resolveByHand() {
	m.contains[m.pending] = true
	m.inProgress = false
	m.pending = ""
	m.commit()
}

// mockEngine implements domain.GitEngine over a fixed set of repositories.
type mockEngine struct {
	repos      map[string]*domain.RepoInfo
	inspectErr map[string]error
	target     *mockTarget
	inits      []string
	openErr    error
}

func newMockEngine(target *mockTarget) *mockEngine {
	return &mockEngine{
		repos:      map[string]*domain.RepoInfo{},
		inspectErr: map[string]error{},
		target:     target,
	}
}

// addSource registers a source with history and wires its tip into the target.
func (e *mockEngine) addSource(path, tip string) {
	e.repos[path] = &domain.RepoInfo{Path: path, HasHistory: true, Head: tip, DefaultBranch: "main"}
	e.target.sourceTips[path] = tip
}

func (e *mockEngine) Inspect(_ context.Context, path string) (*domain.RepoInfo, error) {
	if err := e.inspectErr[path]; err != nil {
		return nil, fmt.Errorf("%w: %s", err, path)
	}
	info, ok := e.repos[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
	}
	return info, nil
}

func (e *mockEngine) InitTarget(_ context.Context, path string, _ domain.Identity) error {
	e.inits = append(e.inits, path)
	e.repos[path] = &domain.RepoInfo{Path: path, DefaultBranch: "main"}
	return nil
}

func (e *mockEngine) OpenTarget(_ context.Context, _ string) (domain.TargetRepo, error) {
	if e.openErr != nil {
		return nil, e.openErr
	}
	return e.target, nil
}

// scriptedConfirmer answers prompts in order, running an optional hook first.
type scriptedConfirmer struct {
	decisions []domain.Decision
	hooks     []func()
	prompts   []domain.ResolutionPrompt
	err       error
}

func (c *scriptedConfirmer) AwaitResolution(_ context.Context, prompt domain.ResolutionPrompt) (domain.Decision, error) {
	c.prompts = append(c.prompts, prompt)
	if c.err != nil {
		return "", c.err
	}
	i := len(c.prompts) - 1
	if i < len(c.hooks) && c.hooks[i] != nil {
		c.hooks[i]()
	}
	if i >= len(c.decisions) {
		return domain.DecisionAbort, nil
	}
	return c.decisions[i], nil
}
