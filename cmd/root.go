// Package cmd provides the CLI commands for repo-merge.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/MyCarrier-DevOps/repo-merge/internal/domain"
)

// Logger defines the logging interface used by the command.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields map[string]interface{})
}

// Dependencies holds all injectable dependencies for the command.
// This enables testing by allowing mock implementations to be injected.
type Dependencies struct {
	// LoggerFactory creates a logger instance. It is called after LOG_LEVEL
	// and LOG_APP_NAME reflect the loaded configuration.
	LoggerFactory func() Logger

	// ConfigLoader loads application configuration from flags, environment
	// and the optional config file.
	ConfigLoader func(flags *pflag.FlagSet, configFile string) (*AppConfig, error)

	// EngineFactory creates the git engine. mirror is nil unless verbose.
	EngineFactory func(log Logger, mirror io.Writer) domain.GitEngine

	// ConfirmerFactory creates the operator prompt. Only called for the
	// manual policy.
	ConfirmerFactory func() domain.Confirmer

	// EventSinkFactory creates the progress printer.
	EventSinkFactory func(out io.Writer, verbose bool, log Logger) domain.EventSink

	// RunnerFactory creates the merge orchestrator.
	RunnerFactory func(
		engine domain.GitEngine,
		confirmer domain.Confirmer,
		sink domain.EventSink,
		log Logger,
	) domain.JobRunner

	// ReportWriterFactory creates the summary writer.
	ReportWriterFactory func(out io.Writer) domain.ReportWriter

	// Stdout is the writer for standard output (for the summary table).
	Stdout io.Writer

	// Stderr is the writer for standard error (for progress and warnings).
	Stderr io.Writer
}

// AppConfig holds application configuration loaded by ConfigLoader.
type AppConfig struct {
	// Job is the merge job input before positional arguments are applied.
	Job domain.JobInput

	// LogLevel is the log level setting.
	LogLevel string

	// LogAppName is the application name for logging.
	LogAppName string
}

// defaultDeps holds the production dependencies.
// This is set by the production wiring in main or via SetDefaultDependencies.
var defaultDeps *Dependencies

// SetDefaultDependencies sets the default dependencies for production use.
// This should be called from main() before Execute().
func SetDefaultDependencies(deps *Dependencies) {
	defaultDeps = deps
}

// NewRootCmd creates the root command for repo-merge.
func NewRootCmd() *cobra.Command {
	return NewRootCmdWithDeps(defaultDeps)
}

// NewRootCmdWithDeps creates the root command with explicit dependencies.
// This is the primary constructor that enables testing via dependency injection.
func NewRootCmdWithDeps(deps *Dependencies) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "repo-merge <target> <source> <source>...",
		Short: "Merge several git repositories into one, preserving their history",
		Long: `repo-merge folds two or more source repositories into a target repository,
one source at a time and in the order given. Every source's full history stays
reachable from the target, and every step is recorded as a merge commit.

The target is created when it does not exist. Conflicts are handled by the
selected strategy:

  ours            keep conflict markers in the merge commit (default)
  theirs          re-merge preferring the incoming source
  ours-only       record the history but keep the target's files unchanged
  recursive-ours  re-merge preferring the target
  patience        re-merge with the patience diff; leftovers keep markers
  manual          stop and wait for you to resolve and commit

If a source fails, the sources before it stay merged and the failing step is
rolled back. Re-run with the remaining sources.

Examples:
  # Merge two repositories into a new one
  repo-merge ./combined ../service-a ../service-b

  # Prefer the later source on conflicts
  repo-merge -s theirs ./combined ../a ../b ../c

  # Keep each source in its own directory
  repo-merge --subdirectories ./monorepo ../api ../web

  # Forward a diff option to the merge engine
  repo-merge -X ignore-space-change ./combined ../a ../b`,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd, args, configFile, deps)
		},
	}

	flags := rootCmd.Flags()
	flags.StringP("strategy", "s", "",
		"Conflict resolution strategy: "+domain.PolicyNames()+" (default "+string(domain.DefaultPolicy)+")")
	flags.StringP("custom-option", "X", "",
		"Diff-engine option forwarded to the merge as -X (exclusive with --strategy)")
	flags.Bool("subdirectories", false,
		"Graft each source under its own directory in the target")
	flags.String("author-name", domain.DefaultAuthorName,
		"Committer name written to a newly created target")
	flags.String("author-email", domain.DefaultAuthorEmail,
		"Committer email written to a newly created target")
	flags.BoolP("verbose", "v", false,
		"Enable verbose/debug logging and mirror git output")
	flags.StringVar(&configFile, "config", "",
		"Optional YAML/JSON config file (default .repo-merge.yaml in the working directory)")

	return rootCmd
}

// runMerge executes the merge job with injected dependencies.
func runMerge(cmd *cobra.Command, args []string, configFile string, deps *Dependencies) error {
	if deps == nil {
		return errors.New("dependencies not configured")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	stdout := deps.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := deps.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	// Load configuration before the logger so its log settings apply.
	cfg, err := deps.ConfigLoader(cmd.Flags(), configFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	applyLogSettings(stderr, cfg)

	log := deps.LoggerFactory()

	in := cfg.Job
	if len(args) > 0 {
		in.TargetPath = args[0]
		in.SourcePaths = args[1:]
	}

	job, err := domain.NewMergeJob(in)
	if err != nil {
		log.Error(ctx, "invalid merge job", err, nil)
		return describeInputError(err)
	}

	log.Info(ctx, "starting repo-merge", map[string]interface{}{
		"target":  job.Target.Path,
		"sources": len(job.Sources),
		"mode":    job.Mode.String(),
		"layout":  string(job.Layout),
		"verbose": job.Verbose,
	})

	var mirror io.Writer
	if job.Verbose {
		mirror = stderr
	}
	engine := deps.EngineFactory(log, mirror)

	var confirmer domain.Confirmer
	if job.Mode.Policy == domain.PolicyManual {
		confirmer = deps.ConfirmerFactory()
	}

	sink := deps.EventSinkFactory(stderr, job.Verbose, log)
	runner := deps.RunnerFactory(engine, confirmer, sink, log)

	report, runErr := runner.Run(ctx, job)

	var stepErr *domain.StepError
	errors.As(runErr, &stepErr)

	if report != nil && len(report.Steps) > 0 {
		if err := deps.ReportWriterFactory(stdout).WriteReport(report, stepErr); err != nil {
			log.Error(ctx, "failed to write report", err, nil)
			if runErr == nil {
				return fmt.Errorf("output error: %w", err)
			}
		}
	}

	if runErr != nil {
		if stepErr != nil {
			return runErr
		}
		return describeInputError(runErr)
	}

	log.Info(ctx, "repo-merge complete", map[string]interface{}{
		"target": report.Target.Path,
		"tip":    report.Target.Tip,
	})
	return nil
}

// applyLogSettings exports the configured log settings to the environment
// read by the logger (best-effort).
func applyLogSettings(stderr io.Writer, cfg *AppConfig) {
	settings := map[string]string{
		"LOG_LEVEL":    cfg.LogLevel,
		"LOG_APP_NAME": cfg.LogAppName,
	}
	for key, value := range settings {
		if value == "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			writeWarningf(stderr, "warning: could not set %s: %v\n", key, err)
		}
	}
}

// describeInputError maps errors raised before any source was merged to
// operator-facing messages.
func describeInputError(err error) error {
	switch {
	case errors.Is(err, domain.ErrTooFewSources), errors.Is(err, domain.ErrEmptyPath):
		return fmt.Errorf("usage: repo-merge <target> <source> <source>...: %w", err)
	case errors.Is(err, domain.ErrConflictingMode), errors.Is(err, domain.ErrUnknownPolicy):
		return fmt.Errorf("invalid strategy: %w", err)
	case errors.Is(err, domain.ErrTargetDirty):
		return fmt.Errorf("%w; commit or stash the changes and re-run", err)
	default:
		return err
	}
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// writeWarningf writes a warning message to the given writer.
// This is a best-effort operation; errors are intentionally ignored
// because there is no recovery action if stderr writes fail.
func writeWarningf(w io.Writer, format string, args ...any) {
	_, err := fmt.Fprintf(w, format, args...)
	if err != nil {
		return
	}
}
