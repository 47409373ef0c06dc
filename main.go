// Package main is the entry point for the repo-merge CLI application.
// repo-merge folds several git repositories into one target repository,
// one source at a time, keeping every source's history reachable.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/MyCarrier-DevOps/goLibMyCarrier/logger"
	"github.com/spf13/pflag"

	"github.com/MyCarrier-DevOps/repo-merge/cmd"
	"github.com/MyCarrier-DevOps/repo-merge/internal/adapters/git"
	logadapter "github.com/MyCarrier-DevOps/repo-merge/internal/adapters/logger"
	"github.com/MyCarrier-DevOps/repo-merge/internal/adapters/output"
	"github.com/MyCarrier-DevOps/repo-merge/internal/adapters/prompt"
	"github.com/MyCarrier-DevOps/repo-merge/internal/domain"
	"github.com/MyCarrier-DevOps/repo-merge/internal/infrastructure/config"
	"github.com/MyCarrier-DevOps/repo-merge/internal/usecases"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.SetDefaultDependencies(newDependencies())
	cmd.Execute(ctx)
}

// newDependencies wires the production adapters. The logger is built lazily
// on first use by any factory so that LOG_LEVEL set from configuration
// takes effect.
func newDependencies() *cmd.Dependencies {
	var adapter *logadapter.ZapAdapter
	named := func(component string) *logadapter.ZapAdapter {
		if adapter == nil {
			adapter = logadapter.NewZapAdapter(logger.NewZapLoggerFromConfig())
		}
		return adapter.Named(component)
	}

	return &cmd.Dependencies{
		LoggerFactory: func() cmd.Logger {
			return named("cli")
		},

		ConfigLoader: loadConfig,

		EngineFactory: func(_ cmd.Logger, mirror io.Writer) domain.GitEngine {
			return git.NewEngine(named("git"), mirror)
		},

		ConfirmerFactory: func() domain.Confirmer {
			return prompt.New(os.Stdin, os.Stderr)
		},

		EventSinkFactory: func(out io.Writer, verbose bool, _ cmd.Logger) domain.EventSink {
			return output.NewProgressPrinter(out, verbose, named("progress"))
		},

		RunnerFactory: func(
			engine domain.GitEngine,
			confirmer domain.Confirmer,
			sink domain.EventSink,
			_ cmd.Logger,
		) domain.JobRunner {
			return usecases.NewOrchestrator(engine, confirmer, sink, named("merge"))
		},

		ReportWriterFactory: func(out io.Writer) domain.ReportWriter {
			return output.NewWriterWithOutput(out)
		},

		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// loadConfig adapts the layered configuration to the command's AppConfig.
func loadConfig(flags *pflag.FlagSet, configFile string) (*cmd.AppConfig, error) {
	cfg, err := config.Load(flags, configFile)
	if err != nil {
		return nil, err
	}
	return &cmd.AppConfig{
		Job:        cfg.JobInput(),
		LogLevel:   cfg.LogLevel,
		LogAppName: cfg.LogAppName,
	}, nil
}
