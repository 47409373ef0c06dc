// Package config provides configuration loading for the repo-merge application.
// Settings are layered: command-line flags, then REPO_MERGE_* environment
// variables, then an optional YAML/JSON config file, then defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MyCarrier-DevOps/repo-merge/internal/domain"
)

// Environment variable names.
const (
	// EnvPrefix prefixes every setting read from the environment.
	EnvPrefix = "REPO_MERGE"

	// EnvLogLevel is the log level (debug, info, error).
	EnvLogLevel = "LOG_LEVEL"

	// EnvLogAppName is the application name for log context.
	EnvLogAppName = "LOG_APP_NAME"
)

// Setting keys. Flag names match these keys.
const (
	KeyTarget         = "target"
	KeySources        = "sources"
	KeyStrategy       = "strategy"
	KeyCustomOption   = "custom-option"
	KeySubdirectories = "subdirectories"
	KeyAuthorName     = "author-name"
	KeyAuthorEmail    = "author-email"
	KeyVerbose        = "verbose"
	KeyLogLevel       = "log-level"
	KeyLogAppName     = "log-app-name"
)

// Default values.
const (
	DefaultLogLevel   = "info"
	DefaultLogAppName = "repo-merge"
	DefaultConfigName = ".repo-merge"
)

// ErrConfigFileInvalid indicates the config file exists but could not be read.
var ErrConfigFileInvalid = errors.New("failed to read config file")

// Config holds all application configuration.
type Config struct {
	// Target is the repository the sources are merged into.
	Target string

	// Sources are the repositories to merge, in order.
	Sources []string

	// Strategy is the resolution policy name; empty selects the default.
	Strategy string

	// CustomOption is a diff-engine option forwarded verbatim.
	CustomOption string

	Subdirectories bool
	AuthorName     string
	AuthorEmail    string
	Verbose        bool

	// LogLevel is the logging level (debug, info, error).
	LogLevel string

	// LogAppName is the application name for log context.
	LogAppName string
}

// Load reads configuration from flags, environment and configFile. When
// configFile is empty, .repo-merge.{yaml,json} in the working directory is
// used if present. An explicitly named file must exist.
func Load(flags *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault(KeyAuthorName, domain.DefaultAuthorName)
	v.SetDefault(KeyAuthorEmail, domain.DefaultAuthorEmail)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyLogAppName, DefaultLogAppName)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// Log settings use the environment names the logger itself reads.
	if err := v.BindEnv(KeyLogLevel, EnvLogLevel); err != nil {
		return nil, err
	}
	if err := v.BindEnv(KeyLogAppName, EnvLogAppName); err != nil {
		return nil, err
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %w", ErrConfigFileInvalid, err)
		}
	}

	cfg := &Config{
		Target:         v.GetString(KeyTarget),
		Sources:        splitList(v.GetStringSlice(KeySources)),
		Strategy:       v.GetString(KeyStrategy),
		CustomOption:   v.GetString(KeyCustomOption),
		Subdirectories: v.GetBool(KeySubdirectories),
		AuthorName:     v.GetString(KeyAuthorName),
		AuthorEmail:    v.GetString(KeyAuthorEmail),
		Verbose:        v.GetBool(KeyVerbose),
		LogLevel:       v.GetString(KeyLogLevel),
		LogAppName:     v.GetString(KeyLogAppName),
	}
	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// JobInput converts the configuration into the merge job input.
func (c *Config) JobInput() domain.JobInput {
	return domain.JobInput{
		TargetPath:     c.Target,
		SourcePaths:    c.Sources,
		Policy:         c.Strategy,
		CustomOption:   c.CustomOption,
		Subdirectories: c.Subdirectories,
		AuthorName:     c.AuthorName,
		AuthorEmail:    c.AuthorEmail,
		Verbose:        c.Verbose,
	}
}

// splitList accepts both list values and comma-separated strings, as the
// environment can only carry the latter.
func splitList(values []string) []string {
	parts := lo.FlatMap(values, func(v string, _ int) []string {
		return strings.Split(v, ",")
	})
	parts = lo.Map(parts, func(p string, _ int) string { return strings.TrimSpace(p) })
	return lo.Compact(parts)
}
