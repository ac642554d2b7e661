// Package cli defines the command-line interface for kdeploy.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kdeploy-dev/kdeploy/internal/logging"
)

// Options stores global CLI options shared between commands.
type Options struct {
	ConfigPath string
	Env        string
	Namespace  string
	LogLevel   logging.Level
}

// Execute builds the root command, runs it with the provided args and logger, and returns any error.
func Execute(args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, logging.LevelInfo)
	}

	rootOpts := &Options{
		LogLevel: logging.LevelInfo,
	}
	if err := applyEnvOverrides(rootOpts); err != nil {
		return err
	}

	rootCmd := newRootCommand(rootOpts, logger)
	rootCmd.SetArgs(args)

	return rootCmd.Execute()
}

// newRootCommand constructs the root cobra.Command with global flags and subcommands.
func newRootCommand(opts *Options, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kdeploy",
		Short: "kdeploy renders templated manifests and reconciles them against Kubernetes clusters",
		Long:  "kdeploy is a declarative deployment tool: it builds Kubernetes manifests from per-application template trees and applies them idempotently across environments defined in kdeploy.yaml.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := opts.LogLevel
			if flag := cmd.Flag("log-level"); flag.Changed {
				level = logging.ParseLevel(flag.Value.String())
			}
			opts.LogLevel = level
			logger = logging.NewLogger(os.Stderr, level)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			logger.Debug("logger initialized", "level", level)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath, "Path to kdeploy.yaml (searched upward from the working directory when empty)")
	cmd.PersistentFlags().StringVar(&opts.Env, "env", opts.Env, "Environment name (e.g. dev, staging, production)")
	cmd.PersistentFlags().StringVar(&opts.Namespace, "namespace", opts.Namespace, "Target Kubernetes namespace override")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newBuildCommand(opts),
		newDeployCommand(opts),
		newListCommand(opts),
		newStatusCommand(opts),
	)

	return cmd
}

// loggerKey is a private context key used to store a logger in command contexts.
type loggerKey struct{}

// LoggerFromContext extracts a logger from the context or falls back to a default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logging.NewLogger(os.Stderr, logging.LevelInfo)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return logging.NewLogger(os.Stderr, logging.LevelInfo)
}
