package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kdeploy-dev/kdeploy/internal/config"
	"github.com/kdeploy-dev/kdeploy/internal/hooks"
	"github.com/kdeploy-dev/kdeploy/internal/template"
)

// newBuildCommand creates the "build" subcommand that renders an application's
// templates into the build directory.
func newBuildCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <app>",
		Short: "Render application templates into the build directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := LoggerFromContext(cmd.Context())
			appName := args[0]

			cfg, err := config.Load(opts.ConfigPath, opts.Env)
			if err != nil {
				return err
			}

			runner := newHookRunner(logger)
			payload := hooks.Payload{
				Config:      cfg,
				App:         appName,
				Environment: cfg.Environment,
			}
			runner.Fire(cmd.Context(), hooks.PreBuild, payload)

			eng := template.NewEngine(cfg, logger, runner.TemplateFuncs())
			rendered, err := eng.RenderApp(appName, true)
			if err != nil {
				return err
			}

			runner.Fire(cmd.Context(), hooks.PostBuild, payload)

			logger.Info("build complete",
				"app", appName,
				"env", cfg.Environment,
				"files", len(rendered),
				"dir", filepath.Join(cfg.BuildDir(), appName))
			return nil
		},
	}

	return cmd
}
