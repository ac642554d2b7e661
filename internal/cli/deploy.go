package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kdeploy-dev/kdeploy/internal/config"
	"github.com/kdeploy-dev/kdeploy/internal/hooks"
	"github.com/kdeploy-dev/kdeploy/internal/kube"
	"github.com/kdeploy-dev/kdeploy/internal/state"
	"github.com/kdeploy-dev/kdeploy/internal/template"
)

// newDeployCommand creates the "deploy" subcommand that renders manifests and
// reconciles them against every target environment.
func newDeployCommand(opts *Options) *cobra.Command {
	var (
		all          bool
		dryRun       bool
		persistBuild bool
		parallel     bool
	)

	cmd := &cobra.Command{
		Use:   "deploy [app]",
		Short: "Render and reconcile application manifests against Kubernetes",
		Long: "deploy renders the application's templates and applies the resulting manifests idempotently. " +
			"When --env is omitted the application is deployed to every environment that lists it.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := LoggerFromContext(cmd.Context())

			envDefaults, err := parseDeployEnv()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("all") {
				all = all || envDefaults.All
			}
			if !cmd.Flags().Changed("dry-run") {
				dryRun = dryRun || envDefaults.DryRun
			}
			if !cmd.Flags().Changed("parallel") {
				parallel = parallel || envDefaults.Parallel
			}
			if !cmd.Flags().Changed("persist-build") {
				persistBuild = persistBuild || envDefaults.PersistBuild
			}

			appName := ""
			if len(args) > 0 {
				appName = args[0]
			}
			if appName == "" && !all {
				return errors.New("application name required unless --all is set")
			}

			environments := []string{opts.Env}
			if opts.Env == "" {
				if all {
					base, err := config.Load(opts.ConfigPath, "")
					if err != nil {
						return err
					}
					environments = base.Environments()
					if len(environments) == 0 {
						return errors.New("no environments configured")
					}
				} else {
					environments, err = findEnvironmentsForApp(opts.ConfigPath, appName)
					if err != nil {
						return err
					}
				}
			}

			if dryRun {
				logger.Info("dry-run enabled, no changes will be persisted")
			}

			if parallel && len(environments) > 1 {
				var g errgroup.Group
				for _, envName := range environments {
					g.Go(func() error {
						return runEnvDeploy(cmd.Context(), opts, envName, appName, all, dryRun, persistBuild, logger)
					})
				}
				return g.Wait()
			}

			var errs []error
			for _, envName := range environments {
				if err := runEnvDeploy(cmd.Context(), opts, envName, appName, all, dryRun, persistBuild, logger); err != nil {
					logger.Error("environment deploy failed", "env", envName, "error", err)
					errs = append(errs, fmt.Errorf("%s: %w", envName, err))
				}
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Deploy every application listed for the environment")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Evaluate changes server-side without persisting them")
	cmd.Flags().BoolVar(&persistBuild, "persist-build", false, "Write rendered manifests to the build directory")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "Deploy target environments concurrently")

	return cmd
}

// findEnvironmentsForApp returns every environment whose app list contains
// appName.
func findEnvironmentsForApp(configPath, appName string) ([]string, error) {
	base, err := config.Load(configPath, "")
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, envName := range base.Environments() {
		cfg, err := config.Load(configPath, envName)
		if err != nil {
			return nil, err
		}
		for _, app := range cfg.EnvApps() {
			if app == appName {
				matches = append(matches, envName)
				break
			}
		}
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("no environment lists application %q", appName)
	}
	return matches, nil
}

// runEnvDeploy deploys one or all applications into a single environment.
// Render failures and cluster connectivity problems abort the environment;
// per-resource errors are accumulated by the reconciler and surface as a
// non-nil error after every resource had its chance.
func runEnvDeploy(ctx context.Context, opts *Options, envName, appName string, all, dryRun, persistBuild bool, logger *slog.Logger) error {
	cfg, err := config.Load(opts.ConfigPath, envName)
	if err != nil {
		return err
	}

	apps := []string{appName}
	if all {
		apps = cfg.EnvApps()
		if len(apps) == 0 {
			apps = cfg.ListApps()
		}
	}
	if len(apps) == 0 {
		return fmt.Errorf("no applications configured for environment %s", envName)
	}

	namespace := resolveNamespace(opts, cfg)

	stack, err := newKubeStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if namespace != "" {
		if err := stack.client.CheckNamespace(ctx, namespace); err != nil {
			return err
		}
	}

	runner := newHookRunner(logger)
	eng := template.NewEngine(cfg, logger, runner.TemplateFuncs())

	var failed []string
	for _, app := range apps {
		payload := hooks.Payload{
			Config:      cfg,
			App:         app,
			Environment: envName,
			Namespace:   namespace,
			DryRun:      dryRun,
		}
		runner.Fire(ctx, hooks.PreDeploy, payload)

		rendered, err := eng.RenderApp(app, persistBuild)
		if err != nil {
			return err
		}

		stats, _, err := stack.reconciler.Reconcile(ctx, rendered, namespace, dryRun)
		if err != nil {
			return err
		}

		logger.Info("deploy summary", "env", envName, "app", app, "namespace", namespace, "result", stats.String())
		if stats.Failed() {
			failed = append(failed, app)
		}

		if !dryRun && namespace != "" {
			recordRelease(ctx, stack, app, envName, namespace, stats, logger)
		}

		payload.Stats = &stats
		payload.Succeeded = !stats.Failed()
		runner.Fire(ctx, hooks.PostDeploy, payload)
	}

	if len(failed) > 0 {
		return fmt.Errorf("deploy finished with resource errors for: %s", strings.Join(failed, ", "))
	}
	return nil
}

// recordRelease stores the deploy outcome in the target namespace. Record
// storage is best effort and never fails the deploy.
func recordRelease(ctx context.Context, stack *kubeStack, app, envName, namespace string, stats kube.BatchStats, logger *slog.Logger) {
	store, err := state.NewStore(stack.client.Clientset, namespace, logger)
	if err != nil {
		logger.Warn("release record skipped", "app", app, "error", err)
		return
	}

	rec := state.Record{
		App:        app,
		Env:        envName,
		Namespace:  namespace,
		Created:    stats.Created,
		Configured: stats.Configured,
		Unchanged:  stats.Unchanged,
		Errors:     stats.Errors,
	}
	if err := store.Save(ctx, rec); err != nil {
		logger.Warn("failed to save release record", "app", app, "error", err)
	}
}
