package cli

import (
	envparse "github.com/caarlos0/env/v11"

	"github.com/kdeploy-dev/kdeploy/internal/logging"
)

// rootEnv defines root CLI defaults sourced from KDEPLOY_* env vars. Flags
// given on the command line still win over these.
type rootEnv struct {
	// ConfigPath is the kdeploy.yaml path from KDEPLOY_CONFIG.
	ConfigPath string `env:"KDEPLOY_CONFIG"`
	// Env is the environment name from KDEPLOY_ENV.
	Env string `env:"KDEPLOY_ENV"`
	// Namespace is the namespace override from KDEPLOY_NAMESPACE.
	Namespace string `env:"KDEPLOY_NAMESPACE"`
	// LogLevel is the logging level from KDEPLOY_LOG_LEVEL.
	LogLevel string `env:"KDEPLOY_LOG_LEVEL"`
}

// deployEnv captures KDEPLOY_* inputs honoured by the deploy command.
type deployEnv struct {
	// DryRun toggles server-side dry-run from KDEPLOY_DRY_RUN.
	DryRun bool `env:"KDEPLOY_DRY_RUN"`
	// All deploys every application from KDEPLOY_ALL.
	All bool `env:"KDEPLOY_ALL"`
	// Parallel toggles per-environment parallelism from KDEPLOY_PARALLEL.
	Parallel bool `env:"KDEPLOY_PARALLEL"`
	// PersistBuild keeps rendered output on disk from KDEPLOY_PERSIST_BUILD.
	PersistBuild bool `env:"KDEPLOY_PERSIST_BUILD"`
}

// applyEnvOverrides fills root options from KDEPLOY_* env vars.
func applyEnvOverrides(opts *Options) error {
	var overrides rootEnv
	if err := envparse.Parse(&overrides); err != nil {
		return err
	}

	if overrides.ConfigPath != "" {
		opts.ConfigPath = overrides.ConfigPath
	}
	if overrides.Env != "" {
		opts.Env = overrides.Env
	}
	if overrides.Namespace != "" {
		opts.Namespace = overrides.Namespace
	}
	if overrides.LogLevel != "" {
		opts.LogLevel = logging.ParseLevel(overrides.LogLevel)
	}
	return nil
}

// parseDeployEnv fills deploy defaults from KDEPLOY_* env vars.
func parseDeployEnv() (deployEnv, error) {
	var overrides deployEnv
	err := envparse.Parse(&overrides)
	return overrides, err
}
