// Package config contains the loader and accessors for kdeploy.yaml and the secrets file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kdeploy-dev/kdeploy/internal/env"
)

const (
	// DefaultAppsDir is the apps directory used when apps_dir is not configured.
	DefaultAppsDir = "apps"
	// DefaultBuildDir is the build output directory used when build_dir is not configured.
	DefaultBuildDir = "build"
	// DefaultSecretsFile is the secrets file used when secrets_file is not configured.
	DefaultSecretsFile = "secrets.yml"

	// globalSecretsKey is the reserved top-level key in the secrets file for shared secrets.
	globalSecretsKey = "global"

	// maxRootSearchDepth bounds the upward search for kdeploy.yaml.
	maxRootSearchDepth = 5
)

// ConfigError reports malformed or unreadable configuration or secrets.
type ConfigError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error { return e.Err }

// Config provides read access to kdeploy.yaml, the secrets file and derived paths
// for a single environment. It is immutable after Load.
type Config struct {
	// Environment is the environment name this Config resolves values for.
	Environment string
	// Path is the resolved kdeploy.yaml path, empty when none was found.
	Path string
	// RootDir is the directory containing kdeploy.yaml, or the working directory.
	RootDir string

	raw     map[string]any
	secrets map[string]any
	envVars env.Vars
}

// Load reads kdeploy.yaml and the secrets file for the given environment.
// When path is empty the configuration file is discovered by walking up from
// the working directory. A missing configuration or secrets file is not an
// error; parse failures are.
func Load(path, environment string) (*Config, error) {
	if path == "" {
		path = findConfig()
	}

	cfg := &Config{
		Environment: environment,
		Path:        path,
		raw:         map[string]any{},
		secrets:     map[string]any{},
	}

	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, &ConfigError{Path: path, Err: err}
		}
		cfg.Path = abs
		cfg.RootDir = filepath.Dir(abs)

		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, &ConfigError{Path: abs, Err: err}
		}
		if err := yaml.Unmarshal(data, &cfg.raw); err != nil {
			return nil, &ConfigError{Path: abs, Err: fmt.Errorf("parse: %w", err)}
		}
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, &ConfigError{Path: ".", Err: err}
		}
		cfg.RootDir = wd
	}

	if err := cfg.loadSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.loadEnvFiles(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfig searches the working directory and its parents for kdeploy.yaml.
func findConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for range maxRootSearchDepth {
		for _, name := range []string{"kdeploy.yaml", "kdeploy.yml"} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// loadSecrets reads the optional secrets file next to kdeploy.yaml.
func (c *Config) loadSecrets() error {
	name := c.GetString("secrets_file", DefaultSecretsFile)
	if name == "" {
		return nil
	}

	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.RootDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &ConfigError{Path: path, Err: err}
	}

	if err := yaml.Unmarshal(data, &c.secrets); err != nil {
		return &ConfigError{Path: path, Err: fmt.Errorf("parse secrets: %w", err)}
	}
	return nil
}

// loadEnvFiles merges the process environment with optional env_files listed in kdeploy.yaml.
func (c *Config) loadEnvFiles() error {
	var names []string
	if list, ok := c.Get("env_files", nil).([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
	}

	fileVars, err := env.LoadEnvFiles(c.RootDir, names)
	if err != nil {
		return &ConfigError{Path: c.Path, Err: err}
	}
	c.envVars = env.Merge(env.FromOS(), fileVars)
	return nil
}

// Get returns the configuration value for a dot-notation key, or def when absent.
func (c *Config) Get(key string, def any) any {
	value := any(c.raw)
	for _, part := range strings.Split(key, ".") {
		m, ok := value.(map[string]any)
		if !ok {
			return def
		}
		value, ok = m[part]
		if !ok || value == nil {
			return def
		}
	}
	return value
}

// GetString returns the configuration value for key as a string, or def.
func (c *Config) GetString(key, def string) string {
	if s, ok := c.Get(key, nil).(string); ok {
		return s
	}
	return def
}

// GetEnvConfig returns an environment-scoped value, falling back to the global key.
func (c *Config) GetEnvConfig(key string, def any) any {
	if v := c.Get(fmt.Sprintf("environments.%s.%s", c.Environment, key), nil); v != nil {
		return v
	}
	return c.Get(key, def)
}

// GetEnvString returns an environment-scoped value as a string, or def.
func (c *Config) GetEnvString(key, def string) string {
	if s, ok := c.GetEnvConfig(key, nil).(string); ok {
		return s
	}
	return def
}

// GetNamespace returns the namespace configured for the current environment.
func (c *Config) GetNamespace() string {
	return c.GetEnvString("namespace", "")
}

// GetClusterURL returns the cluster URL configured for the current environment.
func (c *Config) GetClusterURL() string {
	return c.GetEnvString("cluster_url", "")
}

// GetKubeconfig resolves the kubeconfig path.
// Precedence: KUBECONFIG env var, environment-specific value, global value.
// An empty result means client-go default loading rules apply.
func (c *Config) GetKubeconfig() string {
	if v := os.Getenv("KUBECONFIG"); v != "" {
		return v
	}
	return c.GetEnvString("kubeconfig", "")
}

// AppsDir returns the absolute path of the applications directory.
func (c *Config) AppsDir() string {
	dir := c.GetString("apps_dir", DefaultAppsDir)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.RootDir, dir)
	}
	return dir
}

// BuildDir returns the absolute path of the build output directory.
func (c *Config) BuildDir() string {
	dir := c.GetString("build_dir", DefaultBuildDir)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.RootDir, dir)
	}
	return dir
}

// ListApps returns the sorted names of directories under AppsDir that carry
// a config.yml or config.yaml.
func (c *Config) ListApps() []string {
	entries, err := os.ReadDir(c.AppsDir())
	if err != nil {
		return nil
	}

	var apps []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if appConfigPath(filepath.Join(c.AppsDir(), entry.Name())) != "" {
			apps = append(apps, entry.Name())
		}
	}
	sort.Strings(apps)
	return apps
}

// appConfigPath returns the path of config.yml or config.yaml in dir, or empty.
func appConfigPath(dir string) string {
	for _, name := range []string{"config.yml", "config.yaml"} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// GetAppConfig loads the application-level configuration for appName.
// A missing file yields an empty map; a malformed file is a ConfigError.
func (c *Config) GetAppConfig(appName string) (map[string]any, error) {
	path := appConfigPath(filepath.Join(c.AppsDir(), appName))
	if path == "" {
		return map[string]any{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("parse app config for %s: %w", appName, err)}
	}
	return out, nil
}

// EnvApps returns the application names listed for the current environment,
// or nil when the environment does not restrict apps.
func (c *Config) EnvApps() []string {
	list, ok := c.Get(fmt.Sprintf("environments.%s.apps", c.Environment), nil).([]any)
	if !ok {
		return nil
	}
	var apps []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			apps = append(apps, s)
		}
	}
	return apps
}

// Environments returns the names of all configured environments, sorted.
func (c *Config) Environments() []string {
	envs, ok := c.Get("environments", nil).(map[string]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(envs))
	for name := range envs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnvSettings returns the raw settings map for the current environment.
func (c *Config) EnvSettings() map[string]any {
	m, ok := c.Get(fmt.Sprintf("environments.%s", c.Environment), nil).(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}

// AppSecrets returns the secrets scoped to appName, empty when absent.
func (c *Config) AppSecrets(appName string) map[string]any {
	if m, ok := c.secrets[appName].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// GlobalSecrets returns the secrets stored under the reserved global key.
func (c *Config) GlobalSecrets() map[string]any {
	if m, ok := c.secrets[globalSecretsKey].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// EnvVars returns the merged process environment and env_files variables.
func (c *Config) EnvVars() env.Vars {
	return c.envVars
}
