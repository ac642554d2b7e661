// Package template renders application manifest templates with a layered context.
package template

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kdeploy-dev/kdeploy/internal/config"
)

// ContextError reports a component configuration file that exists but cannot be parsed.
type ContextError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ContextError) Error() string {
	return fmt.Sprintf("context %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ContextError) Unwrap() error { return e.Err }

// Context is the data exposed to manifest templates. It is built once per
// (application, component) pair and never mutated afterwards.
type Context map[string]any

// reservedKeys are top-level context keys that environment settings must not overwrite.
var reservedKeys = map[string]struct{}{
	"app":       {},
	"env":       {},
	"namespace": {},
	"global":    {},
	"config":    {},
	"secret":    {},
	"component": {},
}

// Namespace returns the resolved namespace of the context.
func (c Context) Namespace() string {
	if s, ok := c["namespace"].(string); ok {
		return s
	}
	return ""
}

// App returns the app mapping of the context.
func (c Context) App() map[string]any {
	if m, ok := c["app"].(map[string]any); ok {
		return m
	}
	return nil
}

// BuildContext assembles the rendering context for an application and an
// optional component.
//
// Layering, later wins: app config is exposed under "config" and flattened
// into "app" (a nested "app" block in the config overriding the flattened
// copy); an app-level namespace overrides the environment namespace, and when
// absent the environment namespace is reflected back into app.namespace;
// component config lands under "component" without touching the other layers;
// secrets fill "secret" and "global"; remaining environment settings are
// copied in unless the key is reserved.
func BuildContext(cfg *config.Config, appName, componentName string) (Context, error) {
	app := map[string]any{"name": appName}
	ctx := Context{
		"app":       app,
		"env":       cfg.Environment,
		"namespace": cfg.GetNamespace(),
		"global":    cfg.GlobalSecrets(),
		"config":    map[string]any{},
		"secret":    cfg.AppSecrets(appName),
	}

	appCfg, err := cfg.GetAppConfig(appName)
	if err != nil {
		return nil, err
	}
	if len(appCfg) > 0 {
		ctx["config"] = appCfg
		for k, v := range appCfg {
			app[k] = v
		}
		// A nested app block wins over the flattened copy.
		if nested, ok := appCfg["app"].(map[string]any); ok {
			for k, v := range nested {
				app[k] = v
			}
		}
	}

	// Namespace propagation is bidirectional: app config may override the
	// environment namespace, otherwise the environment value is reflected
	// back into app.namespace.
	if ns, ok := app["namespace"].(string); ok && ns != "" {
		ctx["namespace"] = ns
	} else {
		app["namespace"] = ctx["namespace"]
	}

	if componentName != "" {
		comp, err := loadComponentConfig(cfg, appName, componentName)
		if err != nil {
			return nil, err
		}
		if comp != nil {
			ctx["component"] = comp
		}
	}

	for key, value := range cfg.EnvSettings() {
		if _, reserved := reservedKeys[key]; reserved {
			continue
		}
		if _, present := ctx[key]; !present {
			ctx[key] = value
		}
	}

	return ctx, nil
}

// loadComponentConfig reads apps/<app>/<component>/config.yml when present.
// A missing file yields nil; an unparseable file is a ContextError.
func loadComponentConfig(cfg *config.Config, appName, componentName string) (map[string]any, error) {
	dir := filepath.Join(cfg.AppsDir(), appName, componentName)

	for _, name := range []string{"config.yml", "config.yaml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, &ContextError{Path: path, Err: err}
		}

		out := map[string]any{}
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, &ContextError{Path: path, Err: err}
		}
		return out, nil
	}

	return nil, nil
}
