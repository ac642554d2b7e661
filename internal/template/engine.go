package template

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kdeploy-dev/kdeploy/internal/config"
)

// TemplateError reports a rendering failure: a missing or malformed template,
// an unresolved reference, or an unwritable output.
type TemplateError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TemplateError) Unwrap() error { return e.Err }

// Rendered is one rendered manifest: its relative output path and content.
// Instances are immutable once produced.
type Rendered struct {
	Path    string
	Content string
}

// Engine renders application templates. Rendering of distinct files shares no
// mutable state, so files are expanded concurrently and re-sorted by path
// before being returned.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger
	funcs  template.FuncMap
}

// NewEngine constructs an Engine for the given configuration. extraFuncs may
// contribute additional template functions, typically from registered hooks.
func NewEngine(cfg *config.Config, logger *slog.Logger, extraFuncs template.FuncMap) *Engine {
	funcs := sprig.TxtFuncMap()

	// Aliases kept for manifest compatibility; payload embedding in
	// ConfigMaps and Secrets relies on them.
	funcs["b64encode"] = funcs["b64enc"]
	funcs["b64decode"] = funcs["b64dec"]
	funcs["b64"] = funcs["b64enc"]

	envVars := cfg.EnvVars()
	funcs["envOr"] = func(key, def string) string {
		return envVars.Lookup(key, def)
	}

	for name, fn := range extraFuncs {
		funcs[name] = fn
	}

	return &Engine{cfg: cfg, logger: logger, funcs: funcs}
}

// RenderFile expands a single template file with the given context.
func (e *Engine) RenderFile(path string, ctx Context) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", &TemplateError{Path: path, Err: err}
	}

	tmpl, err := template.New(filepath.Base(path)).
		Funcs(e.funcs).
		Option("missingkey=error").
		Parse(string(raw))
	if err != nil {
		return "", &TemplateError{Path: path, Err: err}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any(ctx)); err != nil {
		return "", &TemplateError{Path: path, Err: err}
	}

	return buf.String(), nil
}

// RenderApp renders every template of an application: each component
// subdirectory carrying a templates tree, plus a flat templates directory at
// the application root. When persist is true the results are also written
// under <build_dir>/<app>, replacing any previous build output.
//
// The returned slice is sorted by relative path. Apply order downstream
// depends on this, never on renderer completion order.
func (e *Engine) RenderApp(appName string, persist bool) ([]Rendered, error) {
	appDir := filepath.Join(e.cfg.AppsDir(), appName)
	if _, err := os.Stat(appDir); err != nil {
		return nil, &TemplateError{Path: appDir, Err: fmt.Errorf("application directory not found: %w", err)}
	}

	jobs, err := e.collectJobs(appName, appDir)
	if err != nil {
		return nil, err
	}

	results := make([]Rendered, len(jobs))
	var g errgroup.Group
	for i, job := range jobs {
		g.Go(func() error {
			content, err := e.RenderFile(job.source, job.ctx)
			if err != nil {
				return err
			}
			results[i] = Rendered{Path: job.relPath, Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })

	if persist {
		if err := e.persist(appName, results); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// renderJob pairs a template source file with its output path and context.
type renderJob struct {
	source  string
	relPath string
	ctx     Context
}

// collectJobs walks component template trees and the flat application
// templates directory, building contexts once per component.
func (e *Engine) collectJobs(appName, appDir string) ([]renderJob, error) {
	var jobs []renderJob

	entries, err := os.ReadDir(appDir)
	if err != nil {
		return nil, &TemplateError{Path: appDir, Err: err}
	}

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == "templates" {
			continue
		}

		componentName := entry.Name()
		templatesDir := filepath.Join(appDir, componentName, "templates")
		if _, err := os.Stat(templatesDir); err != nil {
			continue
		}

		ctx, err := BuildContext(e.cfg, appName, componentName)
		if err != nil {
			return nil, err
		}

		componentJobs, err := collectTemplateFiles(templatesDir, componentName, ctx)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, componentJobs...)
	}

	flatDir := filepath.Join(appDir, "templates")
	if _, err := os.Stat(flatDir); err == nil {
		ctx, err := BuildContext(e.cfg, appName, "")
		if err != nil {
			return nil, err
		}
		flatJobs, err := collectTemplateFiles(flatDir, "", ctx)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, flatJobs...)
	}

	return jobs, nil
}

// collectTemplateFiles lists YAML template files below dir, preserving the
// relative path and prefixing it with the component name when set.
func collectTemplateFiles(dir, componentName string, ctx Context) ([]renderJob, error) {
	var jobs []renderJob

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isTemplateFile(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if componentName != "" {
			rel = filepath.Join(componentName, rel)
		}

		jobs = append(jobs, renderJob{source: path, relPath: filepath.ToSlash(rel), ctx: ctx})
		return nil
	})
	if err != nil {
		return nil, &TemplateError{Path: dir, Err: err}
	}

	return jobs, nil
}

// isTemplateFile reports whether name looks like a YAML manifest template.
func isTemplateFile(name string) bool {
	return strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml")
}

// persist writes rendered manifests under <build_dir>/<app>, clearing any
// previous build output for the application first.
func (e *Engine) persist(appName string, rendered []Rendered) error {
	outDir := filepath.Join(e.cfg.BuildDir(), appName)

	if err := os.RemoveAll(outDir); err != nil {
		return &TemplateError{Path: outDir, Err: err}
	}

	for _, r := range rendered {
		target := filepath.Join(outDir, filepath.FromSlash(r.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return &TemplateError{Path: target, Err: err}
		}
		if err := os.WriteFile(target, []byte(r.Content), 0o644); err != nil {
			return &TemplateError{Path: target, Err: err}
		}
	}

	if e.logger != nil {
		e.logger.Debug("persisted rendered templates", "app", appName, "dir", outDir, "count", len(rendered))
	}
	return nil
}
