// Package hooks provides extension points around the build and deploy
// lifecycle. Hooks are registered statically at startup; there is no dynamic
// code loading.
package hooks

import (
	"context"
	"log/slog"
	"text/template"

	"github.com/kdeploy-dev/kdeploy/internal/config"
	"github.com/kdeploy-dev/kdeploy/internal/kube"
)

// Event identifies a lifecycle point a hook can attach to.
type Event string

const (
	PreBuild   Event = "pre-build"
	PostBuild  Event = "post-build"
	PreDeploy  Event = "pre-deploy"
	PostDeploy Event = "post-deploy"
)

// Payload carries the invocation details passed to every hook. Stats and
// Succeeded are only populated for the post-deploy event.
type Payload struct {
	Config      *config.Config
	App         string
	Environment string
	Namespace   string
	DryRun      bool
	Stats       *kube.BatchStats
	Succeeded   bool
}

// Hook is one extension. Run is invoked at each event the hook subscribed
// to via Events. TemplateFuncs may contribute additional functions to the
// render engine; return nil when the hook has none.
type Hook interface {
	Name() string
	Events() []Event
	Run(ctx context.Context, event Event, payload Payload) error
	TemplateFuncs() template.FuncMap
}

// Runner dispatches lifecycle events to registered hooks. Hook failures are
// logged and swallowed so that an extension can never break a deploy.
type Runner struct {
	hooks  []Hook
	logger *slog.Logger
}

// NewRunner constructs a Runner over the given hooks.
func NewRunner(logger *slog.Logger, hooks ...Hook) *Runner {
	return &Runner{hooks: hooks, logger: logger}
}

// Register appends a hook. Not safe for concurrent use; registration happens
// during startup only.
func (r *Runner) Register(h Hook) {
	r.hooks = append(r.hooks, h)
}

// TemplateFuncs merges the template functions contributed by all hooks.
// Later registrations win on name collisions.
func (r *Runner) TemplateFuncs() template.FuncMap {
	merged := template.FuncMap{}
	for _, h := range r.hooks {
		for name, fn := range h.TemplateFuncs() {
			merged[name] = fn
		}
	}
	return merged
}

// Fire runs every hook subscribed to the event. A panicking or failing hook
// is reported through the logger and skipped.
func (r *Runner) Fire(ctx context.Context, event Event, payload Payload) {
	for _, h := range r.hooks {
		if !subscribed(h, event) {
			continue
		}
		r.fireOne(ctx, h, event, payload)
	}
}

func (r *Runner) fireOne(ctx context.Context, h Hook, event Event, payload Payload) {
	defer func() {
		if rec := recover(); rec != nil && r.logger != nil {
			r.logger.Error("hook panicked", "hook", h.Name(), "event", string(event), "panic", rec)
		}
	}()

	if err := h.Run(ctx, event, payload); err != nil {
		if r.logger != nil {
			r.logger.Warn("hook failed", "hook", h.Name(), "event", string(event), "error", err)
		}
		return
	}
	if r.logger != nil {
		r.logger.Debug("hook completed", "hook", h.Name(), "event", string(event))
	}
}

func subscribed(h Hook, event Event) bool {
	for _, e := range h.Events() {
		if e == event {
			return true
		}
	}
	return false
}
