package kube

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/kdeploy-dev/kdeploy/internal/manifest"
	"github.com/kdeploy-dev/kdeploy/internal/template"
)

// Outcome classifies the result of applying one resource.
type Outcome string

const (
	// OutcomeCreated means the resource did not exist and was created.
	OutcomeCreated Outcome = "created"
	// OutcomeConfigured means the resource existed and was patched.
	OutcomeConfigured Outcome = "configured"
	// OutcomeUnchanged means the live resource already matched the desired state.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeError means the resource could not be applied.
	OutcomeError Outcome = "error"
)

// restartedAtAnnotation triggers pod replacement when patched onto a
// Deployment's pod template.
const restartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"

// BatchStats accumulates outcome counters across one apply batch. It is owned
// by the caller for the duration of one deploy invocation.
type BatchStats struct {
	Created    int
	Configured int
	Unchanged  int
	Errors     int
}

func (s *BatchStats) record(outcome Outcome) {
	switch outcome {
	case OutcomeCreated:
		s.Created++
	case OutcomeConfigured:
		s.Configured++
	case OutcomeUnchanged:
		s.Unchanged++
	default:
		s.Errors++
	}
}

// Failed reports whether any resource in the batch ended in an error.
func (s *BatchStats) Failed() bool { return s.Errors > 0 }

// String renders the counters in the summary form shown after a deploy.
func (s *BatchStats) String() string {
	return fmt.Sprintf("%d created, %d configured, %d unchanged, %d errors",
		s.Created, s.Configured, s.Unchanged, s.Errors)
}

// Result is the outcome for one resource of a batch.
type Result struct {
	Path     string
	Identity manifest.Identity
	Outcome  Outcome
	Message  string
}

// Reconciler drives the per-resource apply state machine across a batch of
// rendered manifests. Resources are processed strictly sequentially in the
// caller-provided order; the only shared mutable state is the BatchStats the
// caller owns.
type Reconciler struct {
	clientset kubernetes.Interface
	registry  *Registry
	fallback  *Fallback
	logger    *slog.Logger
	now       func() time.Time
}

// NewReconciler constructs a Reconciler. fallback may be nil, in which case
// unknown kinds fail with an error outcome.
func NewReconciler(cs kubernetes.Interface, registry *Registry, fallback *Fallback, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		clientset: cs,
		registry:  registry,
		fallback:  fallback,
		logger:    logger,
		now:       time.Now,
	}
}

// Reconcile applies a batch of rendered manifests against the target
// namespace and returns the accumulated stats with per-resource results.
//
// All manifests are parsed up front: a YAML syntax error fails the batch
// before any cluster call. A parsed document missing kind, apiVersion or name
// is resource-local and surfaces as an error outcome instead. After the batch
// completes, a configured ConfigMap or Secret (matched on output path)
// triggers a rollout restart of every Deployment in the same batch — a
// heuristic, not an ownership graph.
func (r *Reconciler) Reconcile(ctx context.Context, rendered []template.Rendered, namespace string, dryRun bool) (BatchStats, []Result, error) {
	var stats BatchStats

	type parsedManifest struct {
		path string
		docs []manifest.Document
	}

	parsed := make([]parsedManifest, 0, len(rendered))
	for _, item := range rendered {
		docs, err := manifest.Parse(item.Path, item.Content, namespace)
		if err != nil {
			return stats, nil, err
		}
		parsed = append(parsed, parsedManifest{path: item.Path, docs: docs})
	}

	var results []Result
	needsRollout := false

	for _, pm := range parsed {
		for _, doc := range pm.docs {
			outcome, message := r.applyDocument(ctx, doc, dryRun)
			stats.record(outcome)

			id, _ := doc.Identity()
			results = append(results, Result{Path: pm.path, Identity: id, Outcome: outcome, Message: message})

			if r.logger != nil {
				r.logger.Info("applied resource", "path", pm.path, "resource", id.String(), "outcome", string(outcome))
			}

			if outcome == OutcomeConfigured && pathSuggestsReload(pm.path) {
				needsRollout = true
			}
		}
	}

	if needsRollout && !dryRun {
		var deployments []string
		seen := map[string]struct{}{}
		for _, pm := range parsed {
			for _, doc := range pm.docs {
				if doc.Kind() != "Deployment" || doc.Name() == "" {
					continue
				}
				if _, dup := seen[doc.Name()]; dup {
					continue
				}
				seen[doc.Name()] = struct{}{}
				deployments = append(deployments, doc.Name())
			}
		}
		r.RestartRollouts(ctx, deployments, namespace)
	}

	return stats, results, nil
}

// pathSuggestsReload reports whether an output path looks like it carries a
// ConfigMap or Secret. Substring matching on the path is a known fragility:
// an unrelated Deployment in the same batch gets restarted too.
func pathSuggestsReload(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, "configmap") || strings.Contains(lower, "secret")
}

// applyDocument runs the state machine for a single resource document.
func (r *Reconciler) applyDocument(ctx context.Context, doc manifest.Document, dryRun bool) (Outcome, string) {
	id, err := doc.Identity()
	if err != nil {
		return OutcomeError, err.Error()
	}

	adapter, ok := r.registry.Lookup(id.Kind)
	if !ok {
		if r.fallback == nil {
			return OutcomeError, fmt.Sprintf("no adapter registered for kind %s", id.Kind)
		}
		return r.fallback.Apply(ctx, doc, id, id.Namespace, dryRun)
	}

	_, err = adapter.Read(ctx, id.Namespace, id.Name)
	switch {
	case apierrors.IsNotFound(err):
		return r.create(ctx, adapter, doc, id, dryRun)
	case err != nil:
		return OutcomeError, (&ApiError{Identity: id, Op: "read", Err: err}).Error()
	}

	if !r.hasChanged(ctx, adapter, doc, id) {
		return OutcomeUnchanged, "unchanged"
	}
	return r.patch(ctx, adapter, doc, id, dryRun)
}

// hasChanged re-reads the live object and evaluates the diff. A read failure
// here is treated conservatively as changed, forcing a patch attempt rather
// than silently skipping the resource.
func (r *Reconciler) hasChanged(ctx context.Context, adapter Adapter, doc manifest.Document, id manifest.Identity) bool {
	live, err := adapter.Read(ctx, id.Namespace, id.Name)
	if err != nil {
		return true
	}
	return Changed(id.Kind, doc, live)
}

// create handles the resource-absent branch. A conflict means another actor
// raced ahead, which counts as unchanged rather than an error.
func (r *Reconciler) create(ctx context.Context, adapter Adapter, doc manifest.Document, id manifest.Identity, dryRun bool) (Outcome, string) {
	err := adapter.Create(ctx, id.Namespace, doc, dryRun)
	switch {
	case err == nil:
		return OutcomeCreated, "created"
	case apierrors.IsAlreadyExists(err) || apierrors.IsConflict(err):
		return OutcomeUnchanged, "unchanged"
	default:
		return OutcomeError, (&ApiError{Identity: id, Op: "create", Err: err}).Error()
	}
}

// patch handles the resource-changed branch.
func (r *Reconciler) patch(ctx context.Context, adapter Adapter, doc manifest.Document, id manifest.Identity, dryRun bool) (Outcome, string) {
	data, err := json.Marshal(map[string]any(doc))
	if err != nil {
		return OutcomeError, (&ApiError{Identity: id, Op: "patch", Err: err}).Error()
	}

	err = adapter.Patch(ctx, id.Namespace, id.Name, data, dryRun)
	switch {
	case err == nil:
		return OutcomeConfigured, "configured"
	case apierrors.IsConflict(err):
		return OutcomeUnchanged, "unchanged"
	default:
		return OutcomeError, (&ApiError{Identity: id, Op: "patch", Err: err}).Error()
	}
}

// RestartRollouts patches the restart annotation onto each named Deployment,
// forcing pod replacement. Failures are logged and skipped; the restart is
// best effort.
func (r *Reconciler) RestartRollouts(ctx context.Context, deployments []string, namespace string) int {
	if len(deployments) == 0 {
		return 0
	}

	patch := fmt.Sprintf(`{"spec":{"template":{"metadata":{"annotations":{%q:%q}}}}}`,
		restartedAtAnnotation, r.now().UTC().Format(time.RFC3339))

	restarted := 0
	for _, name := range deployments {
		_, err := r.clientset.AppsV1().Deployments(namespace).Patch(ctx, name, types.StrategicMergePatchType, []byte(patch), metav1.PatchOptions{})
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("failed to restart deployment", "deployment", name, "error", err)
			}
			continue
		}
		restarted++
		if r.logger != nil {
			r.logger.Info("restarted deployment", "deployment", name, "namespace", namespace)
		}
	}
	return restarted
}
