package kube

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
	"sigs.k8s.io/yaml"

	"github.com/kdeploy-dev/kdeploy/internal/logging"
	"github.com/kdeploy-dev/kdeploy/internal/manifest"
)

// fallbackTimeout bounds the external apply command.
const fallbackTimeout = 30 * time.Second

// Fallback is the last-resort apply path for kinds absent from the typed
// registry. It first tries the dynamic client, then shells out to kubectl
// apply against a temporary file.
type Fallback struct {
	dynamic    dynamic.Interface
	mapper     meta.RESTMapper
	kubectl    string
	kubeconfig string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewFallback constructs a Fallback. dyn and mapper may be nil, in which case
// the dynamic tier is skipped. kubeconfig, when set, is exported to the
// external command.
func NewFallback(dyn dynamic.Interface, mapper meta.RESTMapper, kubeconfig string, logger *slog.Logger) *Fallback {
	return &Fallback{
		dynamic:    dyn,
		mapper:     mapper,
		kubectl:    "kubectl",
		kubeconfig: kubeconfig,
		timeout:    fallbackTimeout,
		logger:     logger,
	}
}

// Apply runs the fallback tiers for one document. It never returns an
// unhandled fault: the worst case is an Error outcome carrying the diagnostic
// text of the last tier.
func (f *Fallback) Apply(ctx context.Context, doc manifest.Document, id manifest.Identity, namespace string, dryRun bool) (Outcome, string) {
	if f.dynamic != nil && f.mapper != nil {
		outcome, message, err := f.applyDynamic(ctx, doc, id, namespace, dryRun)
		if err == nil {
			return outcome, message
		}
		if f.logger != nil {
			f.logger.Debug("dynamic apply failed, falling back to kubectl", "resource", id.String(), "error", err)
		}
	}

	return f.applyKubectl(ctx, doc, id, namespace, dryRun)
}

// applyDynamic applies the document through the dynamic client, resolving the
// resource by (apiVersion, kind) via the REST mapper.
func (f *Fallback) applyDynamic(ctx context.Context, doc manifest.Document, id manifest.Identity, namespace string, dryRun bool) (Outcome, string, error) {
	gvk := schema.FromAPIVersionAndKind(id.APIVersion, id.Kind)
	mapping, err := f.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return OutcomeError, "", err
	}

	var client dynamic.ResourceInterface = f.dynamic.Resource(mapping.Resource)
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		client = f.dynamic.Resource(mapping.Resource).Namespace(namespace)
	}

	_, err = client.Get(ctx, id.Name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		obj := &unstructured.Unstructured{Object: doc}
		if _, err := client.Create(ctx, obj, createOptions(dryRun)); err != nil {
			return OutcomeError, "", err
		}
		return OutcomeCreated, "created", nil
	case err != nil:
		return OutcomeError, "", err
	}

	data, err := json.Marshal(map[string]any(doc))
	if err != nil {
		return OutcomeError, "", err
	}
	if _, err := client.Patch(ctx, id.Name, types.MergePatchType, data, patchOptions(dryRun)); err != nil {
		return OutcomeError, "", err
	}
	return OutcomeConfigured, "configured", nil
}

// applyKubectl writes the document to a temporary file and runs the external
// declarative apply command against it, bounded by the fallback timeout. The
// temporary file is removed in every path.
func (f *Fallback) applyKubectl(ctx context.Context, doc manifest.Document, id manifest.Identity, namespace string, dryRun bool) (Outcome, string) {
	data, err := yaml.Marshal(map[string]any(doc))
	if err != nil {
		return OutcomeError, (&FallbackExhaustedError{Identity: id, Output: err.Error()}).Error()
	}

	tmp, err := os.CreateTemp("", "kdeploy-*.yaml")
	if err != nil {
		return OutcomeError, (&FallbackExhaustedError{Identity: id, Output: err.Error()}).Error()
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return OutcomeError, (&FallbackExhaustedError{Identity: id, Output: err.Error()}).Error()
	}
	if err := tmp.Close(); err != nil {
		return OutcomeError, (&FallbackExhaustedError{Identity: id, Output: err.Error()}).Error()
	}

	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	args := []string{"apply", "-f", tmp.Name(), "-n", namespace}
	if dryRun {
		args = append(args, "--dry-run=server")
	}

	cmd := exec.CommandContext(cctx, f.kubectl, args...)
	if f.kubeconfig != "" {
		cmd.Env = append(os.Environ(), "KUBECONFIG="+f.kubeconfig)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.MultiWriter(&stderr, logging.NewWriter(f.logger))

	if err := cmd.Run(); err != nil {
		diag := strings.TrimSpace(stderr.String())
		if diag == "" {
			diag = err.Error()
		}
		return OutcomeError, (&FallbackExhaustedError{Identity: id, Output: diag}).Error()
	}

	return classifyApplyOutput(stdout.String())
}

// classifyApplyOutput maps the external command's textual result onto the
// engine's outcome vocabulary.
func classifyApplyOutput(output string) (Outcome, string) {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "created"):
		return OutcomeCreated, "created"
	case strings.Contains(lower, "configured"):
		return OutcomeConfigured, "configured"
	case strings.Contains(lower, "unchanged"):
		return OutcomeUnchanged, "unchanged"
	default:
		return OutcomeConfigured, "applied"
	}
}
