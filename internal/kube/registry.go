package kube

import (
	"context"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	policyv1 "k8s.io/api/policy/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/kdeploy-dev/kdeploy/internal/manifest"
)

// Adapter is the operation triple for one resource kind. Read returns the
// live object as a generic document; Create and Patch thread the server-side
// dry-run flag through to the API call.
type Adapter struct {
	Read   func(ctx context.Context, namespace, name string) (map[string]any, error)
	Create func(ctx context.Context, namespace string, doc manifest.Document, dryRun bool) error
	Patch  func(ctx context.Context, namespace, name string, patch []byte, dryRun bool) error
}

// Registry maps resource kinds to their typed adapters. Adding a kind is a
// registry entry, not a new branch in the engine.
type Registry struct {
	adapters map[string]Adapter
}

// resourceClient is the subset of a typed namespaced client the adapters use.
type resourceClient[T runtime.Object] interface {
	Get(ctx context.Context, name string, opts metav1.GetOptions) (T, error)
	Create(ctx context.Context, obj T, opts metav1.CreateOptions) (T, error)
	Patch(ctx context.Context, name string, pt types.PatchType, data []byte, opts metav1.PatchOptions, subresources ...string) (T, error)
}

// NewRegistry builds the typed adapter registry over a clientset.
func NewRegistry(cs kubernetes.Interface) *Registry {
	return &Registry{adapters: map[string]Adapter{
		"Deployment": newAdapter(
			func(ns string) resourceClient[*appsv1.Deployment] { return cs.AppsV1().Deployments(ns) },
			func() *appsv1.Deployment { return &appsv1.Deployment{} },
		),
		"Service": newAdapter(
			func(ns string) resourceClient[*corev1.Service] { return cs.CoreV1().Services(ns) },
			func() *corev1.Service { return &corev1.Service{} },
		),
		"ConfigMap": newAdapter(
			func(ns string) resourceClient[*corev1.ConfigMap] { return cs.CoreV1().ConfigMaps(ns) },
			func() *corev1.ConfigMap { return &corev1.ConfigMap{} },
		),
		"Secret": newAdapter(
			func(ns string) resourceClient[*corev1.Secret] { return cs.CoreV1().Secrets(ns) },
			func() *corev1.Secret { return &corev1.Secret{} },
		),
		"Ingress": newAdapter(
			func(ns string) resourceClient[*networkingv1.Ingress] { return cs.NetworkingV1().Ingresses(ns) },
			func() *networkingv1.Ingress { return &networkingv1.Ingress{} },
		),
		"PodDisruptionBudget": newAdapter(
			func(ns string) resourceClient[*policyv1.PodDisruptionBudget] {
				return cs.PolicyV1().PodDisruptionBudgets(ns)
			},
			func() *policyv1.PodDisruptionBudget { return &policyv1.PodDisruptionBudget{} },
		),
	}}
}

// Lookup returns the adapter for kind, if registered.
func (r *Registry) Lookup(kind string) (Adapter, bool) {
	adapter, ok := r.adapters[kind]
	return adapter, ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.adapters))
	for kind := range r.adapters {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// newAdapter builds an Adapter over one typed client. Desired documents are
// converted into the typed object for create; patches are strategic-merge
// patches of the desired document.
func newAdapter[T runtime.Object](clientFor func(namespace string) resourceClient[T], newObject func() T) Adapter {
	return Adapter{
		Read: func(ctx context.Context, namespace, name string) (map[string]any, error) {
			obj, err := clientFor(namespace).Get(ctx, name, metav1.GetOptions{})
			if err != nil {
				return nil, err
			}
			return runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
		},
		Create: func(ctx context.Context, namespace string, doc manifest.Document, dryRun bool) error {
			obj := newObject()
			if err := runtime.DefaultUnstructuredConverter.FromUnstructured(doc, obj); err != nil {
				return err
			}
			_, err := clientFor(namespace).Create(ctx, obj, createOptions(dryRun))
			return err
		},
		Patch: func(ctx context.Context, namespace, name string, patch []byte, dryRun bool) error {
			_, err := clientFor(namespace).Patch(ctx, name, types.StrategicMergePatchType, patch, patchOptions(dryRun))
			return err
		},
	}
}

func createOptions(dryRun bool) metav1.CreateOptions {
	if dryRun {
		return metav1.CreateOptions{DryRun: []string{metav1.DryRunAll}}
	}
	return metav1.CreateOptions{}
}

func patchOptions(dryRun bool) metav1.PatchOptions {
	if dryRun {
		return metav1.PatchOptions{DryRun: []string{metav1.DryRunAll}}
	}
	return metav1.PatchOptions{}
}
