// Package kube reconciles rendered manifests against a live Kubernetes cluster.
//
// It contains the cluster client, the kind-keyed resource adapter registry,
// the diff evaluator, the reconciliation engine and the fallback executor for
// kinds the registry does not cover.
package kube

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/kdeploy-dev/kdeploy/internal/config"
)

// Client wraps the typed and dynamic cluster clients for one environment.
type Client struct {
	Clientset kubernetes.Interface
	Dynamic   dynamic.Interface

	logger *slog.Logger
}

// NewClient builds a Client from the environment's configuration.
// Kubeconfig precedence: KUBECONFIG env var, environment-specific config,
// global config, in-cluster credentials, client-go default loading rules.
func NewClient(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	restCfg, err := buildRESTConfig(cfg)
	if err != nil {
		return nil, &ConnectionError{Err: fmt.Errorf("load kubeconfig: %w", err)}
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	dyn, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	return &Client{Clientset: clientset, Dynamic: dyn, logger: logger}, nil
}

// buildRESTConfig resolves cluster connection settings into a rest.Config.
func buildRESTConfig(cfg *config.Config) (*rest.Config, error) {
	if kubeconfig := cfg.GetKubeconfig(); kubeconfig != "" {
		if _, err := os.Stat(kubeconfig); err == nil {
			return clientcmd.BuildConfigFromFlags(cfg.GetClusterURL(), kubeconfig)
		}
	}

	if restCfg, err := rest.InClusterConfig(); err == nil {
		return restCfg, nil
	}

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
}

// CheckConnection verifies the cluster is reachable and returns a short
// human-readable description of it.
func (c *Client) CheckConnection(ctx context.Context) (string, error) {
	version, err := c.Clientset.Discovery().ServerVersion()
	if err != nil {
		return "", &ConnectionError{Err: err}
	}
	return fmt.Sprintf("connected to cluster (version %s)", version.GitVersion), nil
}

// CheckNamespace verifies the target namespace exists.
func (c *Client) CheckNamespace(ctx context.Context, namespace string) error {
	_, err := c.Clientset.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if apierrors.IsNotFound(err) {
		return &NamespaceError{Namespace: namespace}
	}
	return &NamespaceError{Namespace: namespace, Err: err}
}

// RESTMapper builds a discovery-backed REST mapper for the dynamic apply tier.
func (c *Client) RESTMapper() (meta.RESTMapper, error) {
	groupResources, err := restmapper.GetAPIGroupResources(c.Clientset.Discovery())
	if err != nil {
		return nil, err
	}
	return restmapper.NewDiscoveryRESTMapper(groupResources), nil
}
