package cli

import (
	"context"
	"log/slog"

	"github.com/kdeploy-dev/kdeploy/internal/config"
	"github.com/kdeploy-dev/kdeploy/internal/hooks"
	"github.com/kdeploy-dev/kdeploy/internal/kube"
)

// kubeStack bundles the cluster-facing pieces one deploy run needs.
type kubeStack struct {
	client     *kube.Client
	reconciler *kube.Reconciler
}

// newKubeStack connects to the cluster for cfg and wires the adapter
// registry, the fallback executor and the reconciler on top of it. The
// connection is verified before anything else touches the cluster.
func newKubeStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*kubeStack, error) {
	client, err := kube.NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	version, err := client.CheckConnection(ctx)
	if err != nil {
		return nil, err
	}
	logger.Debug("connected to cluster", "version", version)

	registry := kube.NewRegistry(client.Clientset)

	mapper, err := client.RESTMapper()
	if err != nil {
		// Without REST mappings the dynamic tier cannot resolve
		// resources; kubectl remains as the last tier.
		logger.Warn("discovery failed, dynamic apply tier disabled", "error", err)
		mapper = nil
	}
	fallback := kube.NewFallback(client.Dynamic, mapper, cfg.GetKubeconfig(), logger)

	return &kubeStack{
		client:     client,
		reconciler: kube.NewReconciler(client.Clientset, registry, fallback, logger),
	}, nil
}

// newHookRunner is the static registration point for lifecycle hooks.
func newHookRunner(logger *slog.Logger) *hooks.Runner {
	return hooks.NewRunner(logger)
}

// resolveNamespace picks the target namespace: explicit flag first, then the
// environment configuration.
func resolveNamespace(opts *Options, cfg *config.Config) string {
	if opts.Namespace != "" {
		return opts.Namespace
	}
	return cfg.GetNamespace()
}
