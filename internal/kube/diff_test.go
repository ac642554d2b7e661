package kube

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kdeploy-dev/kdeploy/internal/manifest"
)

func deploymentDoc(replicas any) manifest.Document {
	return manifest.Document{
		"apiVersion": "apps/v1",
		"kind":       "Deployment",
		"metadata":   map[string]any{"name": "web", "namespace": "ns"},
		"spec": map[string]any{
			"replicas": replicas,
			"template": map[string]any{
				"spec": map[string]any{
					"containers": []any{
						map[string]any{"name": "web", "image": "registry/web:v1"},
					},
				},
			},
		},
	}
}

func TestChanged_SubsetEquality(t *testing.T) {
	desired := deploymentDoc(2)

	t.Run("identical specs are unchanged", func(t *testing.T) {
		live := map[string]any{"spec": map[string]any{
			"replicas": int64(2),
			"template": map[string]any{
				"spec": map[string]any{
					"containers": []any{
						map[string]any{"name": "web", "image": "registry/web:v1"},
					},
				},
			},
		}}
		assert.False(t, Changed("Deployment", desired, live))
	})

	t.Run("server-defaulted fields are ignored", func(t *testing.T) {
		live := map[string]any{"spec": map[string]any{
			"replicas":                int64(2),
			"progressDeadlineSeconds": int64(600),
			"revisionHistoryLimit":    int64(10),
			"template": map[string]any{
				"spec": map[string]any{
					"containers": []any{
						map[string]any{
							"name":            "web",
							"image":           "registry/web:v1",
							"imagePullPolicy": "IfNotPresent",
						},
					},
				},
			},
		}}
		assert.False(t, Changed("Deployment", desired, live))
	})

	t.Run("changed scalar is detected", func(t *testing.T) {
		live := map[string]any{"spec": map[string]any{
			"replicas": int64(3),
			"template": map[string]any{
				"spec": map[string]any{
					"containers": []any{
						map[string]any{"name": "web", "image": "registry/web:v1"},
					},
				},
			},
		}}
		assert.True(t, Changed("Deployment", desired, live))
	})

	t.Run("missing desired key is detected", func(t *testing.T) {
		live := map[string]any{"spec": map[string]any{"replicas": int64(2)}}
		assert.True(t, Changed("Deployment", desired, live))
	})

	t.Run("list length mismatch is detected", func(t *testing.T) {
		live := map[string]any{"spec": map[string]any{
			"replicas": int64(2),
			"template": map[string]any{
				"spec": map[string]any{
					"containers": []any{
						map[string]any{"name": "web", "image": "registry/web:v1"},
						map[string]any{"name": "sidecar", "image": "registry/sidecar:v1"},
					},
				},
			},
		}}
		assert.True(t, Changed("Deployment", desired, live))
	})
}

func TestChanged_NumericNormalization(t *testing.T) {
	// YAML decoding yields int, the unstructured converter int64 or float64.
	desired := manifest.Document{
		"kind": "Deployment",
		"spec": map[string]any{"replicas": 2, "weight": 0.5},
	}

	assert.False(t, Changed("Deployment", desired, map[string]any{
		"spec": map[string]any{"replicas": int64(2), "weight": 0.5},
	}))
	assert.False(t, Changed("Deployment", desired, map[string]any{
		"spec": map[string]any{"replicas": float64(2), "weight": float64(0.5)},
	}))
	assert.True(t, Changed("Deployment", desired, map[string]any{
		"spec": map[string]any{"replicas": int64(3), "weight": 0.5},
	}))
}

func TestChanged_ConfigMapDataOnly(t *testing.T) {
	desired := manifest.Document{
		"apiVersion": "v1",
		"kind":       "ConfigMap",
		"metadata":   map[string]any{"name": "cfg"},
		"data":       map[string]any{"a": "1", "b": "2"},
	}

	t.Run("equal data is unchanged", func(t *testing.T) {
		live := map[string]any{"data": map[string]any{"a": "1", "b": "2"}}
		assert.False(t, Changed("ConfigMap", desired, live))
	})

	t.Run("live extra key is a change", func(t *testing.T) {
		// Strict comparison in both directions, unlike spec subsets.
		live := map[string]any{"data": map[string]any{"a": "1", "b": "2", "extra": "x"}}
		assert.True(t, Changed("ConfigMap", desired, live))
	})

	t.Run("removed key is a change", func(t *testing.T) {
		live := map[string]any{"data": map[string]any{"a": "1"}}
		assert.True(t, Changed("ConfigMap", desired, live))
	})

	t.Run("spec-level fields are ignored", func(t *testing.T) {
		live := map[string]any{
			"data":     map[string]any{"a": "1", "b": "2"},
			"metadata": map[string]any{"labels": map[string]any{"injected": "true"}},
		}
		assert.False(t, Changed("ConfigMap", desired, live))
	})

	t.Run("both without data is unchanged", func(t *testing.T) {
		empty := manifest.Document{"kind": "ConfigMap"}
		assert.False(t, Changed("ConfigMap", empty, map[string]any{}))
	})
}

func TestChanged_SecretUsesData(t *testing.T) {
	desired := manifest.Document{
		"kind": "Secret",
		"data": map[string]any{"token": "czNjcmV0"},
	}
	assert.False(t, Changed("Secret", desired, map[string]any{
		"data": map[string]any{"token": "czNjcmV0"},
	}))
	assert.True(t, Changed("Secret", desired, map[string]any{
		"data": map[string]any{"token": "b3RoZXI="},
	}))
}

func TestChanged_NilSpecs(t *testing.T) {
	noSpec := manifest.Document{"kind": "Service"}

	assert.False(t, Changed("Service", noSpec, map[string]any{}))
	assert.True(t, Changed("Service", noSpec, map[string]any{"spec": map[string]any{"type": "ClusterIP"}}))
	assert.True(t, Changed("Service", manifest.Document{
		"kind": "Service",
		"spec": map[string]any{"type": "ClusterIP"},
	}, map[string]any{}))
}
