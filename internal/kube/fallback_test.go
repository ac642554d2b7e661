package kube

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynfake "k8s.io/client-go/dynamic/fake"

	"github.com/kdeploy-dev/kdeploy/internal/logging"
	"github.com/kdeploy-dev/kdeploy/internal/manifest"
)

var cronJobGVR = schema.GroupVersionResource{Group: "batch", Version: "v1", Resource: "cronjobs"}

func cronJobDoc(schedule string) manifest.Document {
	return manifest.Document{
		"apiVersion": "batch/v1",
		"kind":       "CronJob",
		"metadata":   map[string]any{"name": "tick", "namespace": "ns"},
		"spec":       map[string]any{"schedule": schedule},
	}
}

func newDynamicFallback(t *testing.T, objects ...runtime.Object) (*Fallback, *dynfake.FakeDynamicClient) {
	t.Helper()

	dyn := dynfake.NewSimpleDynamicClientWithCustomListKinds(
		runtime.NewScheme(),
		map[schema.GroupVersionResource]string{cronJobGVR: "CronJobList"},
		objects...,
	)

	mapper := meta.NewDefaultRESTMapper(nil)
	mapper.Add(schema.GroupVersionKind{Group: "batch", Version: "v1", Kind: "CronJob"}, meta.RESTScopeNamespace)

	logger := logging.NewLogger(io.Discard, logging.LevelError)
	return NewFallback(dyn, mapper, "", logger), dyn
}

func TestFallback_DynamicCreate(t *testing.T) {
	fb, dyn := newDynamicFallback(t)

	doc := cronJobDoc("* * * * *")
	id, err := doc.Identity()
	require.NoError(t, err)

	outcome, message := fb.Apply(context.Background(), doc, id, "ns", false)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Equal(t, "created", message)

	live, err := dyn.Resource(cronJobGVR).Namespace("ns").Get(context.Background(), "tick", metav1.GetOptions{})
	require.NoError(t, err)
	schedule, _, err := unstructured.NestedString(live.Object, "spec", "schedule")
	require.NoError(t, err)
	assert.Equal(t, "* * * * *", schedule)
}

func TestFallback_DynamicPatch(t *testing.T) {
	doc := cronJobDoc("0 * * * *")
	existing := &unstructured.Unstructured{Object: map[string]any(cronJobDoc("* * * * *"))}
	fb, dyn := newDynamicFallback(t, existing)

	id, err := doc.Identity()
	require.NoError(t, err)

	outcome, _ := fb.Apply(context.Background(), doc, id, "ns", false)
	assert.Equal(t, OutcomeConfigured, outcome)

	live, err := dyn.Resource(cronJobGVR).Namespace("ns").Get(context.Background(), "tick", metav1.GetOptions{})
	require.NoError(t, err)
	schedule, _, err := unstructured.NestedString(live.Object, "spec", "schedule")
	require.NoError(t, err)
	assert.Equal(t, "0 * * * *", schedule)
}

func TestFallback_KubectlTier(t *testing.T) {
	logger := logging.NewLogger(io.Discard, logging.LevelError)

	doc := cronJobDoc("* * * * *")
	id, err := doc.Identity()
	require.NoError(t, err)

	t.Run("command output is classified", func(t *testing.T) {
		fb := NewFallback(nil, nil, "", logger)
		fb.kubectl = "echo"

		outcome, message := fb.Apply(context.Background(), doc, id, "ns", false)
		assert.Equal(t, OutcomeConfigured, outcome)
		assert.Equal(t, "applied", message)
	})

	t.Run("command failure exhausts the tiers", func(t *testing.T) {
		fb := NewFallback(nil, nil, "", logger)
		fb.kubectl = "false"

		outcome, message := fb.Apply(context.Background(), doc, id, "ns", false)
		assert.Equal(t, OutcomeError, outcome)
		assert.Contains(t, message, "all apply tiers failed")
		assert.Contains(t, message, "CronJob/tick")
	})
}

func TestClassifyApplyOutput(t *testing.T) {
	cases := []struct {
		output  string
		outcome Outcome
		message string
	}{
		{"cronjob.batch/tick created\n", OutcomeCreated, "created"},
		{"cronjob.batch/tick configured\n", OutcomeConfigured, "configured"},
		{"cronjob.batch/tick unchanged\n", OutcomeUnchanged, "unchanged"},
		{"", OutcomeConfigured, "applied"},
		{"something else entirely", OutcomeConfigured, "applied"},
	}

	for _, tc := range cases {
		outcome, message := classifyApplyOutput(tc.output)
		assert.Equal(t, tc.outcome, outcome, "output %q", tc.output)
		assert.Equal(t, tc.message, message, "output %q", tc.output)
	}
}
