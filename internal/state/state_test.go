package state

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	kubefake "k8s.io/client-go/kubernetes/fake"

	"github.com/kdeploy-dev/kdeploy/internal/logging"
)

func newTestStore(t *testing.T) (*Store, *kubefake.Clientset) {
	t.Helper()
	cs := kubefake.NewClientset()
	store, err := NewStore(cs, "ns", logging.NewLogger(io.Discard, logging.LevelError))
	require.NoError(t, err)
	return store, cs
}

func TestNewStore_Validation(t *testing.T) {
	_, err := NewStore(nil, "ns", nil)
	assert.Error(t, err)

	_, err = NewStore(kubefake.NewClientset(), "  ", nil)
	assert.Error(t, err)
}

func TestStore_SaveAndList(t *testing.T) {
	store, _ := newTestStore(t)
	deployedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return deployedAt }

	rec := Record{App: "web", Env: "staging", Namespace: "ns", Created: 1, Configured: 2, Unchanged: 3}
	require.NoError(t, store.Save(context.Background(), rec))

	records, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "web", records[0].App)
	assert.Equal(t, "staging", records[0].Env)
	assert.Equal(t, 1, records[0].Created)
	assert.Equal(t, 2, records[0].Configured)
	assert.Equal(t, 3, records[0].Unchanged)
	assert.Equal(t, 0, records[0].Errors)
	assert.Equal(t, deployedAt, records[0].DeployedAt)
}

func TestStore_SaveOverwritesPrevious(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Save(context.Background(), Record{App: "web", Env: "staging", Created: 5}))
	require.NoError(t, store.Save(context.Background(), Record{App: "web", Env: "staging", Unchanged: 5}))

	records, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].Created)
	assert.Equal(t, 5, records[0].Unchanged)
}

func TestStore_ListSortedAndFiltered(t *testing.T) {
	store, cs := newTestStore(t)

	require.NoError(t, store.Save(context.Background(), Record{App: "zulu", Env: "staging"}))
	require.NoError(t, store.Save(context.Background(), Record{App: "alpha", Env: "staging"}))

	// A foreign ConfigMap in the same namespace must not be picked up.
	foreign := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "other", Namespace: "ns"}}
	_, err := cs.CoreV1().ConfigMaps("ns").Create(context.Background(), foreign, metav1.CreateOptions{})
	require.NoError(t, err)

	records, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "alpha", records[0].App)
	assert.Equal(t, "zulu", records[1].App)
}
