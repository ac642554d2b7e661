// Package state persists deploy records as ConfigMaps in the target namespace.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// recordPrefix names the ConfigMaps backing release records, one per application.
const recordPrefix = "kdeploy-release-"

// Store reads and writes release records. Only a ConfigMap backend exists;
// records live in the namespace that was deployed into.
type Store struct {
	clientset kubernetes.Interface
	namespace string
	logger    *slog.Logger
	now       func() time.Time
}

// Record is the stored outcome of one application deploy.
type Record struct {
	App        string
	Env        string
	Namespace  string
	Created    int
	Configured int
	Unchanged  int
	Errors     int
	DeployedAt time.Time
}

// NewStore constructs a Store over the given namespace.
func NewStore(cs kubernetes.Interface, namespace string, logger *slog.Logger) (*Store, error) {
	if cs == nil {
		return nil, errors.New("release store requires a Kubernetes client")
	}
	if strings.TrimSpace(namespace) == "" {
		return nil, errors.New("release store requires a namespace")
	}
	return &Store{clientset: cs, namespace: namespace, logger: logger, now: time.Now}, nil
}

// Save upserts the release record for rec.App. A storage failure is returned
// to the caller but must never fail the deploy itself; callers log and move on.
func (s *Store) Save(ctx context.Context, rec Record) error {
	name := recordPrefix + rec.App

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: s.namespace,
			Labels:    map[string]string{"app.kubernetes.io/managed-by": "kdeploy"},
		},
		Data: map[string]string{
			"app":        rec.App,
			"env":        rec.Env,
			"namespace":  rec.Namespace,
			"created":    strconv.Itoa(rec.Created),
			"configured": strconv.Itoa(rec.Configured),
			"unchanged":  strconv.Itoa(rec.Unchanged),
			"errors":     strconv.Itoa(rec.Errors),
			"deployedAt": s.now().UTC().Format(time.RFC3339),
		},
	}

	_, err := s.clientset.CoreV1().ConfigMaps(s.namespace).Create(ctx, cm, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		_, err = s.clientset.CoreV1().ConfigMaps(s.namespace).Update(ctx, cm, metav1.UpdateOptions{})
	}
	if err != nil {
		return fmt.Errorf("save release record %s: %w", name, err)
	}

	if s.logger != nil {
		s.logger.Debug("release record saved", "configmap", name, "namespace", s.namespace)
	}
	return nil
}

// List returns all release records in the namespace, sorted by application.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	list, err := s.clientset.CoreV1().ConfigMaps(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "app.kubernetes.io/managed-by=kdeploy",
	})
	if err != nil {
		return nil, fmt.Errorf("list release records: %w", err)
	}

	var records []Record
	for _, item := range list.Items {
		if !strings.HasPrefix(item.Name, recordPrefix) {
			continue
		}
		records = append(records, recordFromData(item.Data))
	}

	sort.Slice(records, func(i, j int) bool { return records[i].App < records[j].App })
	return records, nil
}

func recordFromData(data map[string]string) Record {
	rec := Record{
		App:       data["app"],
		Env:       data["env"],
		Namespace: data["namespace"],
	}
	rec.Created, _ = strconv.Atoi(data["created"])
	rec.Configured, _ = strconv.Atoi(data["configured"])
	rec.Unchanged, _ = strconv.Atoi(data["unchanged"])
	rec.Errors, _ = strconv.Atoi(data["errors"])
	if ts := data["deployedAt"]; ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			rec.DeployedAt = t
		}
	}
	return rec
}
