package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/kdeploy-dev/kdeploy/internal/config"
	"github.com/kdeploy-dev/kdeploy/internal/kube"
	"github.com/kdeploy-dev/kdeploy/internal/state"
)

// newStatusCommand creates the "status" subcommand that prints deployments,
// pods and services for the target namespace.
func newStatusCommand(opts *Options) *cobra.Command {
	var appFilter string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show deployments, pods and services in the target namespace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			cfg, err := config.Load(opts.ConfigPath, opts.Env)
			if err != nil {
				return err
			}

			namespace := resolveNamespace(opts, cfg)
			if namespace == "" {
				return errors.New("namespace required: pass --namespace or configure it for the environment")
			}

			client, err := kube.NewClient(cfg, logger)
			if err != nil {
				return err
			}
			if _, err := client.CheckConnection(cmd.Context()); err != nil {
				return err
			}
			if err := client.CheckNamespace(cmd.Context(), namespace); err != nil {
				return err
			}

			listOpts := metav1.ListOptions{}
			if appFilter != "" {
				listOpts.LabelSelector = fmt.Sprintf("app=%s", appFilter)
			}

			return printStatus(cmd.Context(), cmd, client, namespace, listOpts)
		},
	}

	cmd.Flags().StringVar(&appFilter, "app", "", "Only show resources labelled app=<name>")

	return cmd
}

func printStatus(ctx context.Context, cmd *cobra.Command, client *kube.Client, namespace string, listOpts metav1.ListOptions) error {
	out := cmd.OutOrStdout()

	deployments, err := client.Clientset.AppsV1().Deployments(namespace).List(ctx, listOpts)
	if err != nil {
		return err
	}
	dt := table.NewWriter()
	dt.SetOutputMirror(out)
	dt.SetStyle(table.StyleLight)
	dt.SetTitle("Deployments (%s)", namespace)
	dt.AppendHeader(table.Row{"Name", "Ready", "Available", "Age"})
	for _, d := range deployments.Items {
		replicas := int32(0)
		if d.Spec.Replicas != nil {
			replicas = *d.Spec.Replicas
		}
		dt.AppendRow(table.Row{
			d.Name,
			fmt.Sprintf("%d/%d", d.Status.ReadyReplicas, replicas),
			d.Status.AvailableReplicas,
			formatAge(d.CreationTimestamp.Time),
		})
	}
	dt.Render()

	pods, err := client.Clientset.CoreV1().Pods(namespace).List(ctx, listOpts)
	if err != nil {
		return err
	}
	pt := table.NewWriter()
	pt.SetOutputMirror(out)
	pt.SetStyle(table.StyleLight)
	pt.SetTitle("Pods (%s)", namespace)
	pt.AppendHeader(table.Row{"Name", "Status", "Restarts", "Age"})
	for _, p := range pods.Items {
		restarts := int32(0)
		for _, cs := range p.Status.ContainerStatuses {
			restarts += cs.RestartCount
		}
		pt.AppendRow(table.Row{
			p.Name,
			string(p.Status.Phase),
			restarts,
			formatAge(p.CreationTimestamp.Time),
		})
	}
	pt.Render()

	services, err := client.Clientset.CoreV1().Services(namespace).List(ctx, listOpts)
	if err != nil {
		return err
	}
	st := table.NewWriter()
	st.SetOutputMirror(out)
	st.SetStyle(table.StyleLight)
	st.SetTitle("Services (%s)", namespace)
	st.AppendHeader(table.Row{"Name", "Type", "Cluster-IP", "Ports", "Age"})
	for _, s := range services.Items {
		ports := make([]string, 0, len(s.Spec.Ports))
		for _, p := range s.Spec.Ports {
			ports = append(ports, fmt.Sprintf("%d/%s", p.Port, p.Protocol))
		}
		st.AppendRow(table.Row{
			s.Name,
			string(s.Spec.Type),
			s.Spec.ClusterIP,
			strings.Join(ports, ","),
			formatAge(s.CreationTimestamp.Time),
		})
	}
	st.Render()

	printReleases(ctx, cmd, client, namespace)

	return nil
}

// printReleases shows the stored release records. Absence of records is not
// an error; older namespaces predate the store.
func printReleases(ctx context.Context, cmd *cobra.Command, client *kube.Client, namespace string) {
	store, err := state.NewStore(client.Clientset, namespace, nil)
	if err != nil {
		return
	}
	records, err := store.List(ctx)
	if err != nil || len(records) == 0 {
		return
	}

	rt := table.NewWriter()
	rt.SetOutputMirror(cmd.OutOrStdout())
	rt.SetStyle(table.StyleLight)
	rt.SetTitle("Releases (%s)", namespace)
	rt.AppendHeader(table.Row{"App", "Env", "Result", "Deployed"})
	for _, rec := range records {
		result := fmt.Sprintf("%d created, %d configured, %d unchanged, %d errors",
			rec.Created, rec.Configured, rec.Unchanged, rec.Errors)
		rt.AppendRow(table.Row{rec.App, rec.Env, result, formatAge(rec.DeployedAt)})
	}
	rt.Render()
}

// formatAge renders a creation timestamp the way kubectl does: a single
// coarse unit.
func formatAge(created time.Time) string {
	if created.IsZero() {
		return "-"
	}

	age := time.Since(created)
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours())/24)
	}
}
