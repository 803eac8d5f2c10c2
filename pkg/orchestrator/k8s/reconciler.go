// Package k8s reconciles the Kubernetes-side effects of team provisioning:
// the team's scheduled CronJobs (AI pipeline and dependency discovery),
// one-off pipeline Jobs, and, for teams with a dedicated deployment, its
// Deployment and Service.
package k8s

import (
	"context"
	"fmt"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"

	"github.com/incidentfox/ifox-core/pkg/orchestrator"
)

// Reconciler owns the clientset and the namespace/image conventions for
// per-team workloads. It implements orchestrator.CronJobReconciler,
// orchestrator.DeploymentReconciler, orchestrator.ResourceDeleter, and
// orchestrator.PipelineRunner.
type Reconciler struct {
	clientset   kubernetes.Interface
	namespace   string
	agentImage  string
	serviceHost string // cluster DNS suffix for the Service URL, e.g. "svc.cluster.local"
}

// New creates a Reconciler targeting a single namespace shared by every
// team's workloads, distinguished by resource name.
func New(clientset kubernetes.Interface, namespace, agentImage, serviceHost string) *Reconciler {
	return &Reconciler{clientset: clientset, namespace: namespace, agentImage: agentImage, serviceHost: serviceHost}
}

// resourceName builds the fixed ifox-{org}-{team}-{kind} naming scheme
// every team-scoped object follows.
func resourceName(org, team, kind string) string {
	slug := strings.ToLower(strings.ReplaceAll(org+"-"+team+"-"+kind, "_", "-"))
	return "ifox-" + slug
}

func teamLabels(org, team, component string) map[string]string {
	return map[string]string{
		"app.kubernetes.io/managed-by": "ifox-orchestrator",
		"org":                          strings.ToLower(org),
		"team":                         strings.ToLower(team),
		"component":                    component,
	}
}

// ReconcileCronJob creates, updates, or (when disabled) deletes the team's
// scheduled CronJob of the given kind ("pipeline" or "depdiscovery") to
// match the desired schedule. Returns the resource name.
func (r *Reconciler) ReconcileCronJob(ctx context.Context, org, team, kind, schedule string, enabled bool) (string, error) {
	name := resourceName(org, team, "cronjob-"+kind)
	client := r.clientset.BatchV1().CronJobs(r.namespace)

	if !enabled {
		err := client.Delete(ctx, name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return name, fmt.Errorf("delete cronjob %s: %w", name, err)
		}
		return name, nil
	}
	if schedule == "" {
		return name, fmt.Errorf("reconcile cronjob %s: schedule must be set when enabled", name)
	}

	labels := teamLabels(org, team, kind)
	desired := &batchv1.CronJob{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: r.namespace,
			Labels:    labels,
		},
		Spec: batchv1.CronJobSpec{
			Schedule:          schedule,
			ConcurrencyPolicy: batchv1.ForbidConcurrent,
			JobTemplate: batchv1.JobTemplateSpec{
				Spec: batchv1.JobSpec{
					Template: corev1.PodTemplateSpec{
						ObjectMeta: metav1.ObjectMeta{Labels: labels},
						Spec: corev1.PodSpec{
							RestartPolicy: corev1.RestartPolicyOnFailure,
							Containers: []corev1.Container{
								r.agentContainer(org, team, kind),
							},
						},
					},
				},
			},
		},
	}

	existing, err := client.Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, err := client.Create(ctx, desired, metav1.CreateOptions{}); err != nil {
			return name, fmt.Errorf("create cronjob %s: %w", name, err)
		}
		return name, nil
	}
	if err != nil {
		return name, fmt.Errorf("get cronjob %s: %w", name, err)
	}

	existing.Spec.Schedule = desired.Spec.Schedule
	existing.Spec.JobTemplate = desired.Spec.JobTemplate
	if _, err := client.Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
		return name, fmt.Errorf("update cronjob %s: %w", name, err)
	}
	return name, nil
}

// RunPipelineJob starts a one-off pipeline Job for the team, named with a
// timestamp suffix so repeated triggers never collide.
func (r *Reconciler) RunPipelineJob(ctx context.Context, org, team string) (string, error) {
	name := fmt.Sprintf("%s-%d", resourceName(org, team, "pipeline-run"), time.Now().Unix())
	labels := teamLabels(org, team, "pipeline")

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: r.namespace, Labels: labels},
		Spec: batchv1.JobSpec{
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyOnFailure,
					Containers:    []corev1.Container{r.agentContainer(org, team, "pipeline")},
				},
			},
		},
	}
	if _, err := r.clientset.BatchV1().Jobs(r.namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return "", fmt.Errorf("create pipeline job %s: %w", name, err)
	}
	return name, nil
}

// ReconcileDeployment creates or updates the team's dedicated agent
// Deployment and its ClusterIP Service, returning the in-cluster URL the
// team's config records as agent.dedicated_service_url.
func (r *Reconciler) ReconcileDeployment(ctx context.Context, org, team string) (string, error) {
	name := resourceName(org, team, "agent")
	labels := teamLabels(org, team, "agent")
	replicas := int32(1)

	deployClient := r.clientset.AppsV1().Deployments(r.namespace)
	desired := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: r.namespace, Labels: labels},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{r.agentContainer(org, team, "dedicated")},
				},
			},
		},
	}

	existing, err := deployClient.Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, err := deployClient.Create(ctx, desired, metav1.CreateOptions{}); err != nil {
			return "", fmt.Errorf("create deployment %s: %w", name, err)
		}
	} else if err != nil {
		return "", fmt.Errorf("get deployment %s: %w", name, err)
	} else {
		existing.Spec.Template = desired.Spec.Template
		if _, err := deployClient.Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
			return "", fmt.Errorf("update deployment %s: %w", name, err)
		}
	}

	svcClient := r.clientset.CoreV1().Services(r.namespace)
	desiredSvc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: r.namespace, Labels: labels},
		Spec: corev1.ServiceSpec{
			Selector: labels,
			Ports: []corev1.ServicePort{
				{Name: "http", Port: 8080, TargetPort: intstr.FromInt(8080)},
			},
		},
	}
	if _, err := svcClient.Get(ctx, name, metav1.GetOptions{}); apierrors.IsNotFound(err) {
		if _, err := svcClient.Create(ctx, desiredSvc, metav1.CreateOptions{}); err != nil {
			return "", fmt.Errorf("create service %s: %w", name, err)
		}
	} else if err != nil {
		return "", fmt.Errorf("get service %s: %w", name, err)
	}

	return fmt.Sprintf("http://%s.%s.%s:8080", name, r.namespace, r.serviceHost), nil
}

// DeleteTeamResources implements orchestrator.ResourceDeleter: it removes
// the team's Deployment, Service, and both CronJobs, reporting each
// resource's outcome individually. Missing resources report not_found, not
// errors. With dryRun set nothing is deleted; present resources report
// would_delete.
func (r *Reconciler) DeleteTeamResources(ctx context.Context, org, team string, dryRun bool) (map[string]orchestrator.ResourceOutcome, error) {
	agentName := resourceName(org, team, "agent")
	out := map[string]orchestrator.ResourceOutcome{}

	deployments := r.clientset.AppsV1().Deployments(r.namespace)
	out["deployment"] = r.deleteOutcome(dryRun,
		func() error { _, err := deployments.Get(ctx, agentName, metav1.GetOptions{}); return err },
		func() error { return deployments.Delete(ctx, agentName, metav1.DeleteOptions{}) })

	services := r.clientset.CoreV1().Services(r.namespace)
	out["service"] = r.deleteOutcome(dryRun,
		func() error { _, err := services.Get(ctx, agentName, metav1.GetOptions{}); return err },
		func() error { return services.Delete(ctx, agentName, metav1.DeleteOptions{}) })

	cronjobs := r.clientset.BatchV1().CronJobs(r.namespace)
	for _, kind := range []string{"pipeline", "depdiscovery"} {
		name := resourceName(org, team, "cronjob-"+kind)
		out["cronjob-"+kind] = r.deleteOutcome(dryRun,
			func() error { _, err := cronjobs.Get(ctx, name, metav1.GetOptions{}); return err },
			func() error { return cronjobs.Delete(ctx, name, metav1.DeleteOptions{}) })
	}

	return out, nil
}

// deleteOutcome classifies one resource's teardown: absent resources are
// not_found, dry runs stop after the existence check.
func (r *Reconciler) deleteOutcome(dryRun bool, get func() error, del func() error) orchestrator.ResourceOutcome {
	if err := get(); apierrors.IsNotFound(err) {
		return orchestrator.OutcomeNotFound
	}
	if dryRun {
		return orchestrator.OutcomeWouldDelete
	}
	if err := del(); err != nil && !apierrors.IsNotFound(err) {
		return orchestrator.ResourceOutcome("error: " + err.Error())
	}
	return orchestrator.OutcomeDeleted
}

func (r *Reconciler) agentContainer(org, team, mode string) corev1.Container {
	return corev1.Container{
		Name:  "agent",
		Image: r.agentImage,
		Env: []corev1.EnvVar{
			{Name: "IFOX_ORG", Value: org},
			{Name: "IFOX_TEAM", Value: team},
			{Name: "IFOX_AGENT_MODE", Value: mode},
		},
	}
}
