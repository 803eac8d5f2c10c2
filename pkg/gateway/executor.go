package gateway

import (
	"context"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ErrUnknownCommand is returned for any command name outside the closed
// set the executor understands.
var ErrUnknownCommand = errors.New("unknown command")

// Executor runs one Kubernetes-backed command and serializes the result
// to the compact JSON shape the control plane expects.
type Executor struct {
	clientset kubernetes.Interface
}

// NewExecutor creates an Executor against clientset.
func NewExecutor(clientset kubernetes.Interface) *Executor {
	return &Executor{clientset: clientset}
}

// Run dispatches command to its handler with a 15s deadline, per
// spec.md §4.H. params are the raw command parameters from the gateway.
func (e *Executor) Run(ctx context.Context, command string, params map[string]any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch command {
	case CommandListPods:
		return e.listPods(ctx, params)
	case CommandGetPodLogs:
		return e.getPodLogs(ctx, params)
	case CommandDescribePod:
		return e.describePod(ctx, params)
	case CommandGetPodEvents:
		return e.getPodEvents(ctx, params)
	case CommandDescribeDeployment:
		return e.describeDeployment(ctx, params)
	case CommandListNamespaces:
		return e.listNamespaces(ctx)
	default:
		return nil, ErrUnknownCommand
	}
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func (e *Executor) listPods(ctx context.Context, params map[string]any) (any, error) {
	ns := stringParam(params, "namespace")
	pods, err := e.clientset.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list pods in %s: %w", ns, err)
	}
	out := make([]map[string]any, 0, len(pods.Items))
	for _, p := range pods.Items {
		out = append(out, map[string]any{
			"name":   p.Name,
			"status": string(p.Status.Phase),
			"node":   p.Spec.NodeName,
		})
	}
	return map[string]any{"pods": out}, nil
}

func (e *Executor) getPodLogs(ctx context.Context, params map[string]any) (any, error) {
	ns := stringParam(params, "namespace")
	name := stringParam(params, "pod_name")
	container := stringParam(params, "container")
	tailLines := int64(200)

	req := e.clientset.CoreV1().Pods(ns).GetLogs(name, &corev1.PodLogOptions{
		Container: container,
		TailLines: &tailLines,
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return nil, fmt.Errorf("get logs for %s/%s: %w", ns, name, err)
	}
	defer stream.Close()

	buf := make([]byte, 64*1024)
	n, _ := stream.Read(buf)
	return map[string]any{"logs": string(buf[:n])}, nil
}

func (e *Executor) describePod(ctx context.Context, params map[string]any) (any, error) {
	ns := stringParam(params, "namespace")
	name := stringParam(params, "pod_name")
	pod, err := e.clientset.CoreV1().Pods(ns).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("describe pod %s/%s: %w", ns, name, err)
	}
	return map[string]any{
		"name":        pod.Name,
		"namespace":   pod.Namespace,
		"status":      string(pod.Status.Phase),
		"containers":  containerSummaries(pod),
		"node":        pod.Spec.NodeName,
		"labels":      pod.Labels,
	}, nil
}

func containerSummaries(pod *corev1.Pod) []map[string]any {
	out := make([]map[string]any, 0, len(pod.Status.ContainerStatuses))
	for _, c := range pod.Status.ContainerStatuses {
		out = append(out, map[string]any{
			"name":          c.Name,
			"ready":         c.Ready,
			"restart_count": c.RestartCount,
			"image":         c.Image,
		})
	}
	return out
}

func (e *Executor) getPodEvents(ctx context.Context, params map[string]any) (any, error) {
	ns := stringParam(params, "namespace")
	name := stringParam(params, "pod_name")
	events, err := e.clientset.CoreV1().Events(ns).List(ctx, metav1.ListOptions{
		FieldSelector: "involvedObject.name=" + name,
	})
	if err != nil {
		return nil, fmt.Errorf("list events for %s/%s: %w", ns, name, err)
	}
	out := make([]map[string]any, 0, len(events.Items))
	for _, ev := range events.Items {
		out = append(out, map[string]any{
			"reason":  ev.Reason,
			"message": ev.Message,
			"type":    ev.Type,
			"count":   ev.Count,
		})
	}
	return map[string]any{"events": out}, nil
}

func (e *Executor) describeDeployment(ctx context.Context, params map[string]any) (any, error) {
	ns := stringParam(params, "namespace")
	name := stringParam(params, "deployment_name")
	dep, err := e.clientset.AppsV1().Deployments(ns).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("describe deployment %s/%s: %w", ns, name, err)
	}
	return map[string]any{
		"name":               dep.Name,
		"namespace":          dep.Namespace,
		"replicas":           dep.Status.Replicas,
		"ready_replicas":     dep.Status.ReadyReplicas,
		"available_replicas": dep.Status.AvailableReplicas,
	}, nil
}

func (e *Executor) listNamespaces(ctx context.Context) (any, error) {
	nsList, err := e.clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	out := make([]string, 0, len(nsList.Items))
	for _, ns := range nsList.Items {
		out = append(out, ns.Name)
	}
	return map[string]any{"namespaces": out}, nil
}
