// Package diagnostics collects the pod statuses, cluster events, and log
// tails a DiagnosticRequest asks for (spec §4.7), reusing the reconciler's
// stack-id ownership annotation to scope collection to one stack's pods.
package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/brokkr-io/brokkr/internal/agent/cluster"
	"github.com/brokkr-io/brokkr/internal/agent/reconciler"
)

// maxLogLines caps the tail fetched per container, keeping reports small
// enough to post back over the poll loop's HTTP client without chunking.
const maxLogLines = 200

// Collector gathers cluster telemetry for a stack's owned pods.
type Collector struct {
	cluster *cluster.Client
}

// New builds a Collector over an already-connected cluster.Client.
func New(c *cluster.Client) *Collector {
	return &Collector{cluster: c}
}

// Report holds the three telemetry blobs a DiagnosticResult stores.
type Report struct {
	PodStatuses string
	Events      string
	LogTails    string
}

// Collect gathers telemetry for every pod owned by stackID.
func (c *Collector) Collect(ctx context.Context, stackID string) (Report, error) {
	podGVK := corev1.SchemeGroupVersion.WithKind("Pod")
	pods, err := c.cluster.ListByAnnotation(ctx, podGVK, "", reconciler.AnnotationStackID)
	if err != nil {
		return Report{}, fmt.Errorf("diagnostics: list pods: %w", err)
	}

	var owned []corev1Pod
	for _, item := range pods {
		if item.GetAnnotations()[reconciler.AnnotationStackID] != stackID {
			continue
		}
		owned = append(owned, corev1Pod{namespace: item.GetNamespace(), name: item.GetName(), raw: item.Object})
	}

	statuses := summarizeStatuses(owned)

	typed := c.cluster.Typed()
	events := collectEvents(ctx, typed, owned)
	logs := collectLogTails(ctx, typed, owned)

	return Report{PodStatuses: statuses, Events: events, LogTails: logs}, nil
}

type corev1Pod struct {
	namespace string
	name      string
	raw       map[string]interface{}
}

func summarizeStatuses(pods []corev1Pod) string {
	type podSummary struct {
		Namespace string `json:"namespace"`
		Name      string `json:"name"`
		Phase     string `json:"phase,omitempty"`
	}
	summaries := make([]podSummary, 0, len(pods))
	for _, p := range pods {
		phase, _, _ := nestedString(p.raw, "status", "phase")
		summaries = append(summaries, podSummary{Namespace: p.namespace, Name: p.name, Phase: phase})
	}
	data, err := json.Marshal(summaries)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func nestedString(obj map[string]interface{}, fields ...string) (string, bool, error) {
	cur := obj
	for i, f := range fields {
		v, ok := cur[f]
		if !ok {
			return "", false, nil
		}
		if i == len(fields)-1 {
			s, ok := v.(string)
			return s, ok, nil
		}
		next, ok := v.(map[string]interface{})
		if !ok {
			return "", false, nil
		}
		cur = next
	}
	return "", false, nil
}

func collectEvents(ctx context.Context, typed kubernetes.Interface, pods []corev1Pod) string {
	namespaces := map[string]bool{}
	for _, p := range pods {
		namespaces[p.namespace] = true
	}

	var all []corev1.Event
	for ns := range namespaces {
		list, err := typed.CoreV1().Events(ns).List(ctx, metav1.ListOptions{})
		if err != nil {
			continue
		}
		all = append(all, list.Items...)
	}

	type eventSummary struct {
		Namespace string `json:"namespace"`
		Reason    string `json:"reason"`
		Message   string `json:"message"`
		Type      string `json:"type"`
	}
	summaries := make([]eventSummary, 0, len(all))
	for _, e := range all {
		summaries = append(summaries, eventSummary{Namespace: e.Namespace, Reason: e.Reason, Message: e.Message, Type: e.Type})
	}
	data, err := json.Marshal(summaries)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func collectLogTails(ctx context.Context, typed kubernetes.Interface, pods []corev1Pod) string {
	var buf bytes.Buffer
	tailLines := int64(maxLogLines)
	for _, p := range pods {
		req := typed.CoreV1().Pods(p.namespace).GetLogs(p.name, &corev1.PodLogOptions{TailLines: &tailLines})
		stream, err := req.Stream(ctx)
		if err != nil {
			fmt.Fprintf(&buf, "=== %s/%s ===\n(unavailable: %v)\n", p.namespace, p.name, err)
			continue
		}
		fmt.Fprintf(&buf, "=== %s/%s ===\n", p.namespace, p.name)
		io.Copy(&buf, stream)
		stream.Close()
		buf.WriteByte('\n')
	}
	return buf.String()
}
