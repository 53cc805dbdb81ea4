package reconciler

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// fakeCluster is an in-memory stand-in for internal/agent/cluster.Client,
// keyed the same way a real apiserver would dedupe objects: GVK + namespace/name.
type fakeCluster struct {
	objects map[objectKey]unstructured.Unstructured
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{objects: map[objectKey]unstructured.Unstructured{}}
}

func (f *fakeCluster) Apply(ctx context.Context, obj *unstructured.Unstructured) error {
	f.objects[keyOf(obj)] = *obj.DeepCopy()
	return nil
}

func (f *fakeCluster) Delete(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) error {
	for k := range f.objects {
		if k.group == gvk.Group && k.kind == gvk.Kind && k.namespace == namespace && k.name == name {
			delete(f.objects, k)
		}
	}
	return nil
}

func (f *fakeCluster) ListByAnnotation(ctx context.Context, gvk schema.GroupVersionKind, namespace, annotationKey string) ([]unstructured.Unstructured, error) {
	var out []unstructured.Unstructured
	for k, obj := range f.objects {
		if k.group != gvk.Group || k.kind != gvk.Kind {
			continue
		}
		if _, ok := obj.GetAnnotations()[annotationKey]; ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

func configMapYAML(name string) string {
	return fmt.Sprintf("apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: %s\n  namespace: default\ndata:\n  k: v\n", name)
}

// TestReconcileApplyAndDriftPrune implements spec scenario S1: a second
// DeploymentObject that drops a previously-applied object prunes it while
// applying the new one.
func TestReconcileApplyAndDriftPrune(t *testing.T) {
	cluster := newFakeCluster()
	r := New(cluster, zap.NewNop())
	ctx := context.Background()

	d1 := configMapYAML("cm-a")
	h1 := Checksum(d1)
	if err := r.Reconcile(ctx, "s1", d1, h1, false); err != nil {
		t.Fatalf("reconcile D1: %v", err)
	}

	cmGVK := schema.GroupVersionKind{Group: "", Kind: "ConfigMap"}
	owned, err := cluster.ListByAnnotation(ctx, cmGVK, "default", AnnotationStackID)
	if err != nil {
		t.Fatalf("list after D1: %v", err)
	}
	if len(owned) != 1 || owned[0].GetName() != "cm-a" {
		t.Fatalf("expected cm-a present after D1, got %v", owned)
	}
	if owned[0].GetAnnotations()[AnnotationStackID] != "s1" || owned[0].GetAnnotations()[AnnotationChecksum] != h1 {
		t.Fatalf("expected ownership annotations stamped, got %v", owned[0].GetAnnotations())
	}

	d2 := configMapYAML("cm-b")
	h2 := Checksum(d2)
	if err := r.Reconcile(ctx, "s1", d2, h2, false); err != nil {
		t.Fatalf("reconcile D2: %v", err)
	}

	owned, err = cluster.ListByAnnotation(ctx, cmGVK, "default", AnnotationStackID)
	if err != nil {
		t.Fatalf("list after D2: %v", err)
	}
	if len(owned) != 1 || owned[0].GetName() != "cm-b" {
		t.Fatalf("expected only cm-b present after D2 (cm-a pruned), got %v", owned)
	}
}

// TestReconcileDeletionMarkerPrunesEverything implements spec scenario S2:
// a deletion-marker DeploymentObject skips apply and prunes all
// stack-owned resources.
func TestReconcileDeletionMarkerPrunesEverything(t *testing.T) {
	cluster := newFakeCluster()
	r := New(cluster, zap.NewNop())
	ctx := context.Background()

	d1 := configMapYAML("cm-a")
	h1 := Checksum(d1)
	if err := r.Reconcile(ctx, "s1", d1, h1, false); err != nil {
		t.Fatalf("reconcile D1: %v", err)
	}

	markerChecksum := Checksum("")
	if err := r.Reconcile(ctx, "s1", "", markerChecksum, true); err != nil {
		t.Fatalf("reconcile deletion marker: %v", err)
	}

	if len(cluster.objects) != 0 {
		t.Fatalf("expected all stack-owned resources pruned by deletion marker, got %v", cluster.objects)
	}
}

func TestReconcileReapplyingIdenticalYAMLIsNoopOnPrune(t *testing.T) {
	cluster := newFakeCluster()
	r := New(cluster, zap.NewNop())
	ctx := context.Background()

	d1 := configMapYAML("cm-a")
	h1 := Checksum(d1)
	if err := r.Reconcile(ctx, "s1", d1, h1, false); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	if err := r.Reconcile(ctx, "s1", d1, h1, false); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}

	if len(cluster.objects) != 1 {
		t.Fatalf("expected single cm-a surviving two identical reconciles, got %v", cluster.objects)
	}
}
