package reconciler

import (
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func withKind(kind string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetKind(kind)
	u.SetAPIVersion("v1")
	return u
}

func TestPartitionByPriorityOrdersNamespaceThenCRDThenOther(t *testing.T) {
	cm := withKind("ConfigMap")
	ns := withKind("Namespace")
	crd := withKind("CustomResourceDefinition")
	deploy := withKind("Deployment")

	groups := partitionByPriority([]*unstructured.Unstructured{cm, ns, crd, deploy})

	if len(groups[priorityNamespace]) != 1 || groups[priorityNamespace][0] != ns {
		t.Fatalf("expected Namespace in priority group 0, got %v", groups[priorityNamespace])
	}
	if len(groups[priorityCRD]) != 1 || groups[priorityCRD][0] != crd {
		t.Fatalf("expected CustomResourceDefinition in priority group 1, got %v", groups[priorityCRD])
	}
	if len(groups[priorityOther]) != 2 {
		t.Fatalf("expected ConfigMap and Deployment in priority group 2, got %v", groups[priorityOther])
	}
}

func TestPriorityOfUnknownKindFallsToOther(t *testing.T) {
	if got := priorityOf(withKind("Secret")); got != priorityOther {
		t.Fatalf("expected Secret to fall into priorityOther, got %d", got)
	}
}
