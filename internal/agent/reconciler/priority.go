package reconciler

import "k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

// Priority groups objects apply in (spec §4.5 step 3): namespaces first so
// dependent objects never race their namespace's creation, CRDs second so
// any custom resources in the same manifest have a registered type to
// apply against, everything else last.
const (
	priorityNamespace = iota
	priorityCRD
	priorityOther
	priorityCount
)

func partitionByPriority(objects []*unstructured.Unstructured) [priorityCount][]*unstructured.Unstructured {
	var groups [priorityCount][]*unstructured.Unstructured
	for _, obj := range objects {
		groups[priorityOf(obj)] = append(groups[priorityOf(obj)], obj)
	}
	return groups
}

func priorityOf(obj *unstructured.Unstructured) int {
	switch obj.GetKind() {
	case "Namespace":
		return priorityNamespace
	case "CustomResourceDefinition":
		return priorityCRD
	default:
		return priorityOther
	}
}
