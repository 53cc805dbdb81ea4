// Package cluster wraps a client-go dynamic client behind a narrow
// Apply/Delete/ListByAnnotation method set, so the
// reconciler can apply arbitrary, not-statically-typed manifests the way
// the teacher's internal/controller package applies one typed CRD —
// generalized to unstructured objects since Brokkr ships any cluster-API
// kind, not a single CRD (internal/controller/legatoragent_controller.go).
package cluster

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"
)

// FieldOwner is the field manager name stamped on every server-side apply,
// so Brokkr-owned fields are distinguishable from fields other actors set.
const FieldOwner = "brokkr-agent"

// Client applies and prunes unstructured objects via server-side apply,
// resolving each object's GVR from discovery on demand.
type Client struct {
	dynamic dynamic.Interface
	typed   kubernetes.Interface
	mapper  meta.RESTMapper
}

// Typed exposes the underlying typed clientset for the handful of APIs
// (pod log streaming, core Event listing) unstructured objects can't
// reach — used only by the diagnostic collector.
func (c *Client) Typed() kubernetes.Interface {
	return c.typed
}

// NewFromKubeconfig builds a Client from a kubeconfig file, or from the
// in-cluster config when path is empty (the normal in-pod agent deployment).
func NewFromKubeconfig(path string) (*Client, error) {
	var cfg *rest.Config
	var err error
	if path == "" {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", path)
	}
	if err != nil {
		return nil, fmt.Errorf("cluster: load config: %w", err)
	}
	return New(cfg)
}

// New builds a Client from an already-resolved rest.Config.
func New(cfg *rest.Config) (*Client, error) {
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("cluster: build dynamic client: %w", err)
	}
	disc, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("cluster: build discovery client: %w", err)
	}
	typed, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("cluster: build typed client: %w", err)
	}
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(disc))
	return &Client{dynamic: dyn, typed: typed, mapper: mapper}, nil
}

func (c *Client) resourceFor(gvk schema.GroupVersionKind, namespace string) (dynamic.ResourceInterface, error) {
	mapping, err := c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return nil, fmt.Errorf("cluster: resolve REST mapping for %s: %w", gvk, err)
	}
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		return c.dynamic.Resource(mapping.Resource).Namespace(namespace), nil
	}
	return c.dynamic.Resource(mapping.Resource), nil
}

// Apply performs an idempotent server-side declarative apply: the API
// server decides create vs update based on current cluster state (spec
// §4.5 step 3).
func (c *Client) Apply(ctx context.Context, obj *unstructured.Unstructured) error {
	res, err := c.resourceFor(obj.GroupVersionKind(), obj.GetNamespace())
	if err != nil {
		return err
	}

	data, err := obj.MarshalJSON()
	if err != nil {
		return fmt.Errorf("cluster: marshal object: %w", err)
	}

	force := true
	_, err = res.Patch(ctx, obj.GetName(), types.ApplyPatchType, data, metav1.PatchOptions{FieldManager: FieldOwner, Force: &force})
	return err
}

// Delete removes one object by GVK/namespace/name — used by the prune pass.
func (c *Client) Delete(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) error {
	res, err := c.resourceFor(gvk, namespace)
	if err != nil {
		return err
	}
	return res.Delete(ctx, name, metav1.DeleteOptions{})
}

// ListByAnnotation lists every object of gvk in namespace (all namespaces if
// empty and cluster-scoped) carrying the given annotation key, for the
// drift-based prune pass (spec §4.5 step 5) which has no label-selector
// equivalent for annotations and must filter client-side.
func (c *Client) ListByAnnotation(ctx context.Context, gvk schema.GroupVersionKind, namespace, annotationKey string) ([]unstructured.Unstructured, error) {
	res, err := c.resourceFor(gvk, namespace)
	if err != nil {
		return nil, err
	}
	list, err := res.List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("cluster: list %s: %w", gvk, err)
	}

	var out []unstructured.Unstructured
	for _, item := range list.Items {
		if _, ok := item.GetAnnotations()[annotationKey]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}
