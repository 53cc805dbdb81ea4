// Package reconciler implements the agent-side apply/prune pass (spec
// §4.5): parse a DeploymentObject's YAML into cluster-API objects, apply
// them in priority order with ownership annotations stamped on, and prune
// drifted resources the current object list no longer names.
package reconciler

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	k8syaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"
)

// DefaultApplyMaxRetries and DefaultApplyBackoff are the in-cycle retry
// defaults for a single object's apply (spec §4.5 "exponential backoff
// within the same poll cycle up to max_retries"), used by New;
// NewWithRetry takes explicit values instead.
const (
	DefaultApplyMaxRetries = 3
	DefaultApplyBackoff    = 500 * time.Millisecond
)

// Ownership annotation keys stamped on every applied object (spec §4.5
// step 3), used again at prune time to find resources this stack owns.
const (
	AnnotationStackID  = "brokkr.io/stack-id"
	AnnotationChecksum = "brokkr.io/checksum"
)

// ClusterClient is the slice of internal/agent/cluster.Client the
// reconciler depends on, kept narrow so it is trivially fakeable in tests.
type ClusterClient interface {
	Apply(ctx context.Context, obj *unstructured.Unstructured) error
	Delete(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) error
	ListByAnnotation(ctx context.Context, gvk schema.GroupVersionKind, namespace, annotationKey string) ([]unstructured.Unstructured, error)
}

// Reconciler applies and prunes one stack's DeploymentObjects against a
// cluster client.
type Reconciler struct {
	cluster         ClusterClient
	logger          *zap.Logger
	applyMaxRetries int
	applyBackoff    time.Duration

	mu       sync.Mutex
	observed map[string]*stackShape // stack id -> every GVK/namespace ever applied for it this process
}

// stackShape remembers the union of GVKs and namespaces a stack has ever
// used, so a later DeploymentObject that drops a kind entirely (or the
// deletion marker's empty object list) still knows which cluster kinds to
// scan for stack-owned drift (spec §4.5 step 5). A fresh process rebuilds
// this on its first non-deletion reconcile per stack; it is a cache, not
// a source of truth — prune always reconfirms ownership against the live
// annotation on each candidate object before deleting it.
type stackShape struct {
	gvks       map[schema.GroupVersionKind]bool
	namespaces map[string]bool
}

// New builds a Reconciler with the default in-cycle apply-retry budget.
func New(cluster ClusterClient, logger *zap.Logger) *Reconciler {
	return NewWithRetry(cluster, logger, DefaultApplyMaxRetries, DefaultApplyBackoff)
}

// NewWithRetry builds a Reconciler with an explicit apply-retry budget
// (spec §4.5), for callers that source it from agent configuration.
func NewWithRetry(cluster ClusterClient, logger *zap.Logger, applyMaxRetries int, applyBackoff time.Duration) *Reconciler {
	if applyMaxRetries < 1 {
		applyMaxRetries = 1
	}
	return &Reconciler{
		cluster:         cluster,
		logger:          logger,
		applyMaxRetries: applyMaxRetries,
		applyBackoff:    applyBackoff,
		observed:        map[string]*stackShape{},
	}
}

// Checksum computes the SHA-256 content checksum of a DeploymentObject's
// YAML, the same digest the broker stores alongside the object.
func Checksum(yamlBody string) string {
	sum := sha256.Sum256([]byte(yamlBody))
	return hex.EncodeToString(sum[:])
}

// Reconcile applies one DeploymentObject's manifests in priority order and
// then prunes drifted resources. isDeletionMarker skips the apply phase
// and prunes everything the stack owns (spec §4.5 step 4).
func (r *Reconciler) Reconcile(ctx context.Context, stackID, yamlBody, checksum string, isDeletionMarker bool) error {
	objects, err := parseMultiDoc(yamlBody)
	if err != nil {
		return fmt.Errorf("reconciler: parse manifests: %w", err)
	}

	groups := partitionByPriority(objects)
	current := make(map[objectKey]bool, len(objects))
	var applyErr error

	if !isDeletionMarker {
		for _, group := range groups {
			for _, obj := range group {
				stampOwnership(obj, stackID, checksum)
				current[keyOf(obj)] = true
				if err := r.applyWithRetry(ctx, stackID, obj); err != nil {
					r.logger.Error("apply failed",
						zap.String("stack_id", stackID),
						zap.String("kind", obj.GetKind()),
						zap.String("name", obj.GetName()),
						zap.Error(err))
					if applyErr == nil {
						applyErr = fmt.Errorf("reconciler: apply %s %s: %w", obj.GetKind(), obj.GetName(), err)
					}
					continue
				}
			}
		}
	}

	if err := r.prune(ctx, stackID, checksum, objects, current); err != nil {
		return err
	}
	return applyErr
}

// applyWithRetry applies one object, retrying retryable failures in-cycle
// with exponential backoff (backoff * 2^attempt) up to applyMaxRetries
// before giving up (spec §4.5). Non-retryable errors fail the object
// immediately; the next poll cycle retries it from scratch.
func (r *Reconciler) applyWithRetry(ctx context.Context, stackID string, obj *unstructured.Unstructured) error {
	var err error
	for attempt := 0; attempt < r.applyMaxRetries; attempt++ {
		err = r.cluster.Apply(ctx, obj)
		if err == nil {
			return nil
		}
		if !isRetryableApplyError(err) {
			return err
		}
		if attempt == r.applyMaxRetries-1 {
			break
		}

		delay := time.Duration(float64(r.applyBackoff) * math.Pow(2, float64(attempt)))
		r.logger.Warn("retryable apply error, backing off",
			zap.String("stack_id", stackID),
			zap.String("kind", obj.GetKind()),
			zap.String("name", obj.GetName()),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isRetryableApplyError reports whether err is one of the cluster-apply
// failures spec §4.5 names as retryable within the same poll cycle: HTTP
// 429/500/503/504, ServiceUnavailable, InternalError, Timeout.
func isRetryableApplyError(err error) bool {
	if err == nil {
		return false
	}
	if apierrors.IsTooManyRequests(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) {
		return true
	}
	if status, ok := err.(apierrors.APIStatus); ok {
		switch int(status.Status().Code) {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

// prune enumerates cluster resources bearing stack-id=stackID whose
// checksum annotation does not match the current checksum and are not in
// the current object list, and deletes them (spec §4.5 step 5). A
// deletion marker carries an empty object list, so every owned resource
// mismatches and is pruned.
func (r *Reconciler) prune(ctx context.Context, stackID, checksum string, objects []*unstructured.Unstructured, current map[objectKey]bool) error {
	gvks, namespaces := r.shapeForPrune(stackID, objects)
	if len(namespaces) == 0 {
		namespaces = []string{""}
	}

	for _, gvk := range gvks {
		for _, ns := range namespaces {
			owned, err := r.cluster.ListByAnnotation(ctx, gvk, ns, AnnotationStackID)
			if err != nil {
				r.logger.Error("list owned resources failed", zap.String("stack_id", stackID), zap.Error(err))
				continue
			}
			for _, item := range owned {
				if item.GetAnnotations()[AnnotationStackID] != stackID {
					continue
				}
				if item.GetAnnotations()[AnnotationChecksum] == checksum {
					continue
				}
				if current[keyOfUnstructured(item)] {
					continue
				}
				if err := r.cluster.Delete(ctx, item.GroupVersionKind(), item.GetNamespace(), item.GetName()); err != nil {
					r.logger.Error("prune delete failed",
						zap.String("stack_id", stackID), zap.String("name", item.GetName()), zap.Error(err))
				}
			}
		}
	}
	return nil
}

// shapeForPrune merges the current DeploymentObject's GVKs/namespaces into
// the stack's remembered shape and returns the full candidate set to scan
// for drift. A deletion marker (empty objects) still returns every kind
// and namespace the stack ever touched this process, so every remaining
// owned resource is considered for pruning (spec scenario S2).
func (r *Reconciler) shapeForPrune(stackID string, objects []*unstructured.Unstructured) ([]schema.GroupVersionKind, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	shape, ok := r.observed[stackID]
	if !ok {
		shape = &stackShape{gvks: map[schema.GroupVersionKind]bool{}, namespaces: map[string]bool{}}
		r.observed[stackID] = shape
	}
	for _, gvk := range distinctGVKs(objects) {
		shape.gvks[gvk] = true
	}
	for _, ns := range distinctNamespaces(objects) {
		shape.namespaces[ns] = true
	}

	gvks := make([]schema.GroupVersionKind, 0, len(shape.gvks))
	for gvk := range shape.gvks {
		gvks = append(gvks, gvk)
	}
	namespaces := make([]string, 0, len(shape.namespaces))
	for ns := range shape.namespaces {
		namespaces = append(namespaces, ns)
	}
	return gvks, namespaces
}

func stampOwnership(obj *unstructured.Unstructured, stackID, checksum string) {
	annotations := obj.GetAnnotations()
	if annotations == nil {
		annotations = map[string]string{}
	}
	annotations[AnnotationStackID] = stackID
	annotations[AnnotationChecksum] = checksum
	obj.SetAnnotations(annotations)
}

type objectKey struct {
	group     string
	kind      string
	namespace string
	name      string
}

func keyOf(obj *unstructured.Unstructured) objectKey {
	gvk := obj.GroupVersionKind()
	return objectKey{group: gvk.Group, kind: gvk.Kind, namespace: obj.GetNamespace(), name: obj.GetName()}
}

func keyOfUnstructured(obj unstructured.Unstructured) objectKey {
	return keyOf(&obj)
}

func distinctGVKs(objects []*unstructured.Unstructured) []schema.GroupVersionKind {
	seen := map[schema.GroupVersionKind]bool{}
	var out []schema.GroupVersionKind
	for _, obj := range objects {
		gvk := obj.GroupVersionKind()
		if !seen[gvk] {
			seen[gvk] = true
			out = append(out, gvk)
		}
	}
	return out
}

func distinctNamespaces(objects []*unstructured.Unstructured) []string {
	seen := map[string]bool{}
	var out []string
	for _, obj := range objects {
		ns := obj.GetNamespace()
		if !seen[ns] {
			seen[ns] = true
			out = append(out, ns)
		}
	}
	return out
}

// parseMultiDoc splits a multi-document YAML string into unstructured
// objects, using sigs.k8s.io/yaml for the JSON-compatible round trip
// apimachinery's own (un)marshaling expects.
func parseMultiDoc(yamlBody string) ([]*unstructured.Unstructured, error) {
	reader := k8syaml.NewYAMLReader(bufio.NewReader(strings.NewReader(yamlBody)))

	var out []*unstructured.Unstructured
	for {
		raw, err := reader.Read()
		if err != nil {
			break
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}

		jsonBytes, err := yaml.YAMLToJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("convert document to json: %w", err)
		}

		var m map[string]interface{}
		if err := yaml.Unmarshal(jsonBytes, &m); err != nil {
			return nil, fmt.Errorf("unmarshal document: %w", err)
		}
		if len(m) == 0 {
			continue
		}
		out = append(out, &unstructured.Unstructured{Object: m})
	}
	return out, nil
}
