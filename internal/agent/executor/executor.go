// Package executor runs a claimed WorkOrder's opaque payload. WorkOrder
// work_type is free-form (spec: e.g. "build"); the core "dispatches to
// external modules" rather than rendering charts or building images
// itself, so this package only handles the one work_type Brokkr's own
// cluster client can serve directly — an ad-hoc manifest apply — and
// reports every other work_type as unsupported rather than guessing at a
// dispatch contract the spec never defines.
package executor

import (
	"context"
	"fmt"

	"github.com/brokkr-io/brokkr/internal/agent/reconciler"
)

// applyWorkType is the one work_type this executor knows how to run: apply
// the WorkOrder's YAML body through the reconciler, outside of any stack's
// normal reconcile cycle, with the work order id standing in for the stack
// id in the ownership annotations and the prune pass.
const applyWorkType = "apply"

// Reconciler is the slice of internal/agent/reconciler.Reconciler this
// package depends on.
type Reconciler interface {
	Reconcile(ctx context.Context, stackID, yamlBody, checksum string, isDeletionMarker bool) error
}

// Executor runs WorkOrder payloads against the cluster.
type Executor struct {
	reconciler Reconciler
}

// New builds an Executor.
func New(r Reconciler) *Executor {
	return &Executor{reconciler: r}
}

// Execute dispatches on work_type, returning the outcome to report back to
// the broker. id scopes the applied objects' ownership annotation the same
// way a stack id would, so a later work order with the same id can prune
// what an earlier one applied.
func (e *Executor) Execute(ctx context.Context, id, workType, yamlBody string) (success bool, message string) {
	switch workType {
	case applyWorkType:
		checksum := reconciler.Checksum(yamlBody)
		if err := e.reconciler.Reconcile(ctx, id, yamlBody, checksum, false); err != nil {
			return false, err.Error()
		}
		return true, ""
	default:
		return false, fmt.Sprintf("unsupported work_type %q", workType)
	}
}
