package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/brokkr-io/brokkr/internal/apierr"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
	"github.com/jackc/pgx/v5"
)

// CreateStack inserts a new stack owned by generatorID (nil for admin-created stacks).
func (s *Store) CreateStack(ctx context.Context, name, description string, generatorID *string, labels []string, annotations map[string]string) (*model.Stack, error) {
	id := newID("stk")
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO stacks (id, name, description, generator_id, labels, annotations)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb)`,
		id, name, description, generatorID, marshalStrings(labels), marshalStringMap(annotations))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apierr.New(apierr.Conflict, "a live stack with this name already exists")
		}
		return nil, apierr.Wrap(apierr.Transient, "insert stack", err)
	}

	return &model.Stack{ID: id, Name: name, Description: description, GeneratorID: generatorID, Labels: labels, Annotations: annotations}, nil
}

// GetStack fetches a live stack by id.
func (s *Store) GetStack(ctx context.Context, id string) (*model.Stack, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, name, description, generator_id, labels, annotations, created_at, updated_at, deleted_at
		FROM stacks WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanStack(row)
}

// UpdateStackMetadata mutates labels/annotations/description only — stacks
// have no other mutable fields (spec §4.2).
func (s *Store) UpdateStackMetadata(ctx context.Context, id, description string, labels []string, annotations map[string]string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE stacks SET description = $1, labels = $2::jsonb, annotations = $3::jsonb, updated_at = now()
		WHERE id = $4 AND deleted_at IS NULL`,
		description, marshalStrings(labels), marshalStringMap(annotations), id)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "update stack metadata", err)
	}
	if tag.RowsAffected() == 0 {
		return apierr.New(apierr.NotFound, "stack not found")
	}
	return nil
}

// DeleteStackCascade soft-deletes a stack, soft-deletes its live deployment
// objects, and appends a final deletion-marker deployment object — all in
// one transaction (spec §4.2 "Stack deletion cascade").
func (s *Store) DeleteStackCascade(ctx context.Context, stackID string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "begin cascade tx", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE stacks SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, stackID)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "soft-delete stack", err)
	}
	if tag.RowsAffected() == 0 {
		return apierr.New(apierr.NotFound, "stack not found")
	}

	if _, err := tx.Exec(ctx, `UPDATE deployment_objects SET deleted_at = now() WHERE stack_id = $1 AND deleted_at IS NULL`, stackID); err != nil {
		return apierr.Wrap(apierr.Transient, "soft-delete deployment objects", err)
	}

	nextSeq, err := nextSequenceIDLocked(ctx, tx, stackID)
	if err != nil {
		return err
	}

	checksum := sha256.Sum256([]byte("__deletion_marker__" + stackID))
	markerID := newID("do")
	if _, err := tx.Exec(ctx, `
		INSERT INTO deployment_objects (id, stack_id, sequence_id, yaml, checksum, is_deletion_marker)
		VALUES ($1, $2, $3, '', $4, true)`,
		markerID, stackID, nextSeq, hex.EncodeToString(checksum[:])); err != nil {
		return apierr.Wrap(apierr.Transient, "insert deletion marker", err)
	}

	return tx.Commit(ctx)
}

// nextSequenceIDLocked serializes sequence_id assignment per stack using a
// transaction-scoped advisory lock keyed on the stack id, as spec §4.2
// requires ("advisory lock or SELECT … FOR UPDATE").
func nextSequenceIDLocked(ctx context.Context, tx pgx.Tx, stackID string) (int64, error) {
	lockKey := hashLockKey(stackID)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return 0, apierr.Wrap(apierr.Transient, "acquire sequence lock", err)
	}

	var max int64
	err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence_id), 0) FROM deployment_objects WHERE stack_id = $1`, stackID).Scan(&max)
	if err != nil {
		return 0, apierr.Wrap(apierr.Transient, "read max sequence_id", err)
	}
	return max + 1, nil
}

// hashLockKey folds a stack id into an int64 advisory-lock key.
func hashLockKey(id string) int64 {
	sum := sha256.Sum256([]byte(id))
	var v int64
	for i := 0; i < 8; i++ {
		v = v<<8 | int64(sum[i])
	}
	if v < 0 {
		v = -v
	}
	return v
}

// CreateDeploymentObject appends a new immutable DeploymentObject to a
// stack under a transaction that serializes sequence_id assignment (spec
// §4.2). There is no update path: immutability is structural.
func (s *Store) CreateDeploymentObject(ctx context.Context, stackID, yaml string, templateID *string, templateVersion *int, parameters map[string]any) (*model.DeploymentObject, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "begin deployment object tx", err)
	}
	defer tx.Rollback(ctx)

	seq, err := nextSequenceIDLocked(ctx, tx, stackID)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(yaml))
	checksum := hex.EncodeToString(sum[:])
	id := newID("do")

	if _, err := tx.Exec(ctx, `
		INSERT INTO deployment_objects (id, stack_id, sequence_id, yaml, checksum, template_id, template_version, parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)`,
		id, stackID, seq, yaml, checksum, templateID, templateVersion, marshalParameters(parameters)); err != nil {
		return nil, apierr.Wrap(apierr.Transient, "insert deployment object", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apierr.Wrap(apierr.Transient, "commit deployment object tx", err)
	}

	return &model.DeploymentObject{
		ID: id, StackID: stackID, SequenceID: seq, YAML: yaml, Checksum: checksum,
		TemplateID: templateID, TemplateVersion: templateVersion, Parameters: parameters, CreatedAt: time.Now().UTC(),
	}, nil
}

func scanStack(row pgx.Row) (*model.Stack, error) {
	var st model.Stack
	var labels, annotations []byte
	err := row.Scan(&st.ID, &st.Name, &st.Description, &st.GeneratorID, &labels, &annotations, &st.CreatedAt, &st.UpdatedAt, &st.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.New(apierr.NotFound, "stack not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "scan stack", err)
	}
	st.Labels = unmarshalStrings(labels)
	st.Annotations = unmarshalStringMap(annotations)
	return &st, nil
}
