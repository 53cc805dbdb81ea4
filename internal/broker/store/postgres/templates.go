package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/brokkr-io/brokkr/internal/apierr"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
	"github.com/jackc/pgx/v5"
)

// CreateStackTemplate inserts a new version of a named, generator-owned
// template. Versions are immutable once created; callers bump version
// themselves (spec §3 "versioned parameterized YAML").
func (s *Store) CreateStackTemplate(ctx context.Context, generatorID, name string, version int, body, parameterJSON string) (*model.StackTemplate, error) {
	sum := sha256.Sum256([]byte(body))
	checksum := hex.EncodeToString(sum[:])
	id := newID("tmpl")

	_, err := s.Pool.Exec(ctx, `
		INSERT INTO stack_templates (id, generator_id, name, version, body, parameter_json, checksum)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, generatorID, name, version, body, parameterJSON, checksum)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apierr.New(apierr.Conflict, "this template name/version already exists")
		}
		return nil, apierr.Wrap(apierr.Transient, "insert stack template", err)
	}

	return &model.StackTemplate{
		ID: id, GeneratorID: generatorID, Name: name, Version: version,
		Body: body, ParameterJSON: parameterJSON, Checksum: checksum,
	}, nil
}

// GetStackTemplate fetches a specific template version.
func (s *Store) GetStackTemplate(ctx context.Context, generatorID, name string, version int) (*model.StackTemplate, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, generator_id, name, version, body, parameter_json, checksum, oci_ref, created_at, deleted_at
		FROM stack_templates
		WHERE generator_id = $1 AND name = $2 AND version = $3 AND deleted_at IS NULL`,
		generatorID, name, version)
	return scanStackTemplate(row)
}

// GetStackTemplateByID fetches a template by id, used when a
// DeploymentObject references its originating template.
func (s *Store) GetStackTemplateByID(ctx context.Context, id string) (*model.StackTemplate, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, generator_id, name, version, body, parameter_json, checksum, oci_ref, created_at, deleted_at
		FROM stack_templates WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanStackTemplate(row)
}

// SetStackTemplateOCIRef records the oci:// reference a template was
// published to (spec DOMAIN STACK: oras-go publish/pull surface).
func (s *Store) SetStackTemplateOCIRef(ctx context.Context, id, ociRef string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE stack_templates SET oci_ref = $1 WHERE id = $2 AND deleted_at IS NULL`, ociRef, id)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "set oci ref", err)
	}
	if tag.RowsAffected() == 0 {
		return apierr.New(apierr.NotFound, "template not found")
	}
	return nil
}

// ListStackTemplateVersions returns every live version of a named template,
// newest first.
func (s *Store) ListStackTemplateVersions(ctx context.Context, generatorID, name string) ([]*model.StackTemplate, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, generator_id, name, version, body, parameter_json, checksum, oci_ref, created_at, deleted_at
		FROM stack_templates
		WHERE generator_id = $1 AND name = $2 AND deleted_at IS NULL
		ORDER BY version DESC`, generatorID, name)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "list template versions", err)
	}
	defer rows.Close()

	var out []*model.StackTemplate
	for rows.Next() {
		t, err := scanStackTemplateRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanStackTemplate(row pgx.Row) (*model.StackTemplate, error) {
	var t model.StackTemplate
	err := row.Scan(&t.ID, &t.GeneratorID, &t.Name, &t.Version, &t.Body, &t.ParameterJSON, &t.Checksum, &t.OCIRef, &t.CreatedAt, &t.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.New(apierr.NotFound, "stack template not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "scan stack template", err)
	}
	return &t, nil
}

func scanStackTemplateRows(rows pgx.Rows) (*model.StackTemplate, error) {
	var t model.StackTemplate
	if err := rows.Scan(&t.ID, &t.GeneratorID, &t.Name, &t.Version, &t.Body, &t.ParameterJSON, &t.Checksum, &t.OCIRef, &t.CreatedAt, &t.DeletedAt); err != nil {
		return nil, apierr.Wrap(apierr.Transient, "scan stack template", err)
	}
	return &t, nil
}
