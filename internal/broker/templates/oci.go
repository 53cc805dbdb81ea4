// Package templates layers OCI artifact distribution onto
// internal/broker/store/postgres's StackTemplate rows: a generator can
// publish a template body + parameter schema as an OCI artifact via ORAS,
// and the broker can pull one back by reference when a generator
// instantiates a stack from an "oci://" reference instead of an inline
// body (spec DOMAIN STACK expansion of §4.2's template instantiation).
package templates

import (
	"context"
	"fmt"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/memory"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

// TemplateMediaType tags the single-blob artifact this package publishes:
// a template's body and parameter schema, bundled as one JSON blob.
const TemplateMediaType = "application/vnd.brokkr.template.v1+json"

// Artifact is the blob content pushed to and pulled from a registry.
type Artifact struct {
	Name          string `json:"name"`
	Version       int    `json:"version"`
	Body          string `json:"body"`
	ParameterJSON string `json:"parameter_json"`
	Checksum      string `json:"checksum"`
}

// Credentials authenticates against a registry. Empty Username means
// anonymous pull/push (e.g. against a local registry with no auth).
type Credentials struct {
	Username string
	Password string
}

// Publisher pushes and pulls StackTemplate artifacts against an OCI
// registry using ORAS, keeping the registry client construction in one
// place so callers only need a reference string.
type Publisher struct {
	creds Credentials
}

// NewPublisher builds a Publisher. Pass a zero Credentials for anonymous
// access.
func NewPublisher(creds Credentials) *Publisher {
	return &Publisher{creds: creds}
}

// Push packs artifact as a single-layer OCI artifact and pushes it to
// ref (e.g. "registry.example.com/brokkr/templates/my-template:v3"),
// returning the resolved oci:// reference to persist via
// postgres.Store.SetStackTemplateOCIRef.
func (p *Publisher) Push(ctx context.Context, ref string, artifact Artifact) (string, error) {
	repo, err := p.repository(ref)
	if err != nil {
		return "", err
	}

	body, err := jsonMarshal(artifact)
	if err != nil {
		return "", fmt.Errorf("templates: marshal artifact: %w", err)
	}

	src := memory.New()
	desc, err := oras.PushBytes(ctx, src, TemplateMediaType, body)
	if err != nil {
		return "", fmt.Errorf("templates: stage artifact blob: %w", err)
	}

	manifestDesc, err := oras.PackManifest(ctx, src, oras.PackManifestVersion1_1, TemplateMediaType, oras.PackManifestOptions{
		Layers: []v1.Descriptor{desc},
	})
	if err != nil {
		return "", fmt.Errorf("templates: pack manifest: %w", err)
	}

	tag := repoTag(ref)
	if tag != "" {
		if err := src.Tag(ctx, manifestDesc, tag); err != nil {
			return "", fmt.Errorf("templates: tag manifest: %w", err)
		}
	}

	if _, err := oras.Copy(ctx, src, tag, repo, tag, oras.DefaultCopyOptions); err != nil {
		return "", fmt.Errorf("templates: push to registry: %w", err)
	}

	return "oci://" + ref, nil
}

// Pull resolves ociRef (an "oci://registry/repo:tag" reference) and
// returns the decoded Artifact.
func (p *Publisher) Pull(ctx context.Context, ociRef string) (*Artifact, error) {
	ref := trimOCIScheme(ociRef)

	repo, err := p.repository(ref)
	if err != nil {
		return nil, err
	}

	dst := memory.New()
	tag := repoTag(ref)
	manifestDesc, err := oras.Copy(ctx, repo, tag, dst, tag, oras.DefaultCopyOptions)
	if err != nil {
		return nil, fmt.Errorf("templates: pull from registry: %w", err)
	}

	manifest, err := fetchManifest(ctx, dst, manifestDesc)
	if err != nil {
		return nil, err
	}
	if len(manifest.Layers) != 1 {
		return nil, fmt.Errorf("templates: expected exactly one layer, got %d", len(manifest.Layers))
	}

	blob, err := fetchBlob(ctx, dst, manifest.Layers[0])
	if err != nil {
		return nil, err
	}

	var artifact Artifact
	if err := jsonUnmarshal(blob, &artifact); err != nil {
		return nil, fmt.Errorf("templates: decode artifact: %w", err)
	}
	return &artifact, nil
}

func (p *Publisher) repository(ref string) (*remote.Repository, error) {
	repo, err := remote.NewRepository(ref)
	if err != nil {
		return nil, fmt.Errorf("templates: resolve repository %q: %w", ref, err)
	}
	if p.creds.Username != "" {
		repo.Client = &auth.Client{
			Credential: auth.StaticCredential(repo.Reference.Registry, auth.Credential{
				Username: p.creds.Username,
				Password: p.creds.Password,
			}),
		}
	}
	return repo, nil
}
