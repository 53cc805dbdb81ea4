package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
)

func jsonMarshal(a Artifact) ([]byte, error)    { return json.Marshal(a) }
func jsonUnmarshal(b []byte, a *Artifact) error { return json.Unmarshal(b, a) }

// repoTag extracts the ":tag" suffix of a reference, defaulting to
// "latest" when the reference carries none.
func repoTag(ref string) string {
	idx := strings.LastIndex(ref, ":")
	slash := strings.LastIndex(ref, "/")
	if idx <= slash {
		return "latest"
	}
	return ref[idx+1:]
}

func trimOCIScheme(ref string) string {
	return strings.TrimPrefix(ref, "oci://")
}

func fetchManifest(ctx context.Context, fetcher content.Fetcher, desc v1.Descriptor) (*v1.Manifest, error) {
	raw, err := content.FetchAll(ctx, fetcher, desc)
	if err != nil {
		return nil, fmt.Errorf("templates: fetch manifest: %w", err)
	}
	var manifest v1.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("templates: decode manifest: %w", err)
	}
	return &manifest, nil
}

func fetchBlob(ctx context.Context, fetcher content.Fetcher, desc v1.Descriptor) ([]byte, error) {
	raw, err := content.FetchAll(ctx, fetcher, desc)
	if err != nil {
		return nil, fmt.Errorf("templates: fetch blob: %w", err)
	}
	return raw, nil
}
