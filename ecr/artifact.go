package ecr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

// defaultArtifactType marks manifests produced by PushArtifact.
const defaultArtifactType = "application/vnd.golcloud.artifact.v1"

// Artifact is a generic OCI artifact payload.
type Artifact struct {
	MediaType string
	Data      []byte
}

// PushArtifact pushes arbitrary content to the registry as an OCI
// artifact under repository:tag. The repository is created if missing.
func (c *Client) PushArtifact(ctx context.Context, repository, tag string, artifact *Artifact) (string, error) {
	if artifact == nil || len(artifact.Data) == 0 {
		return "", fmt.Errorf("%w: artifact data cannot be empty", ErrInvalidInput)
	}
	if artifact.MediaType == "" {
		return "", fmt.Errorf("%w: artifact media type cannot be empty", ErrInvalidInput)
	}

	if err := c.EnsureRepository(ctx, repository); err != nil {
		return "", err
	}

	reference, err := c.ImageURI(ctx, repository, tag)
	if err != nil {
		return "", err
	}

	repo, refPart, err := c.artifactRepository(ctx, reference)
	if err != nil {
		return "", err
	}

	blobDesc, err := oras.PushBytes(ctx, repo, artifact.MediaType, artifact.Data)
	if err != nil {
		return "", fmt.Errorf("ecr: push artifact blob: %w", err)
	}

	packOpts := oras.PackManifestOptions{Layers: []ocispec.Descriptor{blobDesc}}
	manDesc, err := oras.PackManifest(ctx, repo, oras.PackManifestVersion1_1, defaultArtifactType, packOpts)
	if err != nil {
		return "", fmt.Errorf("ecr: pack artifact manifest: %w", err)
	}

	if _, err := oras.Tag(ctx, repo, manDesc.Digest.String(), refPart); err != nil {
		return "", fmt.Errorf("ecr: tag artifact manifest: %w", err)
	}

	c.logInfo(ctx, "artifact pushed", "reference", reference, "digest", manDesc.Digest.String())
	return reference, nil
}

// PullArtifact fetches an artifact pushed with PushArtifact and verifies
// the content digest of the returned layer.
func (c *Client) PullArtifact(ctx context.Context, repository, tag string) (*Artifact, error) {
	reference, err := c.ImageURI(ctx, repository, tag)
	if err != nil {
		return nil, err
	}

	repo, refPart, err := c.artifactRepository(ctx, reference)
	if err != nil {
		return nil, err
	}

	desc, reader, err := oras.Fetch(ctx, repo, refPart, oras.DefaultFetchOptions)
	if err != nil {
		return nil, fmt.Errorf("ecr: fetch artifact %s: %w", reference, err)
	}
	defer reader.Close()

	// Non-manifest content is the artifact itself.
	if desc.MediaType != ocispec.MediaTypeImageManifest {
		return readVerified(reader, desc)
	}

	manifestBytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("ecr: read artifact manifest: %w", err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("ecr: decode artifact manifest: %w", err)
	}
	if len(manifest.Layers) == 0 {
		return nil, fmt.Errorf("ecr: artifact manifest %s has no layers", reference)
	}

	layerDesc := manifest.Layers[0]
	layerReader, err := repo.Blobs().Fetch(ctx, layerDesc)
	if err != nil {
		return nil, fmt.Errorf("ecr: fetch artifact layer: %w", err)
	}
	defer layerReader.Close()

	return readVerified(layerReader, layerDesc)
}

// artifactRepository builds an authenticated ORAS repository for the
// reference and returns the tag part.
func (c *Client) artifactRepository(ctx context.Context, reference string) (*remote.Repository, string, error) {
	repoPath, refPart := splitReference(reference)
	if repoPath == "" || refPart == "" {
		return nil, "", fmt.Errorf("%w: reference %q must include a tag", ErrInvalidInput, reference)
	}

	repo, err := remote.NewRepository(repoPath)
	if err != nil {
		return nil, "", fmt.Errorf("ecr: create repository for %s: %w", reference, err)
	}

	username, password, err := c.AuthToken(ctx)
	if err != nil {
		return nil, "", err
	}

	repo.Client = &auth.Client{
		Cache: auth.NewCache(),
		Credential: auth.StaticCredential(repo.Reference.Registry, auth.Credential{
			Username: username,
			Password: password,
		}),
	}
	return repo, refPart, nil
}

// readVerified reads the content and checks it against the descriptor's
// digest and size.
func readVerified(reader io.Reader, desc ocispec.Descriptor) (*Artifact, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("ecr: read artifact content: %w", err)
	}
	if desc.Size > 0 && int64(len(data)) != desc.Size {
		return nil, fmt.Errorf("ecr: artifact size mismatch: got %d, want %d", len(data), desc.Size)
	}
	if desc.Digest != "" {
		if got := digest.FromBytes(data); got != desc.Digest {
			return nil, fmt.Errorf("ecr: artifact digest mismatch: got %s, want %s", got, desc.Digest)
		}
	}
	return &Artifact{MediaType: desc.MediaType, Data: data}, nil
}

// splitReference splits a reference into its repository path and tag or
// digest part. The tag separator is searched only after the last slash so
// registry ports are not mistaken for tags.
func splitReference(full string) (repoPath, refPart string) {
	lastSlash := strings.LastIndex(full, "/")
	if lastSlash == -1 {
		return full, ""
	}
	head, tail := full[:lastSlash], full[lastSlash+1:]

	if at := strings.LastIndex(tail, "@"); at != -1 {
		return head + "/" + tail[:at], tail[at+1:]
	}
	if colon := strings.LastIndex(tail, ":"); colon != -1 {
		return head + "/" + tail[:colon], tail[colon+1:]
	}
	return full, ""
}
