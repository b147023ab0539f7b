package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiwaverider/mediasync_server/internal/artifact"
	"github.com/aiwaverider/mediasync_server/internal/backend"
)

// fakeBackend serves canned listings.
type fakeBackend struct {
	name    string
	remotes []backend.RemoteFile
	listErr error
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Upload(ctx context.Context, req *backend.UploadRequest) (*backend.UploadOutcome, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) List(ctx context.Context, filename, kind string) ([]backend.RemoteFile, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var matches []backend.RemoteFile
	for _, r := range f.remotes {
		if r.Name == filename {
			matches = append(matches, r)
		}
	}
	return matches, nil
}

func registerArtifact(t *testing.T, content string) (*Resolver, *artifact.Artifact) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	service := artifact.NewService(artifact.NewMemoryRepository())
	a, err := service.Register(&artifact.RegisterRequest{
		ParentID: "video-1", Kind: artifact.KindVideo, LocalPath: path,
	})
	require.NoError(t, err)
	return NewResolver(service), a
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestResolve_ShouldReportUniqueWhenNothingMatches(t *testing.T) {
	r, a := registerArtifact(t, "video-bytes")
	b := &fakeBackend{name: "primary-drive"}

	res, err := r.Resolve(context.Background(), b, a)

	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestResolve_ShouldMatchOnContentHash(t *testing.T) {
	r, a := registerArtifact(t, "video-bytes")
	b := &fakeBackend{name: "primary-drive", remotes: []backend.RemoteFile{
		{ID: "remote-1", Name: "clip.mp4", Size: 999, ContentHash: contentHash("video-bytes")},
	}}

	res, err := r.Resolve(context.Background(), b, a)

	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.False(t, res.Provisional)
	assert.Equal(t, "remote-1", res.Remote.ID)
}

func TestResolve_ShouldNotMatchNameWithDifferentHash(t *testing.T) {
	r, a := registerArtifact(t, "video-bytes")
	b := &fakeBackend{name: "primary-drive", remotes: []backend.RemoteFile{
		{ID: "remote-1", Name: "clip.mp4", Size: a.SizeBytes, ContentHash: contentHash("different-bytes")},
	}}

	res, err := r.Resolve(context.Background(), b, a)

	require.NoError(t, err)
	assert.False(t, res.Duplicate, "a name match with a conflicting hash is a different file")
}

func TestResolve_ShouldFallBackToSizeWhenRemoteHashAbsent(t *testing.T) {
	r, a := registerArtifact(t, "video-bytes")
	b := &fakeBackend{name: "primary-drive", remotes: []backend.RemoteFile{
		{ID: "remote-1", Name: "clip.mp4", Size: a.SizeBytes},
	}}

	res, err := r.Resolve(context.Background(), b, a)

	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.True(t, res.Provisional)
}

func TestResolve_ShouldNotMatchOnSizeMismatch(t *testing.T) {
	r, a := registerArtifact(t, "video-bytes")
	b := &fakeBackend{name: "primary-drive", remotes: []backend.RemoteFile{
		{ID: "remote-1", Name: "clip.mp4", Size: a.SizeBytes + 1},
	}}

	res, err := r.Resolve(context.Background(), b, a)

	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestResolve_ShouldPreferHashMatchOverSizeMatch(t *testing.T) {
	r, a := registerArtifact(t, "video-bytes")
	b := &fakeBackend{name: "primary-drive", remotes: []backend.RemoteFile{
		{ID: "size-only", Name: "clip.mp4", Size: a.SizeBytes},
		{ID: "hashed", Name: "clip.mp4", Size: 123, ContentHash: contentHash("video-bytes")},
	}}

	res, err := r.Resolve(context.Background(), b, a)

	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "hashed", res.Remote.ID)
	assert.False(t, res.Provisional)
}

func TestResolve_ShouldFailClosedOnListingError(t *testing.T) {
	r, a := registerArtifact(t, "video-bytes")
	b := &fakeBackend{name: "primary-drive", listErr: errors.New("network down")}

	_, err := r.Resolve(context.Background(), b, a)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInconclusiveListing))
}
