package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

func TestArtifactService_Register_ShouldCreateArtifact(t *testing.T) {
	// given
	repo := NewMemoryRepository()
	service := NewService(repo)
	path := writeTempFile(t, "clip.mp4", "video-bytes")

	// when
	a, err := service.Register(&RegisterRequest{
		ParentID:  "video-1",
		Kind:      KindVideo,
		LocalPath: path,
		Title:     "Test Clip",
		Platform:  "youtube",
	})

	// then
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if a.ID == "" {
		t.Error("Expected a generated artifact ID")
	}
	if a.Filename != "clip.mp4" {
		t.Errorf("Expected filename 'clip.mp4', got '%s'", a.Filename)
	}
	if a.SizeBytes != int64(len("video-bytes")) {
		t.Errorf("Expected size %d, got %d", len("video-bytes"), a.SizeBytes)
	}
}

func TestArtifactService_Register_ShouldReuseIdentityOnReRegister(t *testing.T) {
	// given
	repo := NewMemoryRepository()
	service := NewService(repo)
	path := writeTempFile(t, "clip.mp4", "video-bytes")

	first, err := service.Register(&RegisterRequest{
		ParentID: "video-1", Kind: KindVideo, LocalPath: path, Title: "First",
	})
	if err != nil {
		t.Fatalf("Failed to register artifact: %v", err)
	}

	// when
	second, err := service.Register(&RegisterRequest{
		ParentID: "video-1", Kind: KindVideo, LocalPath: path, Title: "Updated",
	})

	// then
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Expected same artifact ID '%s', got '%s'", first.ID, second.ID)
	}
	if second.Title != "Updated" {
		t.Errorf("Expected refreshed title 'Updated', got '%s'", second.Title)
	}

	all, _ := repo.ListArtifacts()
	if len(all) != 1 {
		t.Errorf("Expected 1 artifact, got %d", len(all))
	}
}

func TestArtifactService_Register_ShouldKeepVideoAndThumbnailDistinct(t *testing.T) {
	// given
	repo := NewMemoryRepository()
	service := NewService(repo)
	videoPath := writeTempFile(t, "clip.mp4", "video-bytes")
	thumbPath := writeTempFile(t, "clip.jpg", "thumb-bytes")

	// when
	video, err1 := service.Register(&RegisterRequest{ParentID: "video-1", Kind: KindVideo, LocalPath: videoPath})
	thumb, err2 := service.Register(&RegisterRequest{ParentID: "video-1", Kind: KindThumbnail, LocalPath: thumbPath})

	// then
	if err1 != nil || err2 != nil {
		t.Fatalf("Expected no errors, got: %v, %v", err1, err2)
	}
	if video.ID == thumb.ID {
		t.Error("Expected distinct artifacts for video and thumbnail of the same parent")
	}
}

func TestArtifactService_Register_ShouldRejectUnknownKind(t *testing.T) {
	// given
	service := NewService(NewMemoryRepository())
	path := writeTempFile(t, "clip.mp4", "video-bytes")

	// when
	_, err := service.Register(&RegisterRequest{ParentID: "video-1", Kind: "subtitle", LocalPath: path})

	// then
	if err == nil {
		t.Fatal("Expected an error for an unknown kind")
	}
}

func TestArtifactService_Register_ShouldFailWhenFileIsMissing(t *testing.T) {
	// given
	service := NewService(NewMemoryRepository())

	// when
	_, err := service.Register(&RegisterRequest{
		ParentID:  "video-1",
		Kind:      KindVideo,
		LocalPath: filepath.Join(t.TempDir(), "missing.mp4"),
	})

	// then
	if err == nil {
		t.Fatal("Expected an error for a missing local file")
	}
}

func TestArtifactService_Status_ShouldAggregateRecordsPerBackend(t *testing.T) {
	// given
	repo := NewMemoryRepository()
	service := NewService(repo)
	path := writeTempFile(t, "clip.mp4", "video-bytes")

	a, err := service.Register(&RegisterRequest{ParentID: "video-1", Kind: KindVideo, LocalPath: path})
	if err != nil {
		t.Fatalf("Failed to register artifact: %v", err)
	}
	repo.SetUploadRecord(&UploadRecord{ArtifactID: a.ID, Backend: "primary-drive", Status: StatusSucceeded, RemoteID: "abc"})
	repo.SetUploadRecord(&UploadRecord{ArtifactID: a.ID, Backend: "secondary-drive", Status: StatusFailed, Retryable: true})

	// when
	status, err := service.Status(a.ID)

	// then
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(status.Backends) != 2 {
		t.Fatalf("Expected 2 backend records, got %d", len(status.Backends))
	}
	if status.Backends["primary-drive"].Status != StatusSucceeded {
		t.Errorf("Expected primary record succeeded, got %s", status.Backends["primary-drive"].Status)
	}
	if status.Backends["secondary-drive"].Status != StatusFailed {
		t.Errorf("Expected secondary record failed, got %s", status.Backends["secondary-drive"].Status)
	}
}

func TestFingerprint_ShouldMatchFileContent(t *testing.T) {
	// given
	repo := NewMemoryRepository()
	service := NewService(repo)
	path := writeTempFile(t, "clip.mp4", "video-bytes")
	a, _ := service.Register(&RegisterRequest{ParentID: "video-1", Kind: KindVideo, LocalPath: path})

	sum := sha256.Sum256([]byte("video-bytes"))
	expected := hex.EncodeToString(sum[:])

	// when
	fingerprint, err := service.Fingerprint(a)

	// then
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if fingerprint != expected {
		t.Errorf("Expected fingerprint %s, got %s", expected, fingerprint)
	}

	stored, _ := repo.GetArtifact(a.ID)
	if stored.Fingerprint != expected {
		t.Error("Expected the fingerprint to be persisted")
	}
}

func TestFingerprint_ShouldUseCacheWhileSizeAndMTimeMatch(t *testing.T) {
	// given
	repo := NewMemoryRepository()
	service := NewService(repo)
	path := writeTempFile(t, "clip.mp4", "video-bytes")
	a, _ := service.Register(&RegisterRequest{ParentID: "video-1", Kind: KindVideo, LocalPath: path})

	first, err := service.Fingerprint(a)
	if err != nil {
		t.Fatalf("Failed to fingerprint: %v", err)
	}
	info, _ := os.Stat(path)
	originalMTime := info.ModTime()

	// Same length, different content, mtime forced back to the cached value.
	if err := os.WriteFile(path, []byte("other-bytes"), 0o644); err != nil {
		t.Fatalf("Failed to rewrite file: %v", err)
	}
	if err := os.Chtimes(path, originalMTime, originalMTime); err != nil {
		t.Fatalf("Failed to reset mtime: %v", err)
	}

	// when
	cached, err := service.Fingerprint(a)

	// then
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cached != first {
		t.Error("Expected the cached fingerprint while size and mtime are unchanged")
	}
}

func TestFingerprint_ShouldRecomputeWhenMTimeChanges(t *testing.T) {
	// given
	repo := NewMemoryRepository()
	service := NewService(repo)
	path := writeTempFile(t, "clip.mp4", "video-bytes")
	a, _ := service.Register(&RegisterRequest{ParentID: "video-1", Kind: KindVideo, LocalPath: path})

	first, err := service.Fingerprint(a)
	if err != nil {
		t.Fatalf("Failed to fingerprint: %v", err)
	}

	if err := os.WriteFile(path, []byte("other-bytes"), 0o644); err != nil {
		t.Fatalf("Failed to rewrite file: %v", err)
	}
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Failed to bump mtime: %v", err)
	}

	// when
	second, err := service.Fingerprint(a)

	// then
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if second == first {
		t.Error("Expected a recomputed fingerprint after the file changed")
	}
}

func TestFingerprint_ShouldFailWhenFileIsMissing(t *testing.T) {
	// given
	repo := NewMemoryRepository()
	service := NewService(repo)
	path := writeTempFile(t, "clip.mp4", "video-bytes")
	a, _ := service.Register(&RegisterRequest{ParentID: "video-1", Kind: KindVideo, LocalPath: path})

	if err := os.Remove(path); err != nil {
		t.Fatalf("Failed to remove file: %v", err)
	}

	// when
	_, err := service.Fingerprint(a)

	// then
	if err == nil {
		t.Fatal("Expected an error for a missing file")
	}
}

func TestMemoryRepository_ListPending_ShouldHonorRetryBudget(t *testing.T) {
	// given
	repo := NewMemoryRepository()
	fresh, _ := repo.UpsertArtifact(&Artifact{ParentID: "v1", Kind: KindVideo, Filename: "a.mp4"})
	retryable, _ := repo.UpsertArtifact(&Artifact{ParentID: "v2", Kind: KindVideo, Filename: "b.mp4"})
	exhausted, _ := repo.UpsertArtifact(&Artifact{ParentID: "v3", Kind: KindVideo, Filename: "c.mp4"})
	terminal, _ := repo.UpsertArtifact(&Artifact{ParentID: "v4", Kind: KindVideo, Filename: "d.mp4"})
	done, _ := repo.UpsertArtifact(&Artifact{ParentID: "v5", Kind: KindVideo, Filename: "e.mp4"})

	repo.SetUploadRecord(&UploadRecord{ArtifactID: retryable.ID, Backend: "primary-drive", Status: StatusFailed, Retryable: true, AttemptCount: 1})
	repo.SetUploadRecord(&UploadRecord{ArtifactID: exhausted.ID, Backend: "primary-drive", Status: StatusFailed, Retryable: true, AttemptCount: 3})
	repo.SetUploadRecord(&UploadRecord{ArtifactID: terminal.ID, Backend: "primary-drive", Status: StatusFailed, Retryable: false, AttemptCount: 1})
	repo.SetUploadRecord(&UploadRecord{ArtifactID: done.ID, Backend: "primary-drive", Status: StatusSucceeded, AttemptCount: 1})

	// when
	pending, err := repo.ListPending("primary-drive", 3)

	// then
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	ids := make(map[string]bool, len(pending))
	for _, a := range pending {
		ids[a.ID] = true
	}
	if len(pending) != 2 || !ids[fresh.ID] || !ids[retryable.ID] {
		t.Errorf("Expected pending set {fresh, retryable}, got %v", ids)
	}
}
