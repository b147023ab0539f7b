package artifact

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository used in tests.
type MemoryRepository struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
	identity  map[string]string // parent_id|kind -> artifact id
	records   map[string]*UploadRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		artifacts: make(map[string]*Artifact),
		identity:  make(map[string]string),
		records:   make(map[string]*UploadRecord),
	}
}

func identityKey(parentID string, kind Kind) string {
	return parentID + "|" + string(kind)
}

func pairKey(artifactID, backend string) string {
	return artifactID + "|" + backend
}

func (r *MemoryRepository) UpsertArtifact(a *Artifact) (*Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().Unix()
	if id, ok := r.identity[identityKey(a.ParentID, a.Kind)]; ok {
		existing := r.artifacts[id]
		existing.Filename = a.Filename
		existing.LocalPath = a.LocalPath
		existing.SizeBytes = a.SizeBytes
		existing.Title = a.Title
		existing.Platform = a.Platform
		existing.SourceURL = a.SourceURL
		existing.DurationSeconds = a.DurationSeconds
		existing.Width = a.Width
		existing.Height = a.Height
		existing.ViewCount = a.ViewCount
		existing.LikeCount = a.LikeCount
		existing.CommentCount = a.CommentCount
		existing.UpdatedAt = now
		cp := *existing
		return &cp, nil
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := *a
	r.artifacts[a.ID] = &cp
	r.identity[identityKey(a.ParentID, a.Kind)] = a.ID
	return a, nil
}

func (r *MemoryRepository) GetArtifact(id string) (*Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.artifacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) GetByIdentity(parentID string, kind Kind) (*Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.identity[identityKey(parentID, kind)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.artifacts[id]
	return &cp, nil
}

func (r *MemoryRepository) ListArtifacts() ([]*Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	artifacts := make([]*Artifact, 0, len(r.artifacts))
	for _, a := range r.artifacts {
		cp := *a
		artifacts = append(artifacts, &cp)
	}
	return artifacts, nil
}

func (r *MemoryRepository) UpdateFingerprint(id, fingerprint string, size, mtime int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.artifacts[id]
	if !ok {
		return &PersistenceError{Op: "update", Entity: "artifact", ID: id, Err: ErrNotFound}
	}
	a.Fingerprint = fingerprint
	a.FingerprintSize = size
	a.FingerprintMTime = mtime
	a.UpdatedAt = time.Now().Unix()
	return nil
}

func (r *MemoryRepository) GetUploadRecord(artifactID, backend string) (*UploadRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[pairKey(artifactID, backend)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *MemoryRepository) SetUploadRecord(rec *UploadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().Unix()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	cp := *rec
	r.records[pairKey(rec.ArtifactID, rec.Backend)] = &cp
	return nil
}

func (r *MemoryRepository) ListRecords(artifactID string) ([]*UploadRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*UploadRecord
	for _, rec := range r.records {
		if rec.ArtifactID == artifactID {
			cp := *rec
			records = append(records, &cp)
		}
	}
	return records, nil
}

func (r *MemoryRepository) ListPending(backend string, maxAttempts int) ([]*Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pending []*Artifact
	for _, a := range r.artifacts {
		rec, ok := r.records[pairKey(a.ID, backend)]
		if !ok || rec.Status == StatusNotStarted ||
			(rec.Status == StatusFailed && rec.Retryable && rec.AttemptCount < maxAttempts) {
			cp := *a
			pending = append(pending, &cp)
		}
	}
	return pending, nil
}

func (r *MemoryRepository) ListRecordsByStatus(status Status) ([]*UploadRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*UploadRecord
	for _, rec := range r.records {
		if rec.Status == status {
			cp := *rec
			records = append(records, &cp)
		}
	}
	return records, nil
}
