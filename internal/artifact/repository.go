package artifact

// Repository is the persistence contract for artifacts and their per-backend
// upload records.
type Repository interface {
	// UpsertArtifact creates the artifact or, when one already exists for the
	// same (parent, kind) identity key, refreshes its metadata and returns it.
	UpsertArtifact(a *Artifact) (*Artifact, error)
	GetArtifact(id string) (*Artifact, error)
	GetByIdentity(parentID string, kind Kind) (*Artifact, error)
	ListArtifacts() ([]*Artifact, error)
	UpdateFingerprint(id, fingerprint string, size, mtime int64) error

	GetUploadRecord(artifactID, backend string) (*UploadRecord, error)
	// SetUploadRecord atomically replaces the record for its (artifact,
	// backend) pair. Callers read-modify-write under the coordinator's
	// per-pair lock.
	SetUploadRecord(rec *UploadRecord) error
	ListRecords(artifactID string) ([]*UploadRecord, error)
	// ListPending returns artifacts whose record for the backend is absent,
	// not started, or failed-and-retryable below the attempt cap.
	ListPending(backend string, maxAttempts int) ([]*Artifact, error)
	ListRecordsByStatus(status Status) ([]*UploadRecord, error)
}
