package artifact

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const artifactColumns = `id, parent_id, kind, filename, local_path, size_bytes,
	title, platform, source_url, duration_seconds, width, height,
	view_count, like_count, comment_count,
	fingerprint, fingerprint_size, fingerprint_mtime, created_at, updated_at`

func (r *SQLiteRepository) UpsertArtifact(a *Artifact) (*Artifact, error) {
	existing, err := r.GetByIdentity(a.ParentID, a.Kind)
	if err == nil {
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
		existing.UpdatedAt = time.Now().Unix()

		query := `UPDATE artifacts SET filename = $1, local_path = $2, size_bytes = $3,
			title = $4, platform = $5, source_url = $6, duration_seconds = $7,
			width = $8, height = $9, view_count = $10, like_count = $11,
			comment_count = $12, updated_at = $13 WHERE id = $14`
		if _, err := r.db.Exec(query,
			existing.Filename, existing.LocalPath, existing.SizeBytes,
			existing.Title, existing.Platform, existing.SourceURL, existing.DurationSeconds,
			existing.Width, existing.Height, existing.ViewCount, existing.LikeCount,
			existing.CommentCount, existing.UpdatedAt, existing.ID,
		); err != nil {
			return nil, &PersistenceError{Op: "update", Entity: "artifact", ID: existing.ID, Err: err}
		}
		return existing, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().Unix()
	a.CreatedAt = now
	a.UpdatedAt = now

	query := `INSERT INTO artifacts (` + artifactColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	if _, err := r.db.Exec(query,
		a.ID, a.ParentID, a.Kind, a.Filename, a.LocalPath, a.SizeBytes,
		a.Title, a.Platform, a.SourceURL, a.DurationSeconds, a.Width, a.Height,
		a.ViewCount, a.LikeCount, a.CommentCount,
		a.Fingerprint, a.FingerprintSize, a.FingerprintMTime, a.CreatedAt, a.UpdatedAt,
	); err != nil {
		return nil, &PersistenceError{Op: "create", Entity: "artifact", ID: a.ID, Err: err}
	}
	return a, nil
}

func (r *SQLiteRepository) GetArtifact(id string) (*Artifact, error) {
	row := r.db.QueryRow(`SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`, id)
	return scanArtifact(row)
}

func (r *SQLiteRepository) GetByIdentity(parentID string, kind Kind) (*Artifact, error) {
	row := r.db.QueryRow(`SELECT `+artifactColumns+` FROM artifacts WHERE parent_id = $1 AND kind = $2`, parentID, kind)
	return scanArtifact(row)
}

func (r *SQLiteRepository) ListArtifacts() ([]*Artifact, error) {
	rows, err := r.db.Query(`SELECT ` + artifactColumns + ` FROM artifacts ORDER BY created_at`)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Entity: "artifact", Err: err}
	}
	defer rows.Close()
	return collectArtifacts(rows)
}

func (r *SQLiteRepository) UpdateFingerprint(id, fingerprint string, size, mtime int64) error {
	query := `UPDATE artifacts SET fingerprint = $1, fingerprint_size = $2,
		fingerprint_mtime = $3, updated_at = $4 WHERE id = $5`
	result, err := r.db.Exec(query, fingerprint, size, mtime, time.Now().Unix(), id)
	if err != nil {
		return &PersistenceError{Op: "update", Entity: "artifact", ID: id, Err: err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return &PersistenceError{Op: "update", Entity: "artifact", ID: id, Err: err}
	}
	if n == 0 {
		return &PersistenceError{Op: "update", Entity: "artifact", ID: id, Err: ErrNotFound}
	}
	return nil
}

const recordColumns = `artifact_id, backend, status, remote_id, remote_url,
	attempt_count, uploaded_chunks, session_token, last_error, retryable,
	last_attempt_at, created_at, updated_at`

func (r *SQLiteRepository) GetUploadRecord(artifactID, backend string) (*UploadRecord, error) {
	row := r.db.QueryRow(`SELECT `+recordColumns+` FROM upload_records
		WHERE artifact_id = $1 AND backend = $2`, artifactID, backend)
	return scanRecord(row)
}

func (r *SQLiteRepository) SetUploadRecord(rec *UploadRecord) error {
	now := time.Now().Unix()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `INSERT INTO upload_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (artifact_id, backend) DO UPDATE SET
		status = EXCLUDED.status,
		remote_id = EXCLUDED.remote_id,
		remote_url = EXCLUDED.remote_url,
		attempt_count = EXCLUDED.attempt_count,
		uploaded_chunks = EXCLUDED.uploaded_chunks,
		session_token = EXCLUDED.session_token,
		last_error = EXCLUDED.last_error,
		retryable = EXCLUDED.retryable,
		last_attempt_at = EXCLUDED.last_attempt_at,
		updated_at = EXCLUDED.updated_at`
	if _, err := r.db.Exec(query,
		rec.ArtifactID, rec.Backend, rec.Status, rec.RemoteID, rec.RemoteURL,
		rec.AttemptCount, rec.UploadedChunks, rec.SessionToken, rec.LastError, rec.Retryable,
		rec.LastAttemptAt, rec.CreatedAt, rec.UpdatedAt,
	); err != nil {
		return &PersistenceError{Op: "set", Entity: "upload_record", ID: rec.ArtifactID, Err: err}
	}
	return nil
}

func (r *SQLiteRepository) ListRecords(artifactID string) ([]*UploadRecord, error) {
	rows, err := r.db.Query(`SELECT `+recordColumns+` FROM upload_records
		WHERE artifact_id = $1 ORDER BY backend`, artifactID)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Entity: "upload_record", ID: artifactID, Err: err}
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (r *SQLiteRepository) ListPending(backend string, maxAttempts int) ([]*Artifact, error) {
	query := `SELECT a.id, a.parent_id, a.kind, a.filename, a.local_path, a.size_bytes,
		a.title, a.platform, a.source_url, a.duration_seconds, a.width, a.height,
		a.view_count, a.like_count, a.comment_count,
		a.fingerprint, a.fingerprint_size, a.fingerprint_mtime, a.created_at, a.updated_at
		FROM artifacts a
		LEFT JOIN upload_records r ON r.artifact_id = a.id AND r.backend = $1
		WHERE r.artifact_id IS NULL
		   OR r.status = $2
		   OR (r.status = $3 AND r.retryable = 1 AND r.attempt_count < $4)
		ORDER BY a.created_at`
	rows, err := r.db.Query(query, backend, StatusNotStarted, StatusFailed, maxAttempts)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Entity: "artifact", Err: err}
	}
	defer rows.Close()
	return collectArtifacts(rows)
}

func (r *SQLiteRepository) ListRecordsByStatus(status Status) ([]*UploadRecord, error) {
	rows, err := r.db.Query(`SELECT `+recordColumns+` FROM upload_records
		WHERE status = $1 ORDER BY artifact_id, backend`, status)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Entity: "upload_record", Err: err}
	}
	defer rows.Close()
	return collectRecords(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArtifact(row rowScanner) (*Artifact, error) {
	a := &Artifact{}
	var title, platform, sourceURL, fingerprint sql.NullString
	var duration, width, height sql.NullInt64
	var viewCount, likeCount, commentCount, fpSize, fpMTime sql.NullInt64

	err := row.Scan(
		&a.ID, &a.ParentID, &a.Kind, &a.Filename, &a.LocalPath, &a.SizeBytes,
		&title, &platform, &sourceURL, &duration, &width, &height,
		&viewCount, &likeCount, &commentCount,
		&fingerprint, &fpSize, &fpMTime, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "read", Entity: "artifact", Err: err}
	}

	a.Title = title.String
	a.Platform = platform.String
	a.SourceURL = sourceURL.String
	a.DurationSeconds = int(duration.Int64)
	a.Width = int(width.Int64)
	a.Height = int(height.Int64)
	a.ViewCount = viewCount.Int64
	a.LikeCount = likeCount.Int64
	a.CommentCount = commentCount.Int64
	a.Fingerprint = fingerprint.String
	a.FingerprintSize = fpSize.Int64
	a.FingerprintMTime = fpMTime.Int64
	return a, nil
}

func scanRecord(row rowScanner) (*UploadRecord, error) {
	rec := &UploadRecord{}
	var remoteID, remoteURL, sessionToken, lastError sql.NullString
	var lastAttemptAt sql.NullInt64

	err := row.Scan(
		&rec.ArtifactID, &rec.Backend, &rec.Status, &remoteID, &remoteURL,
		&rec.AttemptCount, &rec.UploadedChunks, &sessionToken, &lastError, &rec.Retryable,
		&lastAttemptAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "read", Entity: "upload_record", Err: err}
	}

	rec.RemoteID = remoteID.String
	rec.RemoteURL = remoteURL.String
	rec.SessionToken = sessionToken.String
	rec.LastError = lastError.String
	rec.LastAttemptAt = lastAttemptAt.Int64
	return rec, nil
}

func collectArtifacts(rows *sql.Rows) ([]*Artifact, error) {
	var artifacts []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list", Entity: "artifact", Err: err}
	}
	return artifacts, nil
}

func collectRecords(rows *sql.Rows) ([]*UploadRecord, error) {
	var records []*UploadRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list", Entity: "upload_record", Err: err}
	}
	return records, nil
}
