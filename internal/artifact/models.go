package artifact

type Kind string

const (
	KindVideo     Kind = "video"
	KindThumbnail Kind = "thumbnail"
)

type Status string

const (
	StatusNotStarted       Status = "not_started"
	StatusInProgress       Status = "in_progress"
	StatusSucceeded        Status = "succeeded"
	StatusFailed           Status = "failed"
	StatusSkippedDuplicate Status = "skipped_duplicate"
)

// Artifact is a single local file (video or thumbnail) tracked by the system.
// A video and its thumbnail share ParentID but are distinct artifacts; the
// (ParentID, Kind) pair is the identity key.
type Artifact struct {
	ID        string `json:"id"`
	ParentID  string `json:"parentId"`
	Kind      Kind   `json:"kind"`
	Filename  string `json:"filename"`
	LocalPath string `json:"localPath"`
	SizeBytes int64  `json:"sizeBytes"`

	Title           string `json:"title,omitempty"`
	Platform        string `json:"platform,omitempty"`
	SourceURL       string `json:"sourceUrl,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
	ViewCount       int64  `json:"viewCount,omitempty"`
	LikeCount       int64  `json:"likeCount,omitempty"`
	CommentCount    int64  `json:"commentCount,omitempty"`

	// Fingerprint caches the sha256 of the file content, valid only while
	// FingerprintSize and FingerprintMTime match the file on disk.
	Fingerprint      string `json:"fingerprint,omitempty"`
	FingerprintSize  int64  `json:"-"`
	FingerprintMTime int64  `json:"-"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// UploadRecord is the per-(artifact, backend) upload state. Exactly one record
// exists per pair; only the coordinator mutates it.
type UploadRecord struct {
	ArtifactID     string `json:"artifactId"`
	Backend        string `json:"backend"`
	Status         Status `json:"status"`
	RemoteID       string `json:"remoteId,omitempty"`
	RemoteURL      string `json:"remoteUrl,omitempty"`
	AttemptCount   int    `json:"attemptCount"`
	UploadedChunks int    `json:"uploadedChunks,omitempty"`
	SessionToken   string `json:"-"`
	LastError      string `json:"lastError,omitempty"`
	Retryable      bool   `json:"retryable"`
	LastAttemptAt  int64  `json:"lastAttemptAt,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt"`
}

// RegisterRequest is the inbound payload from the fetcher or thumbnail
// generator announcing a new local file.
type RegisterRequest struct {
	ParentID  string `json:"parentId"`
	Kind      Kind   `json:"kind"`
	LocalPath string `json:"localPath"`

	Title           string `json:"title,omitempty"`
	Platform        string `json:"platform,omitempty"`
	SourceURL       string `json:"sourceUrl,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
	ViewCount       int64  `json:"viewCount,omitempty"`
	LikeCount       int64  `json:"likeCount,omitempty"`
	CommentCount    int64  `json:"commentCount,omitempty"`
}

// ArtifactStatus aggregates an artifact with its per-backend records.
type ArtifactStatus struct {
	Artifact *Artifact                `json:"artifact"`
	Backends map[string]*UploadRecord `json:"backends"`
}
