// Package backend wraps the transfer semantics of the two remote drives
// behind one contract. Uploaders move bytes and report outcomes; they never
// persist state, which stays the coordinator's job.
package backend

import (
	"context"
)

// RemoteFile is one entry of a backend listing.
type RemoteFile struct {
	ID          string
	Name        string
	URL         string
	Size        int64
	ContentHash string // sha256 hex when the backend carries one, else empty
}

// UploadOutcome is returned only by a successful transfer; RemoteID is
// always non-empty.
type UploadOutcome struct {
	RemoteID  string
	RemoteURL string
}

// Progress is the resumable state of a chunked transfer.
type Progress struct {
	SessionToken   string
	UploadedChunks int
}

// ProgressFunc is invoked after every acknowledged chunk so the caller can
// persist resumable state before the next chunk starts.
type ProgressFunc func(Progress) error

type UploadRequest struct {
	LocalPath   string
	Filename    string
	Kind        string
	SizeBytes   int64
	Fingerprint string
	Resume      Progress
	OnProgress  ProgressFunc
}

type Backend interface {
	Name() string
	// Upload transfers the file, chunked above the backend's size threshold.
	// Failures are reported as *TransferError.
	Upload(ctx context.Context, req *UploadRequest) (*UploadOutcome, error)
	// List returns every remote entry matching the canonical filename, with
	// all listing pages merged. A partial listing is an error, never an
	// empty result.
	List(ctx context.Context, filename, kind string) ([]RemoteFile, error)
}
