// Package resolver decides whether an artifact already exists on a remote
// backend before any bytes are moved. It fails closed: when the remote
// listing cannot be trusted, no upload happens.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/aiwaverider/mediasync_server/internal/artifact"
	"github.com/aiwaverider/mediasync_server/internal/backend"
)

// ErrInconclusiveListing marks a remote listing that failed or came back
// partial. Callers must not upload on this error.
var ErrInconclusiveListing = errors.New("remote listing inconclusive")

// Resolution is the verdict for one (artifact, backend) pair.
type Resolution struct {
	Duplicate bool
	// Remote is the matched remote file when Duplicate is true.
	Remote *backend.RemoteFile
	// Provisional is true when the match rests on file size alone because
	// the remote entry carries no content hash.
	Provisional bool
}

type Resolver struct {
	store *artifact.Service
}

func NewResolver(store *artifact.Service) *Resolver {
	return &Resolver{store: store}
}

// Resolve checks the backend for an existing copy of the artifact. Matching
// runs name first, then content hash, then size as a last resort. A remote
// name match with a conflicting hash is not a duplicate; the artifact is a
// different file that happens to share its name.
func (r *Resolver) Resolve(ctx context.Context, b backend.Backend, a *artifact.Artifact) (*Resolution, error) {
	remotes, err := b.List(ctx, a.Filename, string(a.Kind))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInconclusiveListing, b.Name(), err)
	}
	if len(remotes) == 0 {
		return &Resolution{}, nil
	}

	fingerprint, err := r.store.Fingerprint(a)
	if err != nil {
		return nil, err
	}

	// Hash matches win over everything else, across all name matches.
	for i := range remotes {
		if remotes[i].ContentHash != "" && remotes[i].ContentHash == fingerprint {
			return &Resolution{Duplicate: true, Remote: &remotes[i]}, nil
		}
	}

	// No remote hash to compare against: fall back to size. A size match is
	// a provisional duplicate; a mismatch means a different file.
	for i := range remotes {
		if remotes[i].ContentHash != "" {
			continue
		}
		if remotes[i].Size == a.SizeBytes {
			log.Warn().
				Str("artifactId", a.ID).
				Str("backend", b.Name()).
				Str("remoteId", remotes[i].ID).
				Int64("size", a.SizeBytes).
				Msg("Duplicate resolved on size alone, remote carries no content hash")
			return &Resolution{Duplicate: true, Remote: &remotes[i], Provisional: true}, nil
		}
	}

	return &Resolution{}, nil
}
