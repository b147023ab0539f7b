package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register records a local file reported by the fetcher or the thumbnail
// generator. Registering the same (parent, kind) identity again refreshes
// metadata instead of creating a second artifact.
func (s *Service) Register(req *RegisterRequest) (*Artifact, error) {
	if req.ParentID == "" {
		return nil, fmt.Errorf("parent id is required")
	}
	if req.Kind != KindVideo && req.Kind != KindThumbnail {
		return nil, fmt.Errorf("unknown artifact kind: %s", req.Kind)
	}
	if req.LocalPath == "" {
		return nil, fmt.Errorf("local path is required")
	}

	info, err := os.Stat(req.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("local file unavailable at %s: %w", req.LocalPath, err)
	}

	a := &Artifact{
		ParentID:        req.ParentID,
		Kind:            req.Kind,
		Filename:        filepath.Base(req.LocalPath),
		LocalPath:       req.LocalPath,
		SizeBytes:       info.Size(),
		Title:           req.Title,
		Platform:        req.Platform,
		SourceURL:       req.SourceURL,
		DurationSeconds: req.DurationSeconds,
		Width:           req.Width,
		Height:          req.Height,
		ViewCount:       req.ViewCount,
		LikeCount:       req.LikeCount,
		CommentCount:    req.CommentCount,
	}

	registered, err := s.repo.UpsertArtifact(a)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("artifactId", registered.ID).
		Str("kind", string(registered.Kind)).
		Str("filename", registered.Filename).
		Msg("Artifact registered")
	return registered, nil
}

func (s *Service) Get(id string) (*Artifact, error) {
	return s.repo.GetArtifact(id)
}

func (s *Service) List() ([]*Artifact, error) {
	return s.repo.ListArtifacts()
}

// Status returns the artifact with its per-backend upload records.
func (s *Service) Status(id string) (*ArtifactStatus, error) {
	a, err := s.repo.GetArtifact(id)
	if err != nil {
		return nil, err
	}

	records, err := s.repo.ListRecords(id)
	if err != nil {
		return nil, err
	}

	status := &ArtifactStatus{
		Artifact: a,
		Backends: make(map[string]*UploadRecord, len(records)),
	}
	for _, rec := range records {
		status.Backends[rec.Backend] = rec
	}
	return status, nil
}

// ListDuplicatesSkipped returns every record resolved as a remote duplicate.
func (s *Service) ListDuplicatesSkipped() ([]*UploadRecord, error) {
	return s.repo.ListRecordsByStatus(StatusSkippedDuplicate)
}
