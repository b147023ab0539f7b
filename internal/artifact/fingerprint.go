package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Fingerprint returns the sha256 of the artifact's file content, using the
// cached value when the file's size and mtime still match the cached triple.
// A freshly computed hash is written back through the repository. A missing
// file is a hard error, never a silent skip.
func (s *Service) Fingerprint(a *Artifact) (string, error) {
	info, err := os.Stat(a.LocalPath)
	if err != nil {
		return "", fmt.Errorf("artifact %s file unavailable at %s: %w", a.ID, a.LocalPath, err)
	}

	size := info.Size()
	mtime := info.ModTime().Unix()
	if a.Fingerprint != "" && a.FingerprintSize == size && a.FingerprintMTime == mtime {
		return a.Fingerprint, nil
	}

	f, err := os.Open(a.LocalPath)
	if err != nil {
		return "", fmt.Errorf("artifact %s file unavailable at %s: %w", a.ID, a.LocalPath, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", a.LocalPath, err)
	}
	sum := hex.EncodeToString(hasher.Sum(nil))

	if err := s.repo.UpdateFingerprint(a.ID, sum, size, mtime); err != nil {
		return "", err
	}
	a.Fingerprint = sum
	a.FingerprintSize = size
	a.FingerprintMTime = mtime
	return sum, nil
}
