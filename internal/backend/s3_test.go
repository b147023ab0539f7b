package backend

import (
	"path"
	"strings"
	"testing"
)

const (
	fingerprintA = "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"
	fingerprintB = "0f9e8d7c6b5a4938271605f4e3d2c1b00f9e8d7c6b5a4938271605f4e3d2c1b0"
)

func TestObjectKey_ShouldSeparateSameNameDifferentContent(t *testing.T) {
	s := &S3{cfg: S3Config{Bucket: "mediasync", Prefix: "media"}}

	first := s.objectKey("clip.mp4", "video", fingerprintA)
	second := s.objectKey("clip.mp4", "video", fingerprintB)

	if first == second {
		t.Errorf("Expected distinct keys for distinct content, got '%s' twice", first)
	}
	if path.Base(first) != "clip.mp4" || path.Base(second) != "clip.mp4" {
		t.Errorf("Expected the filename as the final key segment, got '%s' and '%s'", first, second)
	}
	if !strings.HasPrefix(first, "media/videos/") {
		t.Errorf("Expected the key under the kind prefix, got '%s'", first)
	}
}

func TestKeyContentHash_ShouldRecoverFingerprintFromKey(t *testing.T) {
	s := &S3{cfg: S3Config{Bucket: "mediasync", Prefix: "media"}}
	key := s.objectKey("clip.mp4", "video", fingerprintA)

	if got := keyContentHash(key); got != fingerprintA {
		t.Errorf("Expected fingerprint '%s', got '%s'", fingerprintA, got)
	}
	if got := keyContentHash("media/videos/clip.mp4"); got != "" {
		t.Errorf("Expected no hash for a flat legacy key, got '%s'", got)
	}
	notHex := strings.Repeat("z", 64)
	if got := keyContentHash("media/videos/" + notHex + "/clip.mp4"); got != "" {
		t.Errorf("Expected no hash for a non-hex segment, got '%s'", got)
	}
}
