package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

const metaSha256 = "Sha256"

type S3Config struct {
	Name           string
	Endpoint       string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
	Prefix         string
	ChunkSize      int64
	ChunkThreshold int64
}

// S3 uploads to an S3-compatible bucket. Large files use the multipart API
// with the upload id persisted as the session token, so an interrupted
// transfer resumes from its completed parts.
type S3 struct {
	cfg  S3Config
	core *minio.Core
}

func NewS3(cfg S3Config) (*S3, error) {
	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return &S3{cfg: cfg, core: core}, nil
}

func (s *S3) Name() string {
	return s.cfg.Name
}

// objectKey lays a file out as prefix/kinds/<sha256>/filename. The content
// hash in the key keeps two files with the same name from overwriting each
// other when their bytes differ.
func (s *S3) objectKey(filename, kind, fingerprint string) string {
	return path.Join(s.cfg.Prefix, kind+"s", fingerprint, filename)
}

func (s *S3) List(ctx context.Context, filename, kind string) ([]RemoteFile, error) {
	prefix := path.Join(s.cfg.Prefix, kind+"s") + "/"
	var files []RemoteFile
	for obj := range s.core.Client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			resp := minio.ToErrorResponse(obj.Err)
			if resp.Code == "NoSuchBucket" {
				return nil, nil
			}
			return nil, s.wrapError("list objects", obj.Err)
		}
		if path.Base(obj.Key) != filename {
			continue
		}
		files = append(files, RemoteFile{
			ID:          obj.Key,
			Name:        filename,
			URL:         fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, obj.Key),
			Size:        obj.Size,
			ContentHash: keyContentHash(obj.Key),
		})
	}
	return files, nil
}

// keyContentHash recovers the sha256 directory segment from a key written by
// objectKey. Keys from an older flat layout yield an empty hash and fall
// back to size comparison.
func keyContentHash(key string) string {
	dir := path.Base(path.Dir(key))
	if len(dir) != 64 {
		return ""
	}
	for _, c := range dir {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ""
		}
	}
	return dir
}

func (s *S3) Upload(ctx context.Context, req *UploadRequest) (*UploadOutcome, error) {
	if req.SizeBytes == 0 {
		return nil, &TransferError{Backend: s.cfg.Name, Retryable: false,
			Err: fmt.Errorf("file is empty: %s", req.LocalPath)}
	}

	if req.SizeBytes < s.cfg.ChunkThreshold {
		return s.uploadSimple(ctx, req)
	}
	return s.uploadMultipart(ctx, req)
}

func (s *S3) uploadSimple(ctx context.Context, req *UploadRequest) (*UploadOutcome, error) {
	f, err := os.Open(req.LocalPath)
	if err != nil {
		return nil, &TransferError{Backend: s.cfg.Name, Retryable: false,
			Err: fmt.Errorf("failed to open %s: %w", req.LocalPath, err)}
	}
	defer f.Close()

	key := s.objectKey(req.Filename, req.Kind, req.Fingerprint)
	_, err = s.core.Client.PutObject(ctx, s.cfg.Bucket, key, f, req.SizeBytes, minio.PutObjectOptions{
		UserMetadata: map[string]string{metaSha256: req.Fingerprint},
	})
	if err != nil {
		return nil, s.wrapError("put object", err)
	}

	return &UploadOutcome{
		RemoteID:  key,
		RemoteURL: fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, key),
	}, nil
}

// uploadMultipart transfers the file part by part. Parts already present on
// the remote side of a resumed session are verified by size and skipped.
func (s *S3) uploadMultipart(ctx context.Context, req *UploadRequest) (*UploadOutcome, error) {
	f, err := os.Open(req.LocalPath)
	if err != nil {
		return nil, &TransferError{Backend: s.cfg.Name, Retryable: false,
			Err: fmt.Errorf("failed to open %s: %w", req.LocalPath, err)}
	}
	defer f.Close()

	key := s.objectKey(req.Filename, req.Kind, req.Fingerprint)
	uploadID := req.Resume.SessionToken
	completed := make(map[int]minio.CompletePart)

	if uploadID != "" {
		completed, err = s.remoteParts(ctx, key, uploadID)
		if err != nil {
			// Expired or aborted session, start over.
			log.Warn().Str("backend", s.cfg.Name).Str("filename", req.Filename).Err(err).
				Msg("Multipart session unavailable, restarting upload")
			uploadID = ""
		}
	}
	if uploadID == "" {
		uploadID, err = s.core.NewMultipartUpload(ctx, s.cfg.Bucket, key, minio.PutObjectOptions{
			UserMetadata: map[string]string{metaSha256: req.Fingerprint},
		})
		if err != nil {
			return nil, s.wrapError("init multipart", err)
		}
		completed = make(map[int]minio.CompletePart)
		if err := reportProgress(req, Progress{SessionToken: uploadID}); err != nil {
			return nil, err
		}
	}

	totalParts := int((req.SizeBytes + s.cfg.ChunkSize - 1) / s.cfg.ChunkSize)
	for part := 1; part <= totalParts; part++ {
		if err := ctx.Err(); err != nil {
			return nil, &TransferError{Backend: s.cfg.Name, Retryable: true, Err: err}
		}
		if _, ok := completed[part]; ok {
			continue
		}

		offset := int64(part-1) * s.cfg.ChunkSize
		length := s.cfg.ChunkSize
		if offset+length > req.SizeBytes {
			length = req.SizeBytes - offset
		}

		// The part request runs outside the batch context so a cancellation
		// lets the in-flight part finish and be recorded.
		uploaded, err := s.core.PutObjectPart(context.WithoutCancel(ctx), s.cfg.Bucket, key, uploadID,
			part, io.NewSectionReader(f, offset, length), length, minio.PutObjectPartOptions{})
		if err != nil {
			return nil, s.wrapError("put part", err)
		}
		completed[part] = minio.CompletePart{PartNumber: part, ETag: uploaded.ETag}
		if err := reportProgress(req, Progress{SessionToken: uploadID, UploadedChunks: len(completed)}); err != nil {
			return nil, err
		}
	}

	parts := make([]minio.CompletePart, 0, len(completed))
	for _, p := range completed {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	if _, err := s.core.CompleteMultipartUpload(ctx, s.cfg.Bucket, key, uploadID, parts, minio.PutObjectOptions{}); err != nil {
		return nil, s.wrapError("complete multipart", err)
	}

	return &UploadOutcome{
		RemoteID:  key,
		RemoteURL: fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, key),
	}, nil
}

// remoteParts rebuilds the completed-part map of an existing multipart
// session from the remote listing.
func (s *S3) remoteParts(ctx context.Context, key, uploadID string) (map[int]minio.CompletePart, error) {
	completed := make(map[int]minio.CompletePart)
	marker := 0
	for {
		result, err := s.core.ListObjectParts(ctx, s.cfg.Bucket, key, uploadID, marker, 1000)
		if err != nil {
			return nil, err
		}
		for _, p := range result.ObjectParts {
			completed[p.PartNumber] = minio.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag}
		}
		if !result.IsTruncated {
			return completed, nil
		}
		marker = result.NextPartNumberMarker
	}
}

func (s *S3) wrapError(op string, err error) error {
	retryable := true
	if resp := minio.ToErrorResponse(err); resp.StatusCode != 0 {
		retryable = retryableStatus(resp.StatusCode)
	}
	return &TransferError{Backend: s.cfg.Name, Retryable: retryable,
		Err: fmt.Errorf("%s: %w", op, err)}
}
