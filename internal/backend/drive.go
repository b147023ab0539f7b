package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	driveUploadURL  = "https://www.googleapis.com/upload/drive/v3/files?uploadType=resumable&fields=id"
	folderMimeType  = "application/vnd.google-apps.folder"
	hashDescPrefix  = "hash:"
	driveViewURLFmt = "https://drive.google.com/file/d/%s/view"
)

type DriveConfig struct {
	Name            string
	CredentialsFile string
	TokenFile       string
	VideoFolder     string
	ThumbnailFolder string
	ChunkSize       int64
	ChunkThreshold  int64
}

// Drive uploads to a Google Drive folder pair (videos, thumbnails). Large
// files go through the resumable upload protocol so progress survives
// interruption; the content sha256 travels in the file description and is
// read back during listing.
type Drive struct {
	cfg       DriveConfig
	svc       *drive.Service
	client    *http.Client
	uploadURL string

	mu      sync.Mutex
	folders map[string]string // folder name -> id
}

func NewDrive(ctx context.Context, cfg DriveConfig) (*Drive, error) {
	creds, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read drive credentials: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(creds, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse drive credentials: %w", err)
	}

	tokenBytes, err := os.ReadFile(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read drive token: %w", err)
	}
	token := &oauth2.Token{}
	if err := json.Unmarshal(tokenBytes, token); err != nil {
		return nil, fmt.Errorf("failed to parse drive token: %w", err)
	}

	client := oauth2.NewClient(ctx, oauthCfg.TokenSource(ctx, token))
	svc, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &Drive{
		cfg:       cfg,
		svc:       svc,
		client:    client,
		uploadURL: driveUploadURL,
		folders:   make(map[string]string),
	}, nil
}

func (d *Drive) Name() string {
	return d.cfg.Name
}

func (d *Drive) folderName(kind string) string {
	if kind == "thumbnail" {
		return d.cfg.ThumbnailFolder
	}
	return d.cfg.VideoFolder
}

// folderID resolves (and creates on first use) the Drive folder for a kind.
func (d *Drive) folderID(ctx context.Context, kind string) (string, error) {
	name := d.folderName(kind)

	d.mu.Lock()
	if id, ok := d.folders[name]; ok {
		d.mu.Unlock()
		return id, nil
	}
	d.mu.Unlock()

	query := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", escapeQuery(name), folderMimeType)
	list, err := d.svc.Files.List().Q(query).Spaces("drive").
		Fields("files(id, name)").OrderBy("createdTime").Context(ctx).Do()
	if err != nil {
		return "", d.wrapError("list folder", err)
	}

	var id string
	if len(list.Files) > 0 {
		id = list.Files[0].Id
	} else {
		folder, err := d.svc.Files.Create(&drive.File{Name: name, MimeType: folderMimeType}).
			Fields("id").Context(ctx).Do()
		if err != nil {
			return "", d.wrapError("create folder", err)
		}
		id = folder.Id
		log.Info().Str("backend", d.cfg.Name).Str("folder", name).Str("folderId", id).
			Msg("Created drive folder")
	}

	d.mu.Lock()
	d.folders[name] = id
	d.mu.Unlock()
	return id, nil
}

func (d *Drive) List(ctx context.Context, filename, kind string) ([]RemoteFile, error) {
	folderID, err := d.folderID(ctx, kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("name='%s' and '%s' in parents and trashed=false", escapeQuery(filename), folderID)
	var files []RemoteFile
	pageToken := ""
	for {
		call := d.svc.Files.List().Q(query).Spaces("drive").
			Fields("nextPageToken, files(id, name, size, description)").Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, d.wrapError("list files", err)
		}
		for _, f := range page.Files {
			files = append(files, RemoteFile{
				ID:          f.Id,
				Name:        f.Name,
				URL:         fmt.Sprintf(driveViewURLFmt, f.Id),
				Size:        f.Size,
				ContentHash: hashFromDescription(f.Description),
			})
		}
		if page.NextPageToken == "" {
			return files, nil
		}
		pageToken = page.NextPageToken
	}
}

func (d *Drive) Upload(ctx context.Context, req *UploadRequest) (*UploadOutcome, error) {
	if req.SizeBytes == 0 {
		return nil, &TransferError{Backend: d.cfg.Name, Retryable: false,
			Err: fmt.Errorf("file is empty: %s", req.LocalPath)}
	}

	folderID, err := d.folderID(ctx, req.Kind)
	if err != nil {
		return nil, err
	}

	if req.SizeBytes < d.cfg.ChunkThreshold {
		return d.uploadSimple(ctx, req, folderID)
	}
	return d.uploadResumable(ctx, req, folderID)
}

func (d *Drive) uploadSimple(ctx context.Context, req *UploadRequest, folderID string) (*UploadOutcome, error) {
	f, err := os.Open(req.LocalPath)
	if err != nil {
		return nil, &TransferError{Backend: d.cfg.Name, Retryable: false,
			Err: fmt.Errorf("failed to open %s: %w", req.LocalPath, err)}
	}
	defer f.Close()

	meta := &drive.File{
		Name:        req.Filename,
		Parents:     []string{folderID},
		Description: hashDescPrefix + req.Fingerprint,
	}
	created, err := d.svc.Files.Create(meta).Media(f).Fields("id").Context(ctx).Do()
	if err != nil {
		return nil, d.wrapError("upload", err)
	}
	if created.Id == "" {
		return nil, &TransferError{Backend: d.cfg.Name, Retryable: true,
			Err: fmt.Errorf("no file id returned for %s", req.Filename)}
	}

	return &UploadOutcome{
		RemoteID:  created.Id,
		RemoteURL: fmt.Sprintf(driveViewURLFmt, created.Id),
	}, nil
}

// uploadResumable drives the Drive resumable upload protocol chunk by chunk,
// reporting progress after every acknowledged chunk so an interrupted
// transfer resumes instead of restarting.
func (d *Drive) uploadResumable(ctx context.Context, req *UploadRequest, folderID string) (*UploadOutcome, error) {
	f, err := os.Open(req.LocalPath)
	if err != nil {
		return nil, &TransferError{Backend: d.cfg.Name, Retryable: false,
			Err: fmt.Errorf("failed to open %s: %w", req.LocalPath, err)}
	}
	defer f.Close()

	sessionURI := req.Resume.SessionToken
	chunk := req.Resume.UploadedChunks
	if sessionURI == "" {
		sessionURI, err = d.initSession(ctx, req, folderID)
		if err != nil {
			return nil, err
		}
		chunk = 0
		if err := reportProgress(req, Progress{SessionToken: sessionURI}); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, d.cfg.ChunkSize)
	restarted := false
	queried := false
	for {
		if err := ctx.Err(); err != nil {
			return nil, &TransferError{Backend: d.cfg.Name, Retryable: true, Err: err}
		}

		offset := int64(chunk) * d.cfg.ChunkSize
		if offset >= req.SizeBytes {
			// Every chunk was acknowledged but the final response never
			// arrived. Ask the session where it stands; a finished session
			// answers with the file id.
			if queried {
				return nil, &TransferError{Backend: d.cfg.Name, Retryable: true,
					Err: fmt.Errorf("session reports %d acknowledged bytes of %d but no file id", offset, req.SizeBytes)}
			}
			queried = true

			status, body, acked, err := d.querySession(ctx, sessionURI, req.SizeBytes)
			if err != nil {
				return nil, &TransferError{Backend: d.cfg.Name, Retryable: true, Err: err}
			}
			switch {
			case status == http.StatusOK || status == http.StatusCreated:
				return d.outcomeFromBody(body, req.Filename)
			case status == 308:
				chunk = int(acked / d.cfg.ChunkSize)
				continue
			case (status == http.StatusNotFound || status == http.StatusGone) && !restarted:
				log.Warn().Str("backend", d.cfg.Name).Str("filename", req.Filename).
					Msg("Resumable session expired, restarting upload")
				sessionURI, err = d.initSession(ctx, req, folderID)
				if err != nil {
					return nil, err
				}
				chunk = 0
				restarted = true
				if err := reportProgress(req, Progress{SessionToken: sessionURI}); err != nil {
					return nil, err
				}
				continue
			default:
				return nil, &TransferError{Backend: d.cfg.Name, Retryable: retryableStatus(status),
					Err: fmt.Errorf("session status query returned %d", status)}
			}
		}
		n, err := f.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return nil, &TransferError{Backend: d.cfg.Name, Retryable: false,
				Err: fmt.Errorf("failed to read %s: %w", req.LocalPath, err)}
		}

		status, body, err := d.putChunk(ctx, sessionURI, buf[:n], offset, req.SizeBytes)
		if err != nil {
			return nil, &TransferError{Backend: d.cfg.Name, Retryable: true, Err: err}
		}

		switch {
		case status == http.StatusOK || status == http.StatusCreated:
			return d.outcomeFromBody(body, req.Filename)

		case status == 308:
			chunk++
			if err := reportProgress(req, Progress{SessionToken: sessionURI, UploadedChunks: chunk}); err != nil {
				return nil, err
			}

		case (status == http.StatusNotFound || status == http.StatusGone) && !restarted:
			// Expired session: restart once from the first chunk.
			log.Warn().Str("backend", d.cfg.Name).Str("filename", req.Filename).
				Msg("Resumable session expired, restarting upload")
			sessionURI, err = d.initSession(ctx, req, folderID)
			if err != nil {
				return nil, err
			}
			chunk = 0
			restarted = true
			if err := reportProgress(req, Progress{SessionToken: sessionURI}); err != nil {
				return nil, err
			}

		default:
			return nil, &TransferError{Backend: d.cfg.Name, Retryable: retryableStatus(status),
				Err: fmt.Errorf("chunk upload returned status %d", status)}
		}
	}
}

func (d *Drive) initSession(ctx context.Context, req *UploadRequest, folderID string) (string, error) {
	meta := map[string]interface{}{
		"name":        req.Filename,
		"parents":     []string{folderID},
		"description": hashDescPrefix + req.Fingerprint,
	}
	body, err := json.Marshal(meta)
	if err != nil {
		return "", &TransferError{Backend: d.cfg.Name, Retryable: false, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.uploadURL, bytes.NewReader(body))
	if err != nil {
		return "", &TransferError{Backend: d.cfg.Name, Retryable: false, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")
	httpReq.Header.Set("X-Upload-Content-Length", fmt.Sprintf("%d", req.SizeBytes))

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", &TransferError{Backend: d.cfg.Name, Retryable: true, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", &TransferError{Backend: d.cfg.Name, Retryable: retryableStatus(resp.StatusCode),
			Err: fmt.Errorf("resumable session init returned status %d", resp.StatusCode)}
	}
	sessionURI := resp.Header.Get("Location")
	if sessionURI == "" {
		return "", &TransferError{Backend: d.cfg.Name, Retryable: true,
			Err: errors.New("resumable session init returned no location")}
	}
	return sessionURI, nil
}

func (d *Drive) outcomeFromBody(body []byte, filename string) (*UploadOutcome, error) {
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		return nil, &TransferError{Backend: d.cfg.Name, Retryable: true,
			Err: fmt.Errorf("resumable upload of %s finished without a file id", filename)}
	}
	return &UploadOutcome{
		RemoteID:  created.ID,
		RemoteURL: fmt.Sprintf(driveViewURLFmt, created.ID),
	}, nil
}

// querySession sends an empty PUT with "Content-Range: bytes */total" to the
// session URI. The response mirrors a chunk upload: 200/201 with the file
// body when the session already completed, 308 with a Range header naming
// the bytes received so far.
func (d *Drive) querySession(ctx context.Context, sessionURI string, total int64) (int, []byte, int64, error) {
	httpReq, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPut, sessionURI, nil)
	if err != nil {
		return 0, nil, 0, err
	}
	httpReq.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", total))

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body, ackedBytes(resp.Header.Get("Range")), nil
}

// ackedBytes parses a session Range header like "bytes=0-1048575" into the
// number of contiguous bytes the session has accepted.
func ackedBytes(rangeHeader string) int64 {
	i := strings.LastIndexByte(rangeHeader, '-')
	if i < 0 {
		return 0
	}
	var end int64
	if _, err := fmt.Sscanf(rangeHeader[i+1:], "%d", &end); err != nil {
		return 0
	}
	return end + 1
}

// putChunk uploads one chunk. The request runs outside the batch context so
// a cancellation lets the in-flight chunk finish and be recorded.
func (d *Drive) putChunk(ctx context.Context, sessionURI string, chunk []byte, offset, total int64) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPut, sessionURI, bytes.NewReader(chunk))
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Content-Range",
		fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(chunk))-1, total))

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body, nil
}

// wrapError converts googleapi errors into classified transfer errors.
// Rate-limit 403s are transient despite sharing their status code with
// permanent quota failures.
func (d *Drive) wrapError(op string, err error) error {
	retryable := true
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		retryable = retryableStatus(apiErr.Code)
		if apiErr.Code == http.StatusForbidden {
			for _, item := range apiErr.Errors {
				if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
					retryable = true
				}
			}
		}
	}
	return &TransferError{Backend: d.cfg.Name, Retryable: retryable,
		Err: fmt.Errorf("%s: %w", op, err)}
}

func reportProgress(req *UploadRequest, p Progress) error {
	if req.OnProgress == nil {
		return nil
	}
	return req.OnProgress(p)
}

func hashFromDescription(description string) string {
	if strings.HasPrefix(description, hashDescPrefix) {
		return strings.TrimPrefix(description, hashDescPrefix)
	}
	return ""
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
