package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/landrop-server/landrop-server/internal/models"
)

// Progress is invoked after every uploaded file with cumulative byte
// counts for the whole transfer.
type Progress func(fileName string, sentBytes, totalBytes int64)

// Result summarizes a completed outgoing transfer.
type Result struct {
	SessionID string
	Files     int
	Bytes     int64
	Elapsed   time.Duration
}

// PeerError is a non-2xx answer from the receiving peer.
type PeerError struct {
	StatusCode int
	Message    string
}

func (e *PeerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("peer responded %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("peer responded %d", e.StatusCode)
}

// IsRejected reports whether the peer declined the transfer.
func IsRejected(err error) bool {
	pe, ok := err.(*PeerError)
	return ok && pe.StatusCode == http.StatusForbidden
}

// Sender pushes files to a peer over the transfer protocol.
type Sender struct {
	self      models.SelfDescription
	client    *http.Client
	chunkSize int64
	progress  Progress
}

// SenderOption customizes a Sender.
type SenderOption func(*Sender)

// WithProgress installs a per-file progress callback.
func WithProgress(p Progress) SenderOption {
	return func(s *Sender) { s.progress = p }
}

// WithChunkSize sets the chunk size used for resumable large-file
// uploads.
func WithChunkSize(n int64) SenderOption {
	return func(s *Sender) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// NewSender creates a sender identifying itself as self.
func NewSender(self models.SelfDescription, opts ...SenderOption) *Sender {
	s := &Sender{
		self: self,
		client: &http.Client{
			// no overall timeout: uploads are long-lived and bounded by
			// the caller's context
			Timeout: 0,
		},
		chunkSize: models.StreamChunkSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendFiles performs a full push transfer: handshake, then one upload per
// file. The handshake blocks until the peer's user accepts or the peer's
// acceptance window elapses.
func (s *Sender) SendFiles(ctx context.Context, device *models.Device, paths []string, pin string) (*Result, error) {
	manifest, sources, err := buildManifest(paths)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	prep, err := s.prepareUpload(ctx, device, manifest, pin)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session", prep.SessionID).
		Str("peer", device.Alias).
		Int("files", len(manifest)).
		Msg("Transfer accepted, uploading")

	var total int64
	for _, meta := range manifest {
		total += meta.Size
	}

	var sent int64
	for fileID, meta := range manifest {
		token, ok := prep.Files[fileID]
		if !ok {
			s.cancel(device, prep.SessionID)
			return nil, fmt.Errorf("peer issued no token for %s", meta.FileName)
		}

		if err := s.uploadFile(ctx, device, prep.SessionID, fileID, token, meta, sources[fileID]); err != nil {
			s.cancel(device, prep.SessionID)
			return nil, fmt.Errorf("upload %s: %w", meta.FileName, err)
		}

		sent += meta.Size
		if s.progress != nil {
			s.progress(meta.FileName, sent, total)
		}
	}

	return &Result{
		SessionID: prep.SessionID,
		Files:     len(manifest),
		Bytes:     sent,
		Elapsed:   time.Since(started),
	}, nil
}

// Cancel aborts a session on the peer. Best effort.
func (s *Sender) Cancel(ctx context.Context, device *models.Device, sessionID string) {
	endpoint := device.Address() + "/api/localsend/v2/cancel?sessionId=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("session", sessionID).Msg("Cancel request failed")
		return
	}
	resp.Body.Close()
}

func (s *Sender) cancel(device *models.Device, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Cancel(ctx, device, sessionID)
}

// prepareUpload runs the blocking handshake.
func (s *Sender) prepareUpload(ctx context.Context, device *models.Device, manifest map[string]models.FileMetadata, pin string) (*models.PrepareUploadResponse, error) {
	endpoint := device.Address() + "/api/localsend/v2/prepare-upload"
	if pin != "" {
		endpoint += "?pin=" + url.QueryEscape(pin)
	}

	body, err := json.Marshal(models.PrepareUploadRequest{
		Info:  s.self,
		Files: manifest,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("handshake with %s: %w", device.Alias, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, peerError(resp)
	}

	var prep models.PrepareUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&prep); err != nil {
		return nil, fmt.Errorf("decode handshake response: %w", err)
	}
	if prep.SessionID == "" {
		return nil, fmt.Errorf("peer returned no session id")
	}
	return &prep, nil
}

// uploadFile pushes one file. Files larger than the chunk size go through
// the resumable path; small files are sent in a single request.
func (s *Sender) uploadFile(ctx context.Context, device *models.Device, sessionID, fileID, token string, meta models.FileMetadata, path string) error {
	if meta.Size > s.chunkSize {
		return s.uploadChunked(ctx, device, sessionID, fileID, token, meta, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uploadURL(device, sessionID, fileID, token), f)
	if err != nil {
		return err
	}
	req.ContentLength = meta.Size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return peerError(resp)
	}
	return nil
}

// uploadChunked resumes from whatever the peer already has and appends
// fixed-size chunks. Each chunk carries an explicit Range offset, so an
// interrupted transfer restarts where it stopped.
func (s *Sender) uploadChunked(ctx context.Context, device *models.Device, sessionID, fileID, token string, meta models.FileMetadata, path string) error {
	offset, err := s.probe(ctx, device, sessionID, fileID, token)
	if err != nil {
		return err
	}
	if offset > 0 {
		log.Debug().
			Str("file", meta.FileName).
			Int64("offset", offset).
			Msg("Resuming upload")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for offset < meta.Size {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := s.chunkSize
		if remaining := meta.Size - offset; remaining < n {
			n = remaining
		}

		section := io.NewSectionReader(f, offset, n)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uploadURL(device, sessionID, fileID, token), section)
		if err != nil {
			return err
		}
		req.ContentLength = n
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			offset += n
		case http.StatusRequestedRangeNotSatisfiable:
			// the peer's partial diverged from ours; re-probe and realign
			offset, err = s.probe(ctx, device, sessionID, fileID, token)
			if err != nil {
				return err
			}
		default:
			return peerError(resp)
		}
	}
	return nil
}

// probe asks the peer how much of the file it already holds.
func (s *Sender) probe(ctx context.Context, device *models.Device, sessionID, fileID, token string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.uploadURL(device, sessionID, fileID, token), nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, peerError(resp)
	}

	var pr models.ProbeResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, err
	}
	if !pr.Exists {
		return 0, nil
	}
	return pr.Size, nil
}

func (s *Sender) uploadURL(device *models.Device, sessionID, fileID, token string) string {
	return fmt.Sprintf("%s/api/localsend/v2/upload?sessionId=%s&fileId=%s&token=%s",
		device.Address(), url.QueryEscape(sessionID), url.QueryEscape(fileID), url.QueryEscape(token))
}

// buildManifest stats the given paths and assigns file ids. Returns the
// manifest and a file id to source path map.
func buildManifest(paths []string) (map[string]models.FileMetadata, map[string]string, error) {
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no files to send")
	}

	manifest := make(map[string]models.FileMetadata, len(paths))
	sources := make(map[string]string, len(paths))
	for _, path := range paths {
		fi, err := os.Stat(path)
		if err != nil {
			return nil, nil, err
		}
		if fi.IsDir() {
			return nil, nil, fmt.Errorf("%s is a directory", path)
		}

		id := uuid.New().String()
		manifest[id] = models.FileMetadata{
			ID:       id,
			FileName: filepath.Base(path),
			Size:     fi.Size(),
			FileType: fileType(path),
		}
		sources[id] = path
	}
	return manifest, sources, nil
}

// fileType derives a coarse MIME type from the extension.
func fileType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".mp4":
		return "video/mp4"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".md", ".log":
		return "text/plain"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}

// peerError drains a small error body and wraps the status.
func peerError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(body, &payload)
	return &PeerError{StatusCode: resp.StatusCode, Message: payload.Error}
}
