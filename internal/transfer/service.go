// Package transfer uploads local files to remote URLs and downloads remote
// URLs into the decrypted folder. Each call issues exactly one HTTP request;
// retrying is up to the caller.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/garyjia/mailfiles/internal/apperr"
	"github.com/garyjia/mailfiles/internal/models"
	"github.com/garyjia/mailfiles/internal/storage"
	"go.uber.org/zap"
)

// HTTPClient interface for testability
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Recorder receives every finished transfer.
type Recorder interface {
	Record(ctx context.Context, rec *models.TransferRecord) error
}

// Config tunes request construction.
type Config struct {
	UploadMethod string // PUT unless set
	UserAgent    string // sent when the caller supplies none
}

// StatusError reports a download answered with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response status %d", e.StatusCode)
}

// maxDrain bounds how much of an unused response body is read so the
// connection can be reused.
const maxDrain = 64 << 10

// NewHTTPClient returns the default transport. Timeout covers the whole
// exchange, body included.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// Service performs uploads and downloads.
type Service struct {
	client  HTTPClient
	folders *storage.FolderManager
	files   *storage.FileStorage
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	recorder Recorder
}

// NewService creates a new transfer Service
func NewService(client HTTPClient, folders *storage.FolderManager, files *storage.FileStorage, cfg Config, logger *zap.Logger) *Service {
	if cfg.UploadMethod == "" {
		cfg.UploadMethod = http.MethodPut
	}
	return &Service{
		client:  client,
		folders: folders,
		files:   files,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// SetRecorder sets the transfer log. Optional: without one nothing is recorded.
func (s *Service) SetRecorder(r Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

// Upload sends the file at local to destURL with headers and returns the
// response status. Any response, 4xx and 5xx included, is a result; only
// transport failures and an unreadable local file are errors.
func (s *Service) Upload(ctx context.Context, local storage.ManagedPath, destURL string, headers models.TransferHeaders) (int, error) {
	rec := &models.TransferRecord{
		Direction: models.TransferDirectionUpload,
		URL:       redactRawURL(destURL),
		LocalPath: local.Abs(),
		StartedAt: s.now(),
	}

	code, size, err := s.upload(ctx, local, destURL, headers)
	rec.StatusCode = code
	rec.Bytes = size
	s.record(ctx, rec, err)
	return code, err
}

func (s *Service) upload(ctx context.Context, local storage.ManagedPath, destURL string, headers models.TransferHeaders) (int, int64, error) {
	const op = "upload"

	u, err := parseRemoteURL(op, destURL)
	if err != nil {
		return 0, 0, err
	}
	if local.IsZero() {
		return 0, 0, apperr.Invalid(op, "", "unresolved local path")
	}

	f, err := os.Open(local.Abs())
	if err != nil {
		s.logger.Warn("Failed to open file for upload",
			zap.String("path", local.Abs()),
			zap.Error(err))
		return 0, 0, apperr.New(apperr.ErrFileUnreadable, op, local.Abs(), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, apperr.New(apperr.ErrFileUnreadable, op, local.Abs(), err)
	}
	if info.IsDir() {
		return 0, 0, apperr.New(apperr.ErrFileUnreadable, op, local.Abs(), errors.New("path is a directory"))
	}

	req, err := http.NewRequestWithContext(ctx, s.cfg.UploadMethod, u.String(), f)
	if err != nil {
		return 0, 0, apperr.New(apperr.ErrInvalidPath, op, redactURL(u), err)
	}
	req.ContentLength = info.Size()
	if info.Size() == 0 {
		req.Body = http.NoBody
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return os.Open(local.Abs())
	}
	s.applyHeaders(req, headers)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("Upload request failed",
			zap.String("url", redactURL(u)),
			zap.String("path", local.Abs()),
			zap.Error(stripURL(err)))
		return 0, 0, apperr.New(apperr.ErrNetwork, op, redactURL(u), stripURL(err))
	}
	defer drainAndClose(resp.Body)

	s.logger.Debug("Upload finished",
		zap.String("url", redactURL(u)),
		zap.String("path", local.Abs()),
		zap.Int64("size", info.Size()),
		zap.Int("status", resp.StatusCode))

	return resp.StatusCode, info.Size(), nil
}

// Download fetches srcURL into a new file called fileName inside the
// decrypted folder. An existing file of that name is kept and the download
// gets the next free "name (n).ext". Nothing is left behind on failure.
func (s *Service) Download(ctx context.Context, srcURL, fileName string, headers models.TransferHeaders) (storage.ManagedPath, error) {
	rec := &models.TransferRecord{
		Direction: models.TransferDirectionDownload,
		URL:       redactRawURL(srcURL),
		StartedAt: s.now(),
	}

	p, code, size, err := s.download(ctx, srcURL, fileName, headers)
	rec.LocalPath = p.Abs()
	rec.StatusCode = code
	rec.Bytes = size
	s.record(ctx, rec, err)
	return p, err
}

func (s *Service) download(ctx context.Context, srcURL, fileName string, headers models.TransferHeaders) (storage.ManagedPath, int, int64, error) {
	const op = "download"

	if err := storage.ValidateFileName(fileName); err != nil {
		return storage.ManagedPath{}, 0, 0, err
	}
	u, err := parseRemoteURL(op, srcURL)
	if err != nil {
		return storage.ManagedPath{}, 0, 0, err
	}

	folder, err := s.folders.DecryptedFolder(ctx)
	if err != nil {
		return storage.ManagedPath{}, 0, 0, apperr.New(apperr.ErrWriteFailure, op, fileName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return storage.ManagedPath{}, 0, 0, apperr.New(apperr.ErrInvalidPath, op, redactURL(u), err)
	}
	s.applyHeaders(req, headers)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("Download request failed",
			zap.String("url", redactURL(u)),
			zap.Error(stripURL(err)))
		return storage.ManagedPath{}, 0, 0, apperr.New(apperr.ErrNetwork, op, redactURL(u), stripURL(err))
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Warn("Download returned non-2xx status",
			zap.Int("status", resp.StatusCode),
			zap.String("url", redactURL(u)))
		return storage.ManagedPath{}, resp.StatusCode, 0, apperr.New(apperr.ErrNetwork, op, redactURL(u),
			&StatusError{StatusCode: resp.StatusCode, Status: resp.Status})
	}

	p, n, err := s.files.SaveStream(folder, fileName, resp.Body)
	if err != nil {
		s.logger.Error("Failed to store downloaded file",
			zap.String("url", redactURL(u)),
			zap.String("file_name", fileName),
			zap.Int64("bytes_received", n),
			zap.Error(err))
		if errors.Is(err, storage.ErrSourceRead) {
			return storage.ManagedPath{}, resp.StatusCode, n, apperr.New(apperr.ErrNetwork, op, redactURL(u), err)
		}
		return storage.ManagedPath{}, resp.StatusCode, n, err
	}

	s.logger.Info("Download completed successfully",
		zap.String("url", redactURL(u)),
		zap.String("file_path", p.Abs()),
		zap.Int64("file_size", n))

	return p, resp.StatusCode, n, nil
}

// applyHeaders copies caller headers verbatim, without canonicalising names.
// Host and User-Agent are the exceptions: net/http only honours their
// canonical forms.
func (s *Service) applyHeaders(req *http.Request, headers models.TransferHeaders) {
	hasUA := false
	for k, v := range headers {
		switch {
		case strings.EqualFold(k, "Host"):
			req.Host = v
			continue
		case strings.EqualFold(k, "User-Agent"):
			hasUA = true
			req.Header.Set("User-Agent", v)
			continue
		}
		req.Header[k] = []string{v}
	}
	if !hasUA && s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
}

func (s *Service) record(ctx context.Context, rec *models.TransferRecord, err error) {
	s.mu.RLock()
	recorder := s.recorder
	s.mu.RUnlock()
	if recorder == nil {
		return
	}

	finished := s.now()
	rec.FinishedAt = &finished
	rec.Status = models.TransferStatusCompleted
	if err != nil {
		rec.Status = models.TransferStatusFailed
		rec.ErrorMessage = err.Error()
	}

	if rerr := recorder.Record(context.WithoutCancel(ctx), rec); rerr != nil {
		s.logger.Warn("Failed to record transfer",
			zap.String("direction", rec.Direction),
			zap.String("url", rec.URL),
			zap.Error(rerr))
	}
}

func parseRemoteURL(op, raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperr.Invalid(op, raw, "empty url")
	}
	safe := redactRawURL(raw)
	u, err := url.Parse(raw)
	if err != nil {
		// url.Error repeats the raw input
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, apperr.New(apperr.ErrInvalidPath, op, safe, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apperr.Invalid(op, safe, "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, apperr.Invalid(op, safe, "missing host")
	}
	return u, nil
}

// redactURL drops credentials, query and fragment, which commonly carry
// tokens such as presigned signatures.
func redactURL(u *url.URL) string {
	c := *u
	c.User = nil
	c.RawQuery = ""
	c.ForceQuery = false
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

func redactRawURL(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return redactURL(u)
	}
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.LastIndex(raw, "@"); i >= 0 {
		if j := strings.Index(raw, "://"); j >= 0 && j < i {
			raw = raw[:j+3] + raw[i+1:]
		}
	}
	return raw
}

// stripURL unwraps the *url.Error returned by the client so the full URL
// does not reach logs or the transfer log through the error text.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxDrain))
	_ = body.Close()
}
