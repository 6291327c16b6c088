// Package metadata answers existence, name, MIME type and size queries for
// any path inside the sandbox.
package metadata

import (
	"context"
	"errors"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/garyjia/mailfiles/internal/apperr"
	"github.com/garyjia/mailfiles/internal/models"
	"github.com/garyjia/mailfiles/internal/storage"
	"go.uber.org/zap"
)

// OctetStream is the explicit fallback for content nothing else recognises.
const OctetStream = "application/octet-stream"

// mailTypes covers extensions common in a mail client that the platform MIME
// tables frequently lack.
var mailTypes = map[string]string{
	".eml":  "message/rfc822",
	".mbox": "application/mbox",
	".msg":  "application/vnd.ms-outlook",
	".ics":  "text/calendar",
	".vcf":  "text/vcard",
	".p7m":  "application/pkcs7-mime",
	".p7s":  "application/pkcs7-signature",
	".asc":  "application/pgp-encrypted",
	".gpg":  "application/pgp-encrypted",
}

// Service answers metadata queries.
type Service struct {
	logger *zap.Logger
}

// NewService creates a new metadata Service
func NewService(logger *zap.Logger) *Service {
	return &Service{logger: logger}
}

// Exists reports whether anything is present at p. Absence is an answer,
// not an error.
func (s *Service) Exists(p storage.ManagedPath) bool {
	if p.IsZero() {
		return false
	}
	_, err := os.Stat(p.Abs())
	return err == nil
}

// Name returns the display name of the file at p.
func (s *Service) Name(ctx context.Context, p storage.ManagedPath) (string, error) {
	if _, err := s.stat(ctx, "name", p); err != nil {
		return "", err
	}
	return p.Base(), nil
}

// Size returns the size in bytes of the file at p.
func (s *Service) Size(ctx context.Context, p storage.ManagedPath) (int64, error) {
	info, err := s.stat(ctx, "size", p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// MimeType returns a best-effort MIME type for the file at p: the extension is
// consulted first, then the content is sniffed. Unrecognised content yields
// application/octet-stream.
func (s *Service) MimeType(ctx context.Context, p storage.ManagedPath) (string, error) {
	const op = "mime type"

	info, err := s.stat(ctx, op, p)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", apperr.New(apperr.ErrUndetermined, op, p.Abs(), errors.New("path is a directory"))
	}

	if mt := byExtension(p.Abs()); mt != "" {
		return mt, nil
	}

	detected, err := mimetype.DetectFile(p.Abs())
	if err != nil {
		s.logger.Warn("Failed to sniff file content",
			zap.String("path", p.Abs()),
			zap.Error(err))
		return "", apperr.FromOS(op, p.Abs(), err, apperr.ErrUndetermined)
	}
	if detected.String() == "" {
		return OctetStream, nil
	}

	s.logger.Debug("Detected mime type from content",
		zap.String("path", p.Abs()),
		zap.String("mime_type", detected.String()))
	return detected.String(), nil
}

// Describe collects name, MIME type and size in one call. Fields that could
// not be resolved stay nil and their errors are joined into Err.
func (s *Service) Describe(ctx context.Context, p storage.ManagedPath) models.FileMetadata {
	var meta models.FileMetadata
	var errs []error

	if name, err := s.Name(ctx, p); err != nil {
		errs = append(errs, err)
	} else {
		meta.Name = &name
	}

	if mt, err := s.MimeType(ctx, p); err != nil {
		errs = append(errs, err)
	} else {
		meta.MimeType = &mt
	}

	if size, err := s.Size(ctx, p); err != nil {
		errs = append(errs, err)
	} else {
		meta.Size = &size
	}

	meta.Err = errors.Join(errs...)
	return meta
}

func (s *Service) stat(ctx context.Context, op string, p storage.ManagedPath) (os.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.IsZero() {
		return nil, apperr.Invalid(op, "", "unresolved path")
	}

	info, err := os.Stat(p.Abs())
	if err != nil {
		return nil, apperr.FromOS(op, p.Abs(), err, apperr.ErrAccessDenied)
	}
	return info, nil
}

func byExtension(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return ""
	}
	if mt, ok := mailTypes[ext]; ok {
		return mt
	}
	return mime.TypeByExtension(ext)
}
