// Package lifecycle opens files in a viewer and deletes them.
package lifecycle

import (
	"context"
	"errors"

	"github.com/garyjia/mailfiles/internal/apperr"
	"github.com/garyjia/mailfiles/internal/metadata"
	"github.com/garyjia/mailfiles/internal/storage"
	"go.uber.org/zap"
)

// Service opens and deletes files.
type Service struct {
	viewer  Viewer
	meta    *metadata.Service
	storage *storage.FileStorage
	logger  *zap.Logger
}

// NewService creates a new lifecycle Service. viewer may be nil, in which case
// every Open fails with ErrNoViewerAvailable.
func NewService(viewer Viewer, meta *metadata.Service, fs *storage.FileStorage, logger *zap.Logger) *Service {
	return &Service{
		viewer:  viewer,
		meta:    meta,
		storage: fs,
		logger:  logger,
	}
}

// Open hands the file at p to the viewer. Returning means the hand-off
// attempt finished, not that the user closed the viewer.
func (s *Service) Open(ctx context.Context, p storage.ManagedPath) error {
	const op = "open"

	if !s.meta.Exists(p) {
		return apperr.New(apperr.ErrNotFound, op, p.Abs(), nil)
	}
	if s.viewer == nil {
		return apperr.New(apperr.ErrNoViewerAvailable, op, p.Abs(), nil)
	}

	if err := s.viewer.Open(ctx, p.Abs()); err != nil {
		s.logger.Warn("Failed to hand file to viewer",
			zap.String("path", p.Abs()),
			zap.Error(err))
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.New(apperr.ErrNotFound, op, p.Abs(), err)
		}
		return apperr.New(apperr.ErrNoViewerAvailable, op, p.Abs(), err)
	}

	s.logger.Debug("File handed to viewer", zap.String("path", p.Abs()))
	return nil
}

// Delete removes the file at p. Deleting a missing file succeeds; directories
// are refused.
func (s *Service) Delete(ctx context.Context, p storage.ManagedPath) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.IsZero() {
		return apperr.Invalid("delete", "", "unresolved path")
	}
	return s.storage.Remove(p)
}
