// internal/storage/file_storage.go
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/garyjia/mailfiles/internal/apperr"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSourceRead marks a SaveStream failure caused by the reader rather than
// the destination.
var ErrSourceRead = errors.New("reading source failed")

// partialSuffix names in-flight files; they are never reported as results.
const partialSuffix = ".partial"

// maxNameAttempts bounds the collision-avoidance sequence.
const maxNameAttempts = 10000

// FileStorage writes into and removes from managed folders.
type FileStorage struct {
	logger *zap.Logger
	newID  func() string
}

// NewFileStorage creates a new FileStorage
func NewFileStorage(logger *zap.Logger) *FileStorage {
	return &FileStorage{
		logger: logger,
		newID:  func() string { return uuid.NewString() },
	}
}

// SaveStream copies r into folder under name. Data is written to a hidden
// partial file first and renamed into place only after the copy succeeded, so
// a failed save leaves nothing behind. An existing file is never overwritten:
// the first free name of "name.ext", "name (1).ext", "name (2).ext", ... wins.
func (s *FileStorage) SaveStream(folder ManagedFolder, name string, r io.Reader) (ManagedPath, int64, error) {
	const op = "save"

	if err := ValidateFileName(name); err != nil {
		return ManagedPath{}, 0, err
	}

	partial := filepath.Join(folder.path, "."+s.newID()+partialSuffix)
	f, err := os.OpenFile(partial, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		s.logger.Error("Failed to create partial file",
			zap.String("path", partial),
			zap.Error(err))
		return ManagedPath{}, 0, apperr.New(apperr.ErrWriteFailure, op, partial, err)
	}

	src := &trackingReader{r: r}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		s.removeQuietly(partial)
		if src.err != nil {
			return ManagedPath{}, n, fmt.Errorf("%w: %w", ErrSourceRead, src.err)
		}
		return ManagedPath{}, n, apperr.New(apperr.ErrWriteFailure, op, partial, errors.Join(copyErr, closeErr))
	}

	target, err := claimName(folder.path, name)
	if err != nil {
		s.removeQuietly(partial)
		s.logger.Error("Failed to reserve destination name",
			zap.String("folder", folder.path),
			zap.String("name", name),
			zap.Error(err))
		return ManagedPath{}, n, apperr.New(apperr.ErrWriteFailure, op, filepath.Join(folder.path, name), err)
	}

	if err := os.Rename(partial, target); err != nil {
		s.removeQuietly(partial)
		s.removeQuietly(target)
		s.logger.Error("Failed to move partial file into place",
			zap.String("partial", partial),
			zap.String("target", target),
			zap.Error(err))
		return ManagedPath{}, n, apperr.New(apperr.ErrWriteFailure, op, target, err)
	}

	s.logger.Debug("File saved successfully",
		zap.String("path", target),
		zap.Int64("size", n))

	return ManagedPath{abs: target, role: folder.role}, n, nil
}

// Remove deletes the file at p. A missing file counts as removed.
// Directories, including the managed folders and the sandbox root, are
// refused.
func (s *FileStorage) Remove(p ManagedPath) error {
	info, err := os.Lstat(p.abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return apperr.FromOS("delete", p.abs, err, apperr.ErrAccessDenied)
	}
	if info.IsDir() {
		s.logger.Warn("Refusing to delete directory", zap.String("path", p.abs))
		return apperr.Invalid("delete", p.abs, "is a directory")
	}

	if err := os.Remove(p.abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		s.logger.Error("Failed to delete file",
			zap.String("path", p.abs),
			zap.Error(err))
		return apperr.FromOS("delete", p.abs, err, apperr.ErrAccessDenied)
	}

	s.logger.Debug("File deleted successfully", zap.String("path", p.abs))
	return nil
}

func (s *FileStorage) removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("Failed to clean up file",
			zap.String("path", path),
			zap.Error(err))
	}
}

// claimName atomically creates an empty placeholder at the first free
// candidate name and returns its path.
func claimName(dir, name string) (string, error) {
	for n := 0; n < maxNameAttempts; n++ {
		candidate := filepath.Join(dir, UniqueName(name, n))
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			return candidate, f.Close()
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free name for %q after %d attempts", name, maxNameAttempts)
}

// UniqueName returns the n-th candidate for name: n == 0 is name itself,
// otherwise " (n)" is inserted before the extension.
func UniqueName(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		// dotfile such as ".mailrc"
		base, ext = name, ""
	}
	return fmt.Sprintf("%s (%d)%s", base, n, ext)
}

// trackingReader remembers the reader's own error so write-side and
// read-side failures of io.Copy can be told apart.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
