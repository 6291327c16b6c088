// Package fileutil is the caller-facing operation set: every file and
// transfer operation runs asynchronously and completes exactly once through
// an async.Future. Validation failures travel the same way, so callers have a
// single place to handle errors.
package fileutil

import (
	"context"
	"net/url"

	"github.com/garyjia/mailfiles/internal/async"
	"github.com/garyjia/mailfiles/internal/lifecycle"
	"github.com/garyjia/mailfiles/internal/metadata"
	"github.com/garyjia/mailfiles/internal/models"
	"github.com/garyjia/mailfiles/internal/storage"
	"github.com/garyjia/mailfiles/internal/transfer"
	"go.uber.org/zap"
)

// FileUtil wires the path, folder, metadata, lifecycle and transfer services.
type FileUtil struct {
	resolver  *storage.PathResolver
	folders   *storage.FolderManager
	metadata  *metadata.Service
	lifecycle *lifecycle.Service
	transfers *transfer.Service
	logger    *zap.Logger
}

// New creates a FileUtil from its collaborators.
func New(
	resolver *storage.PathResolver,
	folders *storage.FolderManager,
	meta *metadata.Service,
	life *lifecycle.Service,
	transfers *transfer.Service,
	logger *zap.Logger,
) *FileUtil {
	return &FileUtil{
		resolver:  resolver,
		folders:   folders,
		metadata:  meta,
		lifecycle: life,
		transfers: transfers,
		logger:    logger,
	}
}

// OpenFileAtPath hands the file to the platform viewer.
func (u *FileUtil) OpenFileAtPath(ctx context.Context, path string) *async.Future[struct{}] {
	return withPath(u, path, func(p storage.ManagedPath) (struct{}, error) {
		return struct{}{}, u.lifecycle.Open(ctx, p)
	})
}

// DeleteFileAtPath removes the file. A missing file completes successfully.
func (u *FileUtil) DeleteFileAtPath(ctx context.Context, path string) *async.Future[struct{}] {
	return withPath(u, path, func(p storage.ManagedPath) (struct{}, error) {
		return struct{}{}, u.lifecycle.Delete(ctx, p)
	})
}

// GetNameForPath resolves the display name.
func (u *FileUtil) GetNameForPath(ctx context.Context, path string) *async.Future[string] {
	return withPath(u, path, func(p storage.ManagedPath) (string, error) {
		return u.metadata.Name(ctx, p)
	})
}

// GetMimeTypeForPath resolves a best-effort MIME type.
func (u *FileUtil) GetMimeTypeForPath(ctx context.Context, path string) *async.Future[string] {
	return withPath(u, path, func(p storage.ManagedPath) (string, error) {
		return u.metadata.MimeType(ctx, p)
	})
}

// GetSizeForPath resolves the size in bytes.
func (u *FileUtil) GetSizeForPath(ctx context.Context, path string) *async.Future[int64] {
	return withPath(u, path, func(p storage.ManagedPath) (int64, error) {
		return u.metadata.Size(ctx, p)
	})
}

// GetMetadataForPath resolves name, MIME type and size together. Lookup
// failures stay inside the tuple; only an invalid path fails the future.
func (u *FileUtil) GetMetadataForPath(ctx context.Context, path string) *async.Future[models.FileMetadata] {
	return async.Go(func() (models.FileMetadata, error) {
		p, err := u.resolve(path)
		if err != nil {
			return models.FileMetadata{}, err
		}
		return u.metadata.Describe(ctx, p), nil
	})
}

// UploadFileAtPath sends the file to urlString and completes with the HTTP
// status of whatever response arrived.
func (u *FileUtil) UploadFileAtPath(ctx context.Context, path, urlString string, headers models.TransferHeaders) *async.Future[int] {
	headers = headers.Clone()
	return withPath(u, path, func(p storage.ManagedPath) (int, error) {
		return u.transfers.Upload(ctx, p, urlString, headers)
	})
}

// DownloadFileFromURL fetches urlString into the decrypted folder as fileName
// and completes with the path actually written.
func (u *FileUtil) DownloadFileFromURL(ctx context.Context, urlString, fileName string, headers models.TransferHeaders) *async.Future[string] {
	headers = headers.Clone()
	return async.Go(func() (string, error) {
		p, err := u.transfers.Download(ctx, urlString, fileName, headers)
		if err != nil {
			return "", err
		}
		return p.Abs(), nil
	})
}

// EncryptedFolder returns the encrypted folder path, creating it if needed.
func (u *FileUtil) EncryptedFolder(ctx context.Context) (string, error) {
	f, err := u.folders.EncryptedFolder(ctx)
	if err != nil {
		return "", err
	}
	return f.Path(), nil
}

// DecryptedFolder returns the decrypted folder path, creating it if needed.
func (u *FileUtil) DecryptedFolder(ctx context.Context) (string, error) {
	f, err := u.folders.DecryptedFolder(ctx)
	if err != nil {
		return "", err
	}
	return f.Path(), nil
}

// FileExistsAtPath never fails: unresolvable paths do not exist.
func (u *FileUtil) FileExistsAtPath(path string) bool {
	p, err := u.resolve(path)
	if err != nil {
		return false
	}
	return u.metadata.Exists(p)
}

// URLFromPath converts a sandbox path to its file URL.
func (u *FileUtil) URLFromPath(path string) (*url.URL, error) {
	p, err := u.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	return u.resolver.ToURL(p), nil
}

// PathFromURL converts a file URL back to its sandbox path.
func (u *FileUtil) PathFromURL(fileURL *url.URL) (string, error) {
	p, err := u.resolver.ToPath(fileURL)
	if err != nil {
		return "", err
	}
	return p.Abs(), nil
}

func withPath[T any](u *FileUtil, path string, fn func(storage.ManagedPath) (T, error)) *async.Future[T] {
	return async.Go(func() (T, error) {
		p, err := u.resolve(path)
		if err != nil {
			u.logger.Debug("Rejected path", zap.String("path", path), zap.Error(err))
			var zero T
			return zero, err
		}
		return fn(p)
	})
}

// resolve confines path lexically and then against symbolic links on disk.
func (u *FileUtil) resolve(path string) (storage.ManagedPath, error) {
	p, err := u.resolver.Resolve(path)
	if err != nil {
		return storage.ManagedPath{}, err
	}
	if err := u.resolver.Verify(p); err != nil {
		return storage.ManagedPath{}, err
	}
	return p, nil
}
