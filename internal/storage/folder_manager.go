package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/garyjia/mailfiles/internal/apperr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ManagedFolder is one of the two managed roots. It exists on disk once it has
// been returned by FolderManager.
type ManagedFolder struct {
	role Role
	path string
}

// Path returns the absolute folder location.
func (f ManagedFolder) Path() string { return f.path }

// Role returns RoleEncrypted or RoleDecrypted.
func (f ManagedFolder) Role() Role { return f.role }

// Join returns the member path for a single file name.
func (f ManagedFolder) Join(name string) (ManagedPath, error) {
	if err := ValidateFileName(name); err != nil {
		return ManagedPath{}, err
	}
	return ManagedPath{abs: filepath.Join(f.path, name), role: f.role}, nil
}

// FolderManager lazily creates the encrypted and decrypted folders and caches
// them for the life of the process.
type FolderManager struct {
	resolver *PathResolver
	logger   *zap.Logger
	mkdirAll func(path string, perm os.FileMode) error

	mu     sync.Mutex
	ready  map[Role]ManagedFolder
	flight singleflight.Group
}

// NewFolderManager creates a new FolderManager
func NewFolderManager(resolver *PathResolver, logger *zap.Logger) *FolderManager {
	return &FolderManager{
		resolver: resolver,
		logger:   logger,
		mkdirAll: os.MkdirAll,
		ready:    make(map[Role]ManagedFolder, 2),
	}
}

// EncryptedFolder returns the folder for at-rest blobs, creating it on first use.
func (m *FolderManager) EncryptedFolder(ctx context.Context) (ManagedFolder, error) {
	return m.folder(ctx, RoleEncrypted)
}

// DecryptedFolder returns the working folder for opened attachments, creating
// it on first use.
func (m *FolderManager) DecryptedFolder(ctx context.Context) (ManagedFolder, error) {
	return m.folder(ctx, RoleDecrypted)
}

// FolderExists checks whether the folder for role is present on disk.
// Does not create it.
func (m *FolderManager) FolderExists(role Role) bool {
	info, err := os.Stat(m.resolver.FolderPath(role))
	if err != nil {
		return false
	}
	return info.IsDir()
}

func (m *FolderManager) cached(role Role) (ManagedFolder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.ready[role]
	return f, ok
}

// folder collapses concurrent first accesses into a single creation. The cache
// is re-checked inside the flight so a caller arriving after the flight ended
// never creates the directory a second time. Failures are not cached.
func (m *FolderManager) folder(ctx context.Context, role Role) (ManagedFolder, error) {
	if f, ok := m.cached(role); ok {
		return m.confined(f)
	}

	path := m.resolver.FolderPath(role)
	ch := m.flight.DoChan(role.String(), func() (any, error) {
		if f, ok := m.cached(role); ok {
			return f, nil
		}

		if err := m.mkdirAll(path, 0o700); err != nil {
			m.logger.Error("Failed to create managed folder",
				zap.String("role", role.String()),
				zap.String("folder_path", path),
				zap.Error(err))
			return nil, apperr.New(apperr.ErrFolderCreation, "create folder", path, err)
		}

		f := ManagedFolder{role: role, path: path}
		m.mu.Lock()
		m.ready[role] = f
		m.mu.Unlock()

		m.logger.Debug("Managed folder ready",
			zap.String("role", role.String()),
			zap.String("folder_path", path))
		return f, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return ManagedFolder{}, res.Err
		}
		return m.confined(res.Val.(ManagedFolder))
	case <-ctx.Done():
		return ManagedFolder{}, apperr.New(apperr.ErrFolderCreation, "create folder", path, ctx.Err())
	}
}

// confined re-checks the folder on every use since it may have been swapped
// for a link after creation.
func (m *FolderManager) confined(f ManagedFolder) (ManagedFolder, error) {
	if err := m.resolver.verify(f.path); err != nil {
		m.logger.Error("Managed folder leaves the sandbox",
			zap.String("role", f.role.String()),
			zap.String("folder_path", f.path),
			zap.Error(err))
		return ManagedFolder{}, err
	}
	return f, nil
}

// ValidateFileName accepts a single path element suitable for a file inside a
// managed folder.
func ValidateFileName(name string) error {
	const op = "validate name"

	switch {
	case strings.TrimSpace(name) == "":
		return apperr.Invalid(op, name, "empty file name")
	case name == "." || name == "..":
		return apperr.Invalid(op, name, "reserved file name")
	case strings.ContainsAny(name, `/\`):
		return apperr.Invalid(op, name, "file name contains a path separator")
	case strings.ContainsRune(name, 0):
		return apperr.Invalid(op, name, "file name contains NUL byte")
	}
	return nil
}
