// Package storage resolves sandbox paths and owns the two managed folders
// (encrypted at-rest blobs and decrypted working copies).
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/garyjia/mailfiles/internal/apperr"
)

// Role tells which managed folder, if any, a path belongs to.
type Role int

const (
	RoleArbitrary Role = iota
	RoleEncrypted
	RoleDecrypted
)

func (r Role) String() string {
	switch r {
	case RoleEncrypted:
		return "encrypted"
	case RoleDecrypted:
		return "decrypted"
	default:
		return "arbitrary"
	}
}

// ManagedPath is a validated location inside the sandbox root. The zero value
// is not valid; values are produced by PathResolver and FolderManager only.
type ManagedPath struct {
	abs  string
	role Role
}

// Abs returns the absolute filesystem location.
func (p ManagedPath) Abs() string { return p.abs }

// Role returns the folder role the path was classified with.
func (p ManagedPath) Role() Role { return p.role }

// Base returns the last element of the path.
func (p ManagedPath) Base() string { return filepath.Base(p.abs) }

// IsZero reports whether p was never resolved.
func (p ManagedPath) IsZero() bool { return p.abs == "" }

func (p ManagedPath) String() string { return p.abs }

// Layout names the sandbox root and the two managed subdirectories.
type Layout struct {
	Root         string
	EncryptedDir string
	DecryptedDir string
}

// Default managed subdirectory names
const (
	DefaultEncryptedDir = "encrypted"
	DefaultDecryptedDir = "decrypted"
)

// PathResolver converts strings and file URLs into ManagedPaths confined to
// the sandbox root. Resolution is lexical; Verify checks the result against
// symbolic links on disk.
type PathResolver struct {
	root      string
	encrypted string
	decrypted string
}

// NewPathResolver validates layout and returns a resolver for it.
func NewPathResolver(layout Layout) (*PathResolver, error) {
	if strings.TrimSpace(layout.Root) == "" {
		return nil, fmt.Errorf("sandbox root is required")
	}

	root, err := filepath.Abs(layout.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox root: %w", err)
	}

	if layout.EncryptedDir == "" {
		layout.EncryptedDir = DefaultEncryptedDir
	}
	if layout.DecryptedDir == "" {
		layout.DecryptedDir = DefaultDecryptedDir
	}

	encrypted, err := subdir(root, layout.EncryptedDir)
	if err != nil {
		return nil, fmt.Errorf("invalid encrypted folder: %w", err)
	}
	decrypted, err := subdir(root, layout.DecryptedDir)
	if err != nil {
		return nil, fmt.Errorf("invalid decrypted folder: %w", err)
	}
	if within(encrypted, decrypted) || within(decrypted, encrypted) {
		return nil, fmt.Errorf("encrypted and decrypted folders must not overlap")
	}

	return &PathResolver{root: root, encrypted: encrypted, decrypted: decrypted}, nil
}

func subdir(root, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%q must be relative to the sandbox root", name)
	}
	p := filepath.Join(root, name)
	if p == root || !within(root, p) {
		return "", fmt.Errorf("%q escapes the sandbox root", name)
	}
	return p, nil
}

// Root returns the absolute sandbox root.
func (r *PathResolver) Root() string { return r.root }

// FolderPath returns the absolute location of a managed folder role.
func (r *PathResolver) FolderPath(role Role) string {
	switch role {
	case RoleEncrypted:
		return r.encrypted
	case RoleDecrypted:
		return r.decrypted
	default:
		return r.root
	}
}

// Resolve validates a plain path or a file:// URL. Relative paths are taken
// relative to the sandbox root. It never touches the filesystem.
func (r *PathResolver) Resolve(pathOrURL string) (ManagedPath, error) {
	const op = "resolve"

	if pathOrURL == "" {
		return ManagedPath{}, apperr.Invalid(op, pathOrURL, "empty path")
	}
	if strings.ContainsRune(pathOrURL, 0) {
		return ManagedPath{}, apperr.Invalid(op, pathOrURL, "path contains NUL byte")
	}

	if hasScheme(pathOrURL) {
		u, err := url.Parse(pathOrURL)
		if err != nil {
			return ManagedPath{}, apperr.New(apperr.ErrInvalidPath, op, pathOrURL, err)
		}
		return r.ToPath(u)
	}

	p := pathOrURL
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.root, p)
	}
	return r.confine(op, pathOrURL, filepath.Clean(p))
}

// ToURL returns the file:// URL for p.
func (r *PathResolver) ToURL(p ManagedPath) *url.URL {
	slashed := filepath.ToSlash(p.abs)
	if !strings.HasPrefix(slashed, "/") {
		// Windows drive letters: file:///C:/...
		slashed = "/" + slashed
	}
	return &url.URL{Scheme: "file", Path: slashed}
}

// ToPath is the inverse of ToURL.
func (r *PathResolver) ToPath(u *url.URL) (ManagedPath, error) {
	const op = "to path"

	if u == nil {
		return ManagedPath{}, apperr.Invalid(op, "", "nil url")
	}
	if !strings.EqualFold(u.Scheme, "file") {
		return ManagedPath{}, apperr.Invalid(op, u.String(), "unsupported scheme %q", u.Scheme)
	}
	if u.Host != "" && u.Host != "localhost" {
		return ManagedPath{}, apperr.Invalid(op, u.String(), "remote file host %q", u.Host)
	}
	if u.Path == "" {
		return ManagedPath{}, apperr.Invalid(op, u.String(), "empty path")
	}

	p := u.Path
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	p = filepath.FromSlash(p)
	if !filepath.IsAbs(p) {
		return ManagedPath{}, apperr.Invalid(op, u.String(), "file url path is not absolute")
	}
	return r.confine(op, u.String(), filepath.Clean(p))
}

func (r *PathResolver) confine(op, input, abs string) (ManagedPath, error) {
	if !within(r.root, abs) {
		return ManagedPath{}, apperr.Invalid(op, input, "path escapes sandbox root")
	}
	return ManagedPath{abs: abs, role: r.classify(abs)}, nil
}

// Verify follows symbolic links along p and fails with ErrInvalidPath when the
// real location leaves the real sandbox root. Components that do not exist yet
// are taken as written. Dangling links are refused.
func (r *PathResolver) Verify(p ManagedPath) error {
	if p.IsZero() {
		return apperr.Invalid("verify", "", "unresolved path")
	}
	return r.verify(p.abs)
}

func (r *PathResolver) verify(abs string) error {
	const op = "verify"

	realRoot, err := filepath.EvalSymlinks(r.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return apperr.FromOS(op, r.root, err, apperr.ErrAccessDenied)
	}

	existing, rest := abs, ""
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			if !within(realRoot, filepath.Join(resolved, rest)) {
				return apperr.Invalid(op, abs, "symbolic link escapes sandbox root")
			}
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTDIR) {
			return apperr.FromOS(op, abs, err, apperr.ErrAccessDenied)
		}
		if info, lerr := os.Lstat(existing); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
			return apperr.Invalid(op, abs, "dangling symbolic link")
		}

		parent := filepath.Dir(existing)
		if parent == existing {
			return nil
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
}

func (r *PathResolver) classify(abs string) Role {
	switch {
	case within(r.encrypted, abs):
		return RoleEncrypted
	case within(r.decrypted, abs):
		return RoleDecrypted
	default:
		return RoleArbitrary
	}
}

// within reports whether p equals base or lies beneath it. Both must be clean.
func within(base, p string) bool {
	if p == base {
		return true
	}
	prefix := base
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

func hasScheme(s string) bool {
	i := strings.Index(s, "://")
	if i <= 0 {
		return strings.HasPrefix(strings.ToLower(s), "file:")
	}
	for _, c := range s[:i] {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.') {
			return false
		}
	}
	return true
}
