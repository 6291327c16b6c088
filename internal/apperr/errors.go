// Package apperr defines the error taxonomy shared by the file and transfer
// services. Every failure surfaced to a caller carries exactly one kind
// sentinel, which callers test with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

var (
	// Path errors
	ErrInvalidPath  = errors.New("invalid path")
	ErrNotFound     = errors.New("file not found")
	ErrAccessDenied = errors.New("access denied")

	// Metadata errors
	ErrUndetermined = errors.New("mime type could not be determined")

	// Folder errors
	ErrFolderCreation = errors.New("failed to create managed folder")

	// Transfer errors
	ErrNetwork        = errors.New("network error")
	ErrFileUnreadable = errors.New("file unreadable")
	ErrWriteFailure   = errors.New("write failure")

	// Lifecycle errors
	ErrNoViewerAvailable = errors.New("no viewer available")
)

// Error describes a failed operation on a path or URL.
type Error struct {
	Op   string // operation name, e.g. "download"
	Path string // path or URL the operation acted on
	Kind error  // one of the Err* sentinels
	Err  error  // underlying cause, may be nil
}

// New builds an *Error.
func New(kind error, op, path string, err error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	msg := e.Op + " " + e.Path + ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// FromOS classifies a filesystem error. Anything that is neither a missing
// file nor a permission failure is reported with the fallback kind. A path
// running through a regular file ("a.txt/b") counts as missing.
func FromOS(op, path string, err error, fallback error) *Error {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return New(ErrNotFound, op, path, err)
	case errors.Is(err, fs.ErrPermission):
		return New(ErrAccessDenied, op, path, err)
	default:
		return New(fallback, op, path, err)
	}
}

// KindOf returns the kind sentinel carried by err, or nil when err is not
// part of the taxonomy.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, k := range []error{
		ErrInvalidPath, ErrNotFound, ErrAccessDenied, ErrUndetermined,
		ErrFolderCreation, ErrNetwork, ErrFileUnreadable, ErrWriteFailure,
		ErrNoViewerAvailable,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Invalid is shorthand for an ErrInvalidPath failure with a formatted reason.
func Invalid(op, path, format string, args ...any) *Error {
	return New(ErrInvalidPath, op, path, fmt.Errorf(format, args...))
}
