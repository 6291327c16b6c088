package fileutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/mailfiles/internal/apperr"
	"github.com/garyjia/mailfiles/internal/lifecycle"
	"github.com/garyjia/mailfiles/internal/metadata"
	"github.com/garyjia/mailfiles/internal/models"
	"github.com/garyjia/mailfiles/internal/storage"
	"github.com/garyjia/mailfiles/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type openedViewer struct{ paths chan string }

func (v *openedViewer) Open(_ context.Context, path string) error {
	v.paths <- path
	return nil
}

func newTestFileUtil(t *testing.T) (*FileUtil, string, *openedViewer) {
	t.Helper()
	logger := zap.NewNop()
	root := t.TempDir()

	resolver, err := storage.NewPathResolver(storage.Layout{Root: root})
	require.NoError(t, err)
	folders := storage.NewFolderManager(resolver, logger)
	files := storage.NewFileStorage(logger)
	meta := metadata.NewService(logger)
	viewer := &openedViewer{paths: make(chan string, 1)}
	life := lifecycle.NewService(viewer, meta, files, logger)
	transfers := transfer.NewService(transfer.NewHTTPClient(5*time.Second), folders, files, transfer.Config{}, logger)

	return New(resolver, folders, meta, life, transfers, logger), root, viewer
}

func TestFileUtil_Metadata(t *testing.T) {
	fu, root, _ := newTestFileUtil(t)
	ctx := context.Background()
	path := filepath.Join(root, "message.eml")
	require.NoError(t, os.WriteFile(path, []byte("Subject: hi\r\n\r\n"), 0o600))

	name, err := fu.GetNameForPath(ctx, path).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "message.eml", name)

	mt, err := fu.GetMimeTypeForPath(ctx, path).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "message/rfc822", mt)

	size, err := fu.GetSizeForPath(ctx, path).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15), size)

	meta, err := fu.GetMetadataForPath(ctx, path).Await(ctx)
	require.NoError(t, err)
	assert.True(t, meta.Complete())
}

func TestFileUtil_InvalidPathIsDeliveredAsynchronously(t *testing.T) {
	fu, _, _ := newTestFileUtil(t)
	ctx := context.Background()

	f := fu.GetSizeForPath(ctx, "../../outside")

	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, apperr.ErrInvalidPath)

	_, err = fu.OpenFileAtPath(ctx, "").Await(ctx)
	assert.ErrorIs(t, err, apperr.ErrInvalidPath)
}

func TestFileUtil_OpenAndDelete(t *testing.T) {
	fu, root, viewer := newTestFileUtil(t)
	ctx := context.Background()
	path := filepath.Join(root, "decrypted", "a.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o600))

	_, err := fu.OpenFileAtPath(ctx, path).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, path, <-viewer.paths)

	assert.True(t, fu.FileExistsAtPath(path))
	_, err = fu.DeleteFileAtPath(ctx, path).Await(ctx)
	require.NoError(t, err)
	assert.False(t, fu.FileExistsAtPath(path))

	// idempotent
	_, err = fu.DeleteFileAtPath(ctx, path).Await(ctx)
	assert.NoError(t, err)
}

func TestFileUtil_FileExistsAtPath_NeverFails(t *testing.T) {
	fu, _, _ := newTestFileUtil(t)

	assert.False(t, fu.FileExistsAtPath(""))
	assert.False(t, fu.FileExistsAtPath("/etc/passwd"))
	assert.False(t, fu.FileExistsAtPath("file:///%zz"))
	assert.False(t, fu.FileExistsAtPath("never/created.txt"))
}

func TestFileUtil_Folders(t *testing.T) {
	fu, root, _ := newTestFileUtil(t)
	ctx := context.Background()

	enc, err := fu.EncryptedFolder(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "encrypted"), enc)
	assert.DirExists(t, enc)

	dec, err := fu.DecryptedFolder(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "decrypted"), dec)
	assert.DirExists(t, dec)
}

func TestFileUtil_URLConversion(t *testing.T) {
	fu, root, _ := newTestFileUtil(t)
	path := filepath.Join(root, "decrypted", "my file.pdf")

	u, err := fu.URLFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "file", u.Scheme)

	back, err := fu.PathFromURL(u)
	require.NoError(t, err)
	assert.Equal(t, path, back)

	_, err = fu.PathFromURL(&url.URL{Scheme: "https", Host: "example.com"})
	assert.ErrorIs(t, err, apperr.ErrInvalidPath)
}

func TestFileUtil_Transfers(t *testing.T) {
	fu, root, _ := newTestFileUtil(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(http.StatusNotFound)
		default:
			_, _ = w.Write([]byte("attachment body"))
		}
	}))
	defer srv.Close()

	local := filepath.Join(root, "encrypted", "blob")
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0o700))
	require.NoError(t, os.WriteFile(local, []byte("0123456789"), 0o600))

	code, err := fu.UploadFileAtPath(ctx, local, srv.URL, models.TransferHeaders{"v": "1"}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, code)

	first, err := fu.DownloadFileFromURL(ctx, srv.URL, "report.pdf", nil).Await(ctx)
	require.NoError(t, err)
	second, err := fu.DownloadFileFromURL(ctx, srv.URL, "report.pdf", nil).Await(ctx)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "decrypted", "report.pdf"), first)
	assert.Equal(t, filepath.Join(root, "decrypted", "report (1).pdf"), second)
}

func TestFileUtil_DeleteRefusesManagedFolders(t *testing.T) {
	fu, root, _ := newTestFileUtil(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("attachment body"))
	}))
	defer srv.Close()

	dec, err := fu.DecryptedFolder(ctx)
	require.NoError(t, err)
	enc, err := fu.EncryptedFolder(ctx)
	require.NoError(t, err)

	for _, dir := range []string{dec, enc, root, "."} {
		_, err := fu.DeleteFileAtPath(ctx, dir).Await(ctx)
		assert.ErrorIs(t, err, apperr.ErrInvalidPath, dir)
	}
	assert.DirExists(t, dec)
	assert.DirExists(t, enc)

	got, err := fu.DownloadFileFromURL(ctx, srv.URL, "after.txt", nil).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dec, "after.txt"), got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "attachment body", string(data))
}

func TestFileUtil_SymlinkOutOfSandbox(t *testing.T) {
	fu, root, viewer := newTestFileUtil(t)
	ctx := context.Background()

	outside := filepath.Join(t.TempDir(), "private.key")
	require.NoError(t, os.WriteFile(outside, []byte("do not send"), 0o600))
	link := filepath.Join(root, "encrypted", "innocent.bin")
	require.NoError(t, os.MkdirAll(filepath.Dir(link), 0o700))
	require.NoError(t, os.Symlink(outside, link))

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	_, err := fu.GetSizeForPath(ctx, link).Await(ctx)
	assert.ErrorIs(t, err, apperr.ErrInvalidPath)

	_, err = fu.GetMetadataForPath(ctx, link).Await(ctx)
	assert.ErrorIs(t, err, apperr.ErrInvalidPath)

	assert.False(t, fu.FileExistsAtPath(link))

	_, err = fu.UploadFileAtPath(ctx, link, srv.URL, nil).Await(ctx)
	assert.ErrorIs(t, err, apperr.ErrInvalidPath)
	assert.Zero(t, hits.Load())

	_, err = fu.OpenFileAtPath(ctx, link).Await(ctx)
	assert.ErrorIs(t, err, apperr.ErrInvalidPath)
	assert.Empty(t, viewer.paths)

	_, err = fu.DeleteFileAtPath(ctx, link).Await(ctx)
	assert.ErrorIs(t, err, apperr.ErrInvalidPath)
	assert.FileExists(t, outside)
}
