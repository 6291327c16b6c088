package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/mailfiles/internal/apperr"
	"github.com/garyjia/mailfiles/internal/models"
	"github.com/garyjia/mailfiles/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type harness struct {
	svc      *Service
	resolver *storage.PathResolver
	recorder *memoryRecorder
}

func newHarness(t *testing.T, client HTTPClient) *harness {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	r, err := storage.NewPathResolver(storage.Layout{Root: t.TempDir()})
	require.NoError(t, err)

	svc := NewService(client, storage.NewFolderManager(r, logger), storage.NewFileStorage(logger),
		Config{UserAgent: "mailfiles-test"}, logger)
	rec := &memoryRecorder{}
	svc.SetRecorder(rec)
	return &harness{svc: svc, resolver: r, recorder: rec}
}

func (h *harness) writeLocal(t *testing.T, name string, content []byte) storage.ManagedPath {
	t.Helper()
	p, err := h.resolver.Resolve(name)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(p.Abs()), 0o700))
	require.NoError(t, os.WriteFile(p.Abs(), content, 0o600))
	return p
}

func (h *harness) decryptedEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.resolver.FolderPath(storage.RoleDecrypted))
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// memoryRecorder collects transfer records
type memoryRecorder struct {
	mu      sync.Mutex
	records []models.TransferRecord
}

func (m *memoryRecorder) Record(_ context.Context, rec *models.TransferRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *memoryRecorder) all() []models.TransferRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TransferRecord(nil), m.records...)
}

type capturedRequest struct {
	method string
	header http.Header
	body   []byte
	length int64
}

func capturingServer(t *testing.T, status int) (*httptest.Server, <-chan capturedRequest) {
	t.Helper()
	ch := make(chan capturedRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- capturedRequest{method: r.Method, header: r.Header.Clone(), body: body, length: r.ContentLength}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("server says hi"))
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func TestService_Upload(t *testing.T) {
	ctx := context.Background()

	t.Run("404 response is a result, not an error", func(t *testing.T) {
		srv, reqs := capturingServer(t, http.StatusNotFound)
		h := newHarness(t, NewHTTPClient(5*time.Second))
		local := h.writeLocal(t, "encrypted/blob.bin", []byte("0123456789"))

		code, err := h.svc.Upload(ctx, local, srv.URL+"/upload", models.TransferHeaders{"v": "3", "accessToken": "abc"})

		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, code)

		got := <-reqs
		assert.Equal(t, http.MethodPut, got.method)
		assert.Equal(t, []byte("0123456789"), got.body)
		assert.Equal(t, int64(10), got.length)
		assert.Equal(t, "3", got.header.Get("v"))
		assert.Equal(t, "abc", got.header.Get("accessToken"))
		assert.Equal(t, "mailfiles-test", got.header.Get("User-Agent"))
	})

	t.Run("success and server errors report their status", func(t *testing.T) {
		for _, status := range []int{http.StatusOK, http.StatusCreated, http.StatusInternalServerError} {
			srv, _ := capturingServer(t, status)
			h := newHarness(t, NewHTTPClient(5*time.Second))
			local := h.writeLocal(t, "a.bin", []byte("x"))

			code, err := h.svc.Upload(ctx, local, srv.URL, nil)

			require.NoError(t, err)
			assert.Equal(t, status, code)
		}
	})

	t.Run("empty file uploads with zero length", func(t *testing.T) {
		srv, reqs := capturingServer(t, http.StatusOK)
		h := newHarness(t, NewHTTPClient(5*time.Second))
		local := h.writeLocal(t, "empty.bin", nil)

		code, err := h.svc.Upload(ctx, local, srv.URL, nil)

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, code)
		got := <-reqs
		assert.Empty(t, got.body)
	})

	t.Run("caller user agent wins", func(t *testing.T) {
		srv, reqs := capturingServer(t, http.StatusOK)
		h := newHarness(t, NewHTTPClient(5*time.Second))
		local := h.writeLocal(t, "a.bin", []byte("x"))

		_, err := h.svc.Upload(ctx, local, srv.URL, models.TransferHeaders{"User-Agent": "custom/1.0"})

		require.NoError(t, err)
		assert.Equal(t, "custom/1.0", (<-reqs).header.Get("User-Agent"))
	})

	t.Run("lowercase user agent is sent once", func(t *testing.T) {
		srv, reqs := capturingServer(t, http.StatusOK)
		h := newHarness(t, NewHTTPClient(5*time.Second))
		local := h.writeLocal(t, "a.bin", []byte("x"))

		_, err := h.svc.Upload(ctx, local, srv.URL, models.TransferHeaders{"user-agent": "custom/2.0"})

		require.NoError(t, err)
		assert.Equal(t, []string{"custom/2.0"}, (<-reqs).header.Values("User-Agent"))
	})

	t.Run("recorded url drops credentials and query", func(t *testing.T) {
		srv, _ := capturingServer(t, http.StatusOK)
		h := newHarness(t, NewHTTPClient(5*time.Second))
		local := h.writeLocal(t, "a.bin", []byte("x"))
		dest := strings.Replace(srv.URL, "http://", "http://user:hunter2@", 1) + "/blob?X-Amz-Signature=secret#frag"

		_, err := h.svc.Upload(ctx, local, dest, nil)

		require.NoError(t, err)
		recs := h.recorder.all()
		require.Len(t, recs, 1)
		assert.Equal(t, srv.URL+"/blob", recs[0].URL)
	})

	t.Run("transport failure does not leak the query", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()

		h := newHarness(t, NewHTTPClient(time.Second))
		local := h.writeLocal(t, "a.bin", []byte("x"))

		_, err := h.svc.Upload(ctx, local, addr+"/blob?token=secret", nil)

		require.ErrorIs(t, err, apperr.ErrNetwork)
		assert.NotContains(t, err.Error(), "secret")
		recs := h.recorder.all()
		require.Len(t, recs, 1)
		assert.NotContains(t, recs[0].URL, "secret")
		assert.NotContains(t, recs[0].ErrorMessage, "secret")
	})

	t.Run("missing local file is unreadable", func(t *testing.T) {
		h := newHarness(t, NewHTTPClient(time.Second))
		p, err := h.resolver.Resolve("missing.bin")
		require.NoError(t, err)

		_, err = h.svc.Upload(ctx, p, "http://127.0.0.1:1/", nil)

		assert.ErrorIs(t, err, apperr.ErrFileUnreadable)
	})

	t.Run("unreachable endpoint is a network error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()

		h := newHarness(t, NewHTTPClient(time.Second))
		local := h.writeLocal(t, "a.bin", []byte("x"))

		_, err := h.svc.Upload(ctx, local, addr, nil)

		assert.ErrorIs(t, err, apperr.ErrNetwork)
	})

	t.Run("transport error from client", func(t *testing.T) {
		h := newHarness(t, clientFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("tls: handshake failure")
		}))
		local := h.writeLocal(t, "a.bin", []byte("x"))

		code, err := h.svc.Upload(ctx, local, "https://mail.example.com/rest/upload", nil)

		assert.Zero(t, code)
		assert.ErrorIs(t, err, apperr.ErrNetwork)
		recs := h.recorder.all()
		require.Len(t, recs, 1)
		assert.Equal(t, models.TransferStatusFailed, recs[0].Status)
		assert.Contains(t, recs[0].ErrorMessage, "handshake")
	})

	t.Run("invalid destination url", func(t *testing.T) {
		h := newHarness(t, NewHTTPClient(time.Second))
		local := h.writeLocal(t, "a.bin", []byte("x"))

		for _, raw := range []string{"", "ftp://example.com/x", "http://", "http://exa mple.com/%zz"} {
			_, err := h.svc.Upload(ctx, local, raw, nil)
			assert.ErrorIs(t, err, apperr.ErrInvalidPath, "url %q", raw)
		}
	})
}

func TestService_Download(t *testing.T) {
	ctx := context.Background()

	t.Run("streams body into decrypted folder", func(t *testing.T) {
		var gotHeader http.Header
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotHeader = r.Header.Clone()
			_, _ = w.Write([]byte("%PDF-1.4 attachment"))
		}))
		defer srv.Close()
		h := newHarness(t, NewHTTPClient(5*time.Second))

		p, err := h.svc.Download(ctx, srv.URL+"/file/abc", "report.pdf", models.TransferHeaders{"Authorization": "Bearer t"})

		require.NoError(t, err)
		assert.Equal(t, storage.RoleDecrypted, p.Role())
		assert.Equal(t, filepath.Join(h.resolver.FolderPath(storage.RoleDecrypted), "report.pdf"), p.Abs())
		content, err := os.ReadFile(p.Abs())
		require.NoError(t, err)
		assert.Equal(t, []byte("%PDF-1.4 attachment"), content)
		assert.Equal(t, "Bearer t", gotHeader.Get("Authorization"))

		recs := h.recorder.all()
		require.Len(t, recs, 1)
		assert.Equal(t, models.TransferDirectionDownload, recs[0].Direction)
		assert.Equal(t, models.TransferStatusCompleted, recs[0].Status)
		assert.Equal(t, int64(19), recs[0].Bytes)
		assert.Equal(t, p.Abs(), recs[0].LocalPath)
	})

	t.Run("existing name gets a distinct deterministic name", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("new"))
		}))
		defer srv.Close()
		h := newHarness(t, NewHTTPClient(5*time.Second))
		original := h.writeLocal(t, "decrypted/report.pdf", []byte("original"))

		p, err := h.svc.Download(ctx, srv.URL, "report.pdf", nil)

		require.NoError(t, err)
		assert.Equal(t, "report (1).pdf", p.Base())
		kept, _ := os.ReadFile(original.Abs())
		assert.Equal(t, []byte("original"), kept)
		assert.Equal(t, []string{"report (1).pdf", "report.pdf"}, h.decryptedEntries(t))
	})

	t.Run("timeout before response leaves no partial file", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}))
		defer srv.Close()
		h := newHarness(t, NewHTTPClient(50*time.Millisecond))

		p, err := h.svc.Download(ctx, srv.URL, "slow.pdf", nil)

		assert.ErrorIs(t, err, apperr.ErrNetwork)
		assert.True(t, p.IsZero())
		assert.Empty(t, h.decryptedEntries(t))
	})

	t.Run("timeout mid-body leaves no partial file", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", "1000")
			_, _ = w.Write([]byte("first bytes"))
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}))
		defer srv.Close()
		h := newHarness(t, NewHTTPClient(100*time.Millisecond))

		_, err := h.svc.Download(ctx, srv.URL, "stalled.bin", nil)

		assert.ErrorIs(t, err, apperr.ErrNetwork)
		assert.Empty(t, h.decryptedEntries(t))
	})

	t.Run("non-2xx status is a network error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gone", http.StatusNotFound)
		}))
		defer srv.Close()
		h := newHarness(t, NewHTTPClient(5*time.Second))

		_, err := h.svc.Download(ctx, srv.URL, "missing.pdf", nil)

		assert.ErrorIs(t, err, apperr.ErrNetwork)
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
		assert.Empty(t, h.decryptedEntries(t))
	})

	t.Run("invalid file name is rejected before any request", func(t *testing.T) {
		h := newHarness(t, clientFunc(func(*http.Request) (*http.Response, error) {
			t.Fatal("no request expected")
			return nil, nil
		}))

		for _, name := range []string{"", "..", "../../etc/passwd", "a/b.pdf"} {
			_, err := h.svc.Download(ctx, "https://example.com/x", name, nil)
			assert.ErrorIs(t, err, apperr.ErrInvalidPath, "name %q", name)
		}
	})

	t.Run("unwritable decrypted folder is a write failure", func(t *testing.T) {
		h := newHarness(t, NewHTTPClient(time.Second))
		require.NoError(t, os.WriteFile(h.resolver.FolderPath(storage.RoleDecrypted), []byte("file in the way"), 0o600))

		_, err := h.svc.Download(ctx, "https://example.com/x", "a.pdf", nil)

		assert.ErrorIs(t, err, apperr.ErrWriteFailure)
		assert.ErrorIs(t, err, apperr.ErrFolderCreation)
	})

	t.Run("concurrent downloads of one name never overwrite", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(r.URL.Query().Get("n")))
		}))
		defer srv.Close()
		h := newHarness(t, NewHTTPClient(5*time.Second))

		const n = 8
		var g errgroup.Group
		for i := 0; i < n; i++ {
			i := i
			g.Go(func() error {
				_, err := h.svc.Download(ctx, fmt.Sprintf("%s/?n=%d", srv.URL, i), "mail.eml", nil)
				return err
			})
		}
		require.NoError(t, g.Wait())

		names := h.decryptedEntries(t)
		require.Len(t, names, n)
		seen := map[string]bool{}
		for _, name := range names {
			content, err := os.ReadFile(filepath.Join(h.resolver.FolderPath(storage.RoleDecrypted), name))
			require.NoError(t, err)
			seen[string(content)] = true
		}
		assert.Len(t, seen, n, "every body landed in its own file")
	})
}

func TestService_RecorderFailureDoesNotChangeResult(t *testing.T) {
	srv, _ := capturingServer(t, http.StatusAccepted)
	h := newHarness(t, NewHTTPClient(5*time.Second))
	h.svc.SetRecorder(recorderFunc(func(context.Context, *models.TransferRecord) error {
		return errors.New("database is locked")
	}))
	local := h.writeLocal(t, "a.bin", bytes.Repeat([]byte("z"), 32))

	code, err := h.svc.Upload(context.Background(), local, srv.URL, nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, code)
}

type clientFunc func(*http.Request) (*http.Response, error)

func (f clientFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

type recorderFunc func(context.Context, *models.TransferRecord) error

func (f recorderFunc) Record(ctx context.Context, rec *models.TransferRecord) error { return f(ctx, rec) }
