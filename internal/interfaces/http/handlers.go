package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/mailfiles/internal/apperr"
	"github.com/garyjia/mailfiles/internal/fileutil"
	"github.com/garyjia/mailfiles/internal/models"
	"github.com/garyjia/mailfiles/internal/repository"
	"github.com/garyjia/mailfiles/pkg/utils"
)

// TransferLister lists the transfer log
type TransferLister interface {
	ListRecent(ctx context.Context, direction string, limit int) ([]*models.TransferRecord, error)
}

// HealthFunc reports overall health and a per-component breakdown
type HealthFunc func(ctx context.Context) (bool, any)

// Handlers contains all HTTP request handlers
type Handlers struct {
	files     *fileutil.FileUtil
	transfers TransferLister
	health    HealthFunc
	logger    *zap.Logger
}

// NewHandlers creates a new Handlers instance. transfers and health may be nil.
func NewHandlers(files *fileutil.FileUtil, transfers TransferLister, health HealthFunc, logger *zap.Logger) *Handlers {
	return &Handlers{
		files:     files,
		transfers: transfers,
		health:    health,
		logger:    logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
	Version    string `json:"version"`
	Components any    `json:"components,omitempty"`
}

// PathRequest carries a single sandbox path or file URL
type PathRequest struct {
	Path string `json:"path" binding:"required"`
}

// UploadRequest is the body of POST /api/v1/transfers/upload
type UploadRequest struct {
	Path    string            `json:"path" binding:"required"`
	URL     string            `json:"url" binding:"required"`
	Headers map[string]string `json:"headers"`
}

// DownloadRequest is the body of POST /api/v1/transfers/download
type DownloadRequest struct {
	URL      string            `json:"url" binding:"required"`
	FileName string            `json:"file_name" binding:"required"`
	Headers  map[string]string `json:"headers"`
}

// ListTransfersRequest represents query parameters for listing transfers
type ListTransfersRequest struct {
	Limit     int    `form:"limit"`
	Direction string `form:"direction"`
}

// MetadataResponse is the JSON form of FileMetadata
type MetadataResponse struct {
	Name     *string `json:"name"`
	MimeType *string `json:"mime_type"`
	Size     *int64  `json:"size"`
	Error    string  `json:"error,omitempty"`
}

// Version is reported by the health check
var Version = "1.0.0"

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   Version,
	}

	status := http.StatusOK
	if h.health != nil {
		ok, components := h.health(c.Request.Context())
		response.Components = components
		if !ok {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// EncryptedFolder handles GET /api/v1/folders/encrypted
func (h *Handlers) EncryptedFolder(c *gin.Context) {
	path, err := h.files.EncryptedFolder(c.Request.Context())
	h.respond(c, gin.H{"path": path}, err)
}

// DecryptedFolder handles GET /api/v1/folders/decrypted
func (h *Handlers) DecryptedFolder(c *gin.Context) {
	path, err := h.files.DecryptedFolder(c.Request.Context())
	h.respond(c, gin.H{"path": path}, err)
}

// FileExists handles GET /api/v1/files/exists. It never fails.
func (h *Handlers) FileExists(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"exists": h.files.FileExistsAtPath(c.Query("path"))},
	})
}

// FileName handles GET /api/v1/files/name
func (h *Handlers) FileName(c *gin.Context) {
	ctx := c.Request.Context()
	name, err := h.files.GetNameForPath(ctx, c.Query("path")).Await(ctx)
	h.respond(c, gin.H{"name": name}, err)
}

// FileMimeType handles GET /api/v1/files/mime
func (h *Handlers) FileMimeType(c *gin.Context) {
	ctx := c.Request.Context()
	mt, err := h.files.GetMimeTypeForPath(ctx, c.Query("path")).Await(ctx)
	h.respond(c, gin.H{"mime_type": mt}, err)
}

// FileSize handles GET /api/v1/files/size
func (h *Handlers) FileSize(c *gin.Context) {
	ctx := c.Request.Context()
	size, err := h.files.GetSizeForPath(ctx, c.Query("path")).Await(ctx)
	h.respond(c, gin.H{"size": size}, err)
}

// FileMetadata handles GET /api/v1/files/metadata. Partial results are
// returned with 200 and an error message; only an invalid path fails.
func (h *Handlers) FileMetadata(c *gin.Context) {
	ctx := c.Request.Context()
	meta, err := h.files.GetMetadataForPath(ctx, c.Query("path")).Await(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := MetadataResponse{Name: meta.Name, MimeType: meta.MimeType, Size: meta.Size}
	if meta.Err != nil {
		resp.Error = meta.Err.Error()
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// OpenFile handles POST /api/v1/files/open
func (h *Handlers) OpenFile(c *gin.Context) {
	var req PathRequest
	if !h.bind(c, &req) {
		return
	}

	ctx := c.Request.Context()
	_, err := h.files.OpenFileAtPath(ctx, req.Path).Await(ctx)
	h.respond(c, gin.H{"opened": err == nil}, err)
}

// DeleteFile handles DELETE /api/v1/files
func (h *Handlers) DeleteFile(c *gin.Context) {
	ctx := c.Request.Context()
	_, err := h.files.DeleteFileAtPath(ctx, c.Query("path")).Await(ctx)
	h.respond(c, gin.H{"deleted": err == nil}, err)
}

// Upload handles POST /api/v1/transfers/upload. The remote status is
// returned as data whatever its value.
func (h *Handlers) Upload(c *gin.Context) {
	var req UploadRequest
	if !h.bind(c, &req) {
		return
	}
	if !h.validHeaders(c, req.Headers) {
		return
	}

	ctx := c.Request.Context()
	code, err := h.files.UploadFileAtPath(ctx, req.Path, req.URL, req.Headers).Await(ctx)
	h.respond(c, gin.H{"status_code": code}, err)
}

// Download handles POST /api/v1/transfers/download
func (h *Handlers) Download(c *gin.Context) {
	var req DownloadRequest
	if !h.bind(c, &req) {
		return
	}
	if !h.validHeaders(c, req.Headers) {
		return
	}

	ctx := c.Request.Context()
	path, err := h.files.DownloadFileFromURL(ctx, req.URL, req.FileName, req.Headers).Await(ctx)
	h.respond(c, gin.H{"path": path}, err)
}

// ListTransfers handles GET /api/v1/transfers
func (h *Handlers) ListTransfers(c *gin.Context) {
	if h.transfers == nil {
		c.JSON(http.StatusNotImplemented, Response{
			Success: false,
			Error:   "transfer log is disabled",
		})
		return
	}

	var req ListTransfersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid query parameters",
		})
		return
	}
	if req.Limit <= 0 || req.Limit > repository.MaxListLimit {
		req.Limit = repository.DefaultListLimit
	}
	direction := strings.ToUpper(req.Direction)
	switch direction {
	case "", models.TransferDirectionUpload, models.TransferDirectionDownload:
	default:
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "direction must be UPLOAD or DOWNLOAD",
		})
		return
	}

	records, err := h.transfers.ListRecent(c.Request.Context(), direction, req.Limit)
	if err != nil {
		h.logger.Error("Failed to list transfers", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve transfers",
		})
		return
	}
	if records == nil {
		records = []*models.TransferRecord{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// bind decodes a JSON request body. Form and text bodies are refused so a
// cross-site form post never reaches an operation.
func (h *Handlers) bind(c *gin.Context, req any) bool {
	if c.ContentType() != gin.MIMEJSON {
		c.JSON(http.StatusUnsupportedMediaType, Response{
			Success: false,
			Error:   "Content-Type must be application/json",
		})
		return false
	}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

func (h *Handlers) validHeaders(c *gin.Context, headers map[string]string) bool {
	for name, value := range headers {
		err := utils.ValidateHeaderName(name)
		if err == nil {
			err = utils.ValidateHeaderValue(value)
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
			return false
		}
	}
	return true
}

func (h *Handlers) respond(c *gin.Context, data any, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if apperr.KindOf(err) == nil {
			return http.StatusGatewayTimeout
		}
	}

	switch apperr.KindOf(err) {
	case apperr.ErrInvalidPath:
		return http.StatusBadRequest
	case apperr.ErrAccessDenied:
		return http.StatusForbidden
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrUndetermined, apperr.ErrFileUnreadable:
		return http.StatusUnprocessableEntity
	case apperr.ErrNoViewerAvailable:
		return http.StatusNotImplemented
	case apperr.ErrNetwork:
		return http.StatusBadGateway
	default:
		// ErrWriteFailure, ErrFolderCreation and anything untyped
		return http.StatusInternalServerError
	}
}
