package file

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nexuscloud/nexus/internal/auth"
	"github.com/nexuscloud/nexus/internal/classify"
	"github.com/nexuscloud/nexus/internal/logger"
	"go.uber.org/zap"
)

// multipartOverhead is the allowance for form boundaries and part headers on
// top of the file itself.
const multipartOverhead = 64 << 10

// LedgerWarningHeader is set on successful responses whose ledger update is pending reconciliation.
const LedgerWarningHeader = "X-Ledger-Warning"

// RegisterRoutes mounts file operations under the provided router group.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.POST("/files", handler.uploadFile)
	group.GET("/files", handler.listFiles)
	group.GET("/files/:fileID", handler.getFile)
	group.GET("/files/:fileID/url", handler.downloadURL)
	group.DELETE("/files/:fileID", handler.deleteFile)
}

type httpHandler struct {
	service *Service
}

func (h *httpHandler) uploadFile(c *gin.Context) {
	ownerID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.service.MaxFileSize()+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the size limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}

	body, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file payload"})
		return
	}
	defer body.Close()

	rec, err := h.service.Upload(c.Request.Context(), UploadInput{
		OwnerID:     ownerID,
		Name:        fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		Body:        body,
	})
	if err != nil && !errors.Is(err, ErrLedgerSyncWarning) {
		writeError(c, err, "failed to upload file")
		return
	}
	if err != nil {
		c.Header(LedgerWarningHeader, "sync-pending")
	}

	c.JSON(http.StatusCreated, rec)
}

func (h *httpHandler) listFiles(c *gin.Context) {
	ownerID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var category *classify.Category
	if raw := c.Query("category"); raw != "" {
		parsed, err := classify.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category"})
			return
		}
		category = &parsed
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	list, err := h.service.ListRecent(c.Request.Context(), ownerID, category, limit)
	if err != nil {
		writeError(c, err, "failed to list files")
		return
	}

	c.JSON(http.StatusOK, gin.H{"files": list})
}

func (h *httpHandler) getFile(c *gin.Context) {
	ownerID, fileID, ok := ownerAndFile(c)
	if !ok {
		return
	}

	rec, err := h.service.Get(c.Request.Context(), ownerID, fileID)
	if err != nil {
		writeError(c, err, "failed to load file")
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *httpHandler) downloadURL(c *gin.Context) {
	ownerID, fileID, ok := ownerAndFile(c)
	if !ok {
		return
	}

	url, err := h.service.DownloadURL(c.Request.Context(), ownerID, fileID)
	if err != nil {
		writeError(c, err, "failed to issue download url")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *httpHandler) deleteFile(c *gin.Context) {
	ownerID, fileID, ok := ownerAndFile(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), ownerID, fileID); err != nil {
		if !errors.Is(err, ErrLedgerSyncWarning) {
			writeError(c, err, "failed to delete file")
			return
		}
		c.Header(LedgerWarningHeader, "sync-pending")
	}

	c.Status(http.StatusNoContent)
}

func ownerAndFile(c *gin.Context) (string, uuid.UUID, bool) {
	ownerID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", uuid.Nil, false
	}
	fileID, err := uuid.Parse(c.Param("fileID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return "", uuid.Nil, false
	}
	return ownerID, fileID, true
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, ErrBlobStoreFailure):
		logger.FromContext(c, nil).Error(fallback, zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "blob store unavailable"})
	default:
		logger.FromContext(c, nil).Error(fallback, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
