package quota

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nexuscloud/nexus/internal/auth"
	"github.com/nexuscloud/nexus/internal/logger"
	"go.uber.org/zap"
)

// RegisterRoutes mounts the caller's quota view under the provided router group.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.GET("/quota", handler.getQuota)
}

// RegisterAdminRoutes mounts the admin views under group/admin.
func RegisterAdminRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	admin := group.Group("/admin", auth.RequireAdmin())
	admin.GET("/usage", handler.overview)
	admin.POST("/reconcile", handler.reconcile)
}

type httpHandler struct {
	service *Service
}

func (h *httpHandler) getQuota(c *gin.Context) {
	ownerID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	summary, err := h.service.Get(c.Request.Context(), ownerID)
	if err != nil {
		logger.FromContext(c, nil).Error("read quota failed", zap.String("owner_id", ownerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read quota"})
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *httpHandler) overview(c *gin.Context) {
	overview, err := h.service.Overview(c.Request.Context())
	if err != nil {
		logger.FromContext(c, nil).Error("usage overview failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read usage"})
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (h *httpHandler) reconcile(c *gin.Context) {
	report, err := h.service.Reconcile(c.Request.Context())
	if err != nil {
		logger.FromContext(c, nil).Error("manual reconcile failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed", "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}
