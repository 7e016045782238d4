package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/realitylog/internal/anchor"
)

// AnchorHandler serves the anchor records written by the in-process loop.
type AnchorHandler struct {
	store  anchor.Store
	logger *zap.Logger
}

// NewAnchorHandler creates an AnchorHandler. store may be nil when the
// daemon runs without an anchor loop; the list is then empty.
func NewAnchorHandler(store anchor.Store, logger *zap.Logger) *AnchorHandler {
	return &AnchorHandler{store: store, logger: logger}
}

// Register mounts GET /anchors.
func (h *AnchorHandler) Register(rg gin.IRouter) {
	rg.GET("/anchors", h.List)
}

// List handles GET /anchors.
func (h *AnchorHandler) List(c *gin.Context) {
	records := []anchor.Record{}
	if h.store != nil {
		recs, err := h.store.List(c.Request.Context())
		if err != nil {
			h.logger.Error("list anchors", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list anchors"})
			return
		}
		records = append(records, recs...)
	}
	c.JSON(http.StatusOK, gin.H{
		"anchors": records,
		"count":   len(records),
	})
}
