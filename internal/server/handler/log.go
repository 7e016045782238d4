// Package handler holds the gin handlers and middleware of the log daemon.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/realitylog/internal/auth"
	"github.com/jmerrifield20/realitylog/internal/merkle"
	"github.com/jmerrifield20/realitylog/internal/proof"
	"github.com/jmerrifield20/realitylog/internal/tlog"
)

// logStore is the subset of *tlog.Log used by LogHandler.
type logStore interface {
	Append(ctx context.Context, payload []byte) (tlog.Entry, error)
	CurrentRoot() tlog.TreeState
	Entry(ctx context.Context, index uint64) (tlog.Entry, error)
}

// LogHandler exposes the append, root, proof and entry endpoints.
type LogHandler struct {
	log    logStore
	proofs *proof.Service
	logger *zap.Logger
}

// NewLogHandler creates a LogHandler.
func NewLogHandler(log logStore, proofs *proof.Service, logger *zap.Logger) *LogHandler {
	return &LogHandler{log: log, proofs: proofs, logger: logger}
}

// Register mounts the log routes. appendMW runs in front of POST /append
// only (producer auth, rate limiting).
func (h *LogHandler) Register(rg gin.IRouter, appendMW ...gin.HandlerFunc) {
	handlers := append(append([]gin.HandlerFunc{}, appendMW...), h.Append)
	rg.POST("/append", handlers...)
	rg.GET("/root", h.Root)
	rg.GET("/prove/:index", h.Prove)
	rg.POST("/verify", h.Verify)
	rg.GET("/entries/:index", h.GetEntry)
	rg.GET("/health", h.Health)
}

type appendRequest struct {
	Payload *string `json:"payload" binding:"required"`
}

type appendResponse struct {
	Index uint64        `json:"index"`
	Size  uint64        `json:"size"`
	Leaf  merkle.Digest `json:"leaf"`
	Root  merkle.Digest `json:"root"`
}

type entryResponse struct {
	Index      uint64        `json:"index"`
	Payload    string        `json:"payload"`
	Leaf       merkle.Digest `json:"leaf"`
	ReceivedAt time.Time     `json:"received_at"`
}

// Append handles POST /append.
func (h *LogHandler) Append(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"payload\": string}"})
		return
	}

	entry, err := h.log.Append(c.Request.Context(), []byte(*req.Payload))
	if err != nil {
		h.logger.Error("append failed",
			zap.String("producer", auth.ProducerFromCtx(c)),
			zap.Error(err),
		)
		status := http.StatusInternalServerError
		if errors.Is(err, tlog.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "failed to append entry"})
		return
	}

	// The root may already include later appends; it always includes this one.
	state := h.log.CurrentRoot()
	RecordAppend()
	SetTreeSize(state.Size)

	c.JSON(http.StatusCreated, appendResponse{
		Index: entry.Index,
		Size:  state.Size,
		Leaf:  entry.LeafHash,
		Root:  state.Root,
	})
}

// Root handles GET /root.
func (h *LogHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, h.log.CurrentRoot())
}

// Prove handles GET /prove/:index.
func (h *LogHandler) Prove(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}

	p, err := h.proofs.Prove(index)
	if errors.Is(err, tlog.ErrOutOfRange) {
		c.JSON(http.StatusNotFound, gin.H{"error": "index out of range"})
		return
	}
	if err != nil {
		h.logger.Error("prove failed", zap.Uint64("index", index), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build proof"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// Verify handles POST /verify. It never consults the log.
func (h *LogHandler) Verify(c *gin.Context) {
	var p proof.InclusionProof
	if err := c.ShouldBindJSON(&p); err != nil {
		RecordVerify("malformed")
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": "body must be an inclusion proof"})
		return
	}

	res, err := h.proofs.Verify(&p)
	if errors.Is(err, proof.ErrMalformedProof) {
		RecordVerify("malformed")
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"valid": false, "error": "verification failed"})
		return
	}

	if res.Valid {
		RecordVerify("valid")
	} else {
		RecordVerify("invalid")
	}
	c.JSON(http.StatusOK, res)
}

// GetEntry handles GET /entries/:index.
func (h *LogHandler) GetEntry(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}

	entry, err := h.log.Entry(c.Request.Context(), index)
	if errors.Is(err, tlog.ErrOutOfRange) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	if err != nil {
		h.logger.Error("entry lookup failed", zap.Uint64("index", index), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read entry"})
		return
	}

	c.JSON(http.StatusOK, entryResponse{
		Index:      entry.Index,
		Payload:    string(entry.Payload),
		Leaf:       entry.LeafHash,
		ReceivedAt: entry.ReceivedAt,
	})
}

// Health handles GET /health.
func (h *LogHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"tree_size": h.log.CurrentRoot().Size,
	})
}

func parseIndex(c *gin.Context) (uint64, bool) {
	index, err := strconv.ParseUint(c.Param("index"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a non-negative integer"})
		return 0, false
	}
	return index, true
}
