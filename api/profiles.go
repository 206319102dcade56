package api

import (
	"context"
	"net/http"

	"github.com/Domenick1991/bookingcore/internal/recordstore"
	"github.com/gin-gonic/gin"
)

// RecordStore is the versioned store behind /profiles.
type RecordStore interface {
	Get(ctx context.Context, key string) (*recordstore.Record, error)
	Create(ctx context.Context, key string, fields recordstore.Fields) (*recordstore.Record, error)
	UpdateWithOptimisticLock(ctx context.Context, key string, updates recordstore.Fields) (*recordstore.Record, error)
}

type ProfileHandler struct {
	store RecordStore
}

type createProfileRequest struct {
	Key    string             `json:"key" binding:"required"`
	Fields recordstore.Fields `json:"fields"`
}

type updateProfileRequest struct {
	Fields recordstore.Fields `json:"fields" binding:"required"`
}

func NewProfileHandler(store RecordStore) *ProfileHandler {
	return &ProfileHandler{store: store}
}

func (h *ProfileHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("/:key", h.get)
	router.PATCH("/:key", h.update)
}

func (h *ProfileHandler) create(c *gin.Context) {
	var req createProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	record, err := h.store.Create(c.Request.Context(), req.Key, req.Fields)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (h *ProfileHandler) get(c *gin.Context) {
	record, err := h.store.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *ProfileHandler) update(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	record, err := h.store.UpdateWithOptimisticLock(c.Request.Context(), c.Param("key"), req.Fields)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}
