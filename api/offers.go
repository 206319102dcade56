package api

import (
	"net/http"

	"github.com/Domenick1991/bookingcore/internal/orders"
	"github.com/Domenick1991/bookingcore/internal/service/offers"
	"github.com/gin-gonic/gin"
)

type OfferHandler struct {
	service offers.OfferUseCase
}

func NewOfferHandler(service offers.OfferUseCase) *OfferHandler {
	return &OfferHandler{service: service}
}

func (h *OfferHandler) Register(router *gin.RouterGroup) {
	router.GET("/:id", h.get)
	router.POST("/search", h.search)
}

func (h *OfferHandler) get(c *gin.Context) {
	offer, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

func (h *OfferHandler) search(c *gin.Context) {
	var criteria orders.SearchCriteria
	if err := c.ShouldBindJSON(&criteria); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	found, err := h.service.Search(c.Request.Context(), criteria)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": found})
}
