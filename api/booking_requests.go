package api

import (
	"net/http"

	"github.com/Domenick1991/bookingcore/internal/service/booking"
	"github.com/gin-gonic/gin"
)

type BookingRequestHandler struct {
	service booking.MatcherUseCase
}

func NewBookingRequestHandler(service booking.MatcherUseCase) *BookingRequestHandler {
	return &BookingRequestHandler{service: service}
}

func (h *BookingRequestHandler) Register(router *gin.RouterGroup) {
	router.POST("/:id/process", h.process)
	router.GET("/:id", h.get)
}

func (h *BookingRequestHandler) process(c *gin.Context) {
	result, err := h.service.ProcessBookingRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *BookingRequestHandler) get(c *gin.Context) {
	result, err := h.service.GetBookingRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
