package api

import (
	"errors"
	"net/http"

	"github.com/Domenick1991/bookingcore/internal/orders"
	"github.com/Domenick1991/bookingcore/internal/recordstore"
	"github.com/Domenick1991/bookingcore/internal/repository"
	"github.com/Domenick1991/bookingcore/internal/service/booking"
	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	var vErr *orders.ValidationError
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, orders.ErrNotFound), recordstore.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrNotEligible),
		errors.Is(err, recordstore.ErrConcurrencyExhausted),
		recordstore.IsConditionFailed(err),
		recordstore.CodeOf(err) == recordstore.CodeAlreadyExists:
		return http.StatusConflict
	case errors.As(err, &vErr), recordstore.CodeOf(err) == recordstore.CodeValidation:
		return http.StatusUnprocessableEntity
	case orders.IsRetryable(err), recordstore.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
