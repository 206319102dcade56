package api

import (
	"github.com/Domenick1991/bookingcore/internal/service/booking"
	"github.com/Domenick1991/bookingcore/internal/service/offers"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Services struct {
	Matcher  booking.MatcherUseCase
	Offers   offers.OfferUseCase
	Profiles RecordStore
}

// NewRouter mounts the v1 API behind middleware. Nil services leave their routes out.
func NewRouter(svc Services, logger *logrus.Logger, middleware ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), Metrics())
	router.Use(middleware...)
	if logger != nil {
		router.Use(RequestLogger(logger))
	}

	v1 := router.Group("/api/v1")
	if svc.Matcher != nil {
		NewBookingRequestHandler(svc.Matcher).Register(v1.Group("/booking-requests"))
	}
	if svc.Offers != nil {
		NewOfferHandler(svc.Offers).Register(v1.Group("/offers"))
	}
	if svc.Profiles != nil {
		NewProfileHandler(svc.Profiles).Register(v1.Group("/profiles"))
	}
	return router
}
