package bootstrap

import (
	"context"
	"time"

	"github.com/Domenick1991/bookingcore/internal/kafka"
	"github.com/Domenick1991/bookingcore/internal/service/booking"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// TriggerHandler runs the matcher for each trigger message. Unsettled
// requests stay processing and are picked up by the sweeper, so a matcher
// error never blocks the partition.
func TriggerHandler(matcher booking.MatcherUseCase, logger *logrus.Logger) func(context.Context, kafkaGo.Message) error {
	return func(ctx context.Context, msg kafkaGo.Message) error {
		trigger, err := kafka.DecodeTrigger(msg)
		if err != nil {
			logger.WithError(err).WithField("offset", msg.Offset).Warn("skipping undecodable trigger")
			return nil
		}
		if _, err := matcher.ProcessBookingRequest(ctx, trigger.BookingRequestID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.WithError(err).WithField("booking_request_id", trigger.BookingRequestID).Warn("booking request left for sweep")
		}
		return nil
	}
}

// RunSweeper re-drives stale processing requests every interval until ctx ends.
func RunSweeper(ctx context.Context, matcher booking.MatcherUseCase, interval, staleAfter time.Duration, batch int, logger *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			settled, err := matcher.SweepStale(ctx, time.Now().Add(-staleAfter), batch)
			if err != nil {
				logger.WithError(err).Warn("stale sweep failed")
				continue
			}
			if settled > 0 {
				logger.WithField("settled", settled).Info("stale booking requests settled")
			}
		}
	}
}
