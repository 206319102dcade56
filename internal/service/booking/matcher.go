package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/bookingcore/internal/domain"
	"github.com/Domenick1991/bookingcore/internal/kafka"
	"github.com/Domenick1991/bookingcore/internal/logging"
	"github.com/Domenick1991/bookingcore/internal/observability"
	"github.com/Domenick1991/bookingcore/internal/orders"
	"github.com/Domenick1991/bookingcore/internal/payments"
	"github.com/Domenick1991/bookingcore/internal/recordstore"
	"github.com/Domenick1991/bookingcore/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const moduleName = "booking_matcher"

// ErrNotEligible is returned for requests that have not been handed to the matcher yet.
var ErrNotEligible = errors.New("booking request is not eligible for processing")

const (
	outcomeDone        = "done"
	outcomeFailed      = "failed"
	outcomeNoop        = "noop"
	outcomeRetry       = "retry"
	outcomeNotEligible = "not_eligible"
	outcomeError       = "error"
)

type MatcherUseCase interface {
	ProcessBookingRequest(ctx context.Context, id string) (*domain.BookingRequest, error)
	GetBookingRequest(ctx context.Context, id string) (*domain.BookingRequest, error)
	SweepStale(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

type OrderClient interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (*orders.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

type PaymentGateway interface {
	EnsureAuthorized(ctx context.Context, intentID string) error
	Capture(ctx context.Context, intentID string, amount decimal.Decimal, currency, idempotencyKey string) error
	Cancel(ctx context.Context, intentID string) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type Config struct {
	// ProcessTimeout bounds one invocation; zero means the caller's deadline only.
	ProcessTimeout time.Duration
	// CompensationTimeout bounds order/payment cleanup, which runs even after the caller gives up.
	CompensationTimeout time.Duration
}

type MatcherOption func(*BookingMatcher)

// WithOrderClient switches the matcher to live booking: an order is placed
// upstream before the booking row is written.
func WithOrderClient(c OrderClient) MatcherOption {
	return func(m *BookingMatcher) {
		m.orders = c
	}
}

func WithPayments(p PaymentGateway) MatcherOption {
	return func(m *BookingMatcher) {
		m.payments = p
	}
}

func WithProducer(p Producer, eventsTopic string) MatcherOption {
	return func(m *BookingMatcher) {
		m.producer = p
		m.eventsTopic = eventsTopic
	}
}

// WithExecutor routes every repository call through the store retry policy.
func WithExecutor(e *recordstore.Executor) MatcherOption {
	return func(m *BookingMatcher) {
		m.exec = e
	}
}

type BookingMatcher struct {
	repo        repository.BookingRequestRepository
	exec        *recordstore.Executor
	orders      OrderClient
	payments    PaymentGateway
	producer    Producer
	eventsTopic string
	tracer      trace.Tracer
	logger      *logrus.Logger
	cfg         Config
	newID       func() string
	now         func() time.Time
}

func NewBookingMatcher(repo repository.BookingRequestRepository, logger *logrus.Logger, cfg Config, opts ...MatcherOption) *BookingMatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = 30 * time.Second
	}
	m := &BookingMatcher{
		repo:   repo,
		tracer: otel.Tracer("github.com/Domenick1991/bookingcore/internal/service/booking"),
		logger: logger,
		cfg:    cfg,
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ProcessBookingRequest turns a processing booking request into a booking.
// It is safe to call repeatedly and concurrently for the same id: at most one
// booking is ever written and terminal requests are returned unchanged.
func (m *BookingMatcher) ProcessBookingRequest(ctx context.Context, id string) (*domain.BookingRequest, error) {
	start := m.now()
	ctx, span := m.tracer.Start(ctx, "BookingMatcher.ProcessBookingRequest",
		trace.WithAttributes(attribute.String("booking_request.id", id)))
	defer span.End()

	if m.cfg.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ProcessTimeout)
		defer cancel()
	}

	result, outcome, err := m.process(ctx, id)

	observability.BookingRequestsProcessed.WithLabelValues(outcome).Inc()
	observability.BookingRequestDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("booking_request.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	entry := m.logger.WithFields(logrus.Fields{
		"booking_request_id": id,
		"outcome":            outcome,
		"duration":           time.Since(start).String(),
	})
	if err != nil {
		entry.WithError(err).Warn("booking request not settled")
	} else {
		entry.Info("booking request processed")
	}
	return result, err
}

func (m *BookingMatcher) process(ctx context.Context, id string) (*domain.BookingRequest, string, error) {
	br, err := m.GetBookingRequest(ctx, id)
	if err != nil {
		return nil, outcomeError, err
	}
	if br.Status.IsTerminal() {
		return br, outcomeNoop, nil
	}
	if br.Status != domain.BookingRequestProcessing {
		return br, outcomeNotEligible, fmt.Errorf("booking request %s is %s: %w", id, br.Status, ErrNotEligible)
	}

	trip, err := recordstore.Execute(ctx, m.exec, "get_trip_request", func(ctx context.Context) (*domain.TripRequest, error) {
		return m.repo.GetTripRequest(ctx, br.TripRequestID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return m.fail(ctx, br, fmt.Sprintf("trip request %s not found", br.TripRequestID), nil)
		}
		return br, outcomeRetry, fmt.Errorf("load trip request %s: %w", br.TripRequestID, err)
	}

	offer, err := domain.ParseOfferSnapshot(br.OfferData)
	if err != nil {
		return m.fail(ctx, br, err.Error(), nil)
	}

	var order *orders.Order
	if m.orders != nil {
		if m.payments != nil && br.PaymentIntentID != "" {
			if err := m.payments.EnsureAuthorized(ctx, br.PaymentIntentID); err != nil {
				if ctx.Err() != nil || payments.IsRetryable(err) {
					return br, outcomeRetry, err
				}
				return m.fail(ctx, br, err.Error(), nil)
			}
		}

		order, err = m.orders.CreateOrder(ctx, m.orderInput(br, offer))
		if err != nil {
			if ctx.Err() != nil || orders.IsRetryable(err) {
				return br, outcomeRetry, err
			}
			return m.fail(ctx, br, err.Error(), nil)
		}
	}

	booking := m.buildBooking(br, trip, offer, order)
	notification := m.buildNotification(booking, trip)

	var completed *domain.BookingRequest
	err = m.exec.Do(ctx, "complete_booking_request", func(ctx context.Context) error {
		return m.repo.WithinTx(ctx, func(tx repository.FulfillmentTx) error {
			done, err := tx.CompleteRequest(ctx, br.ID, br.Version)
			if err != nil {
				return err
			}
			if err := tx.InsertBooking(ctx, booking); err != nil {
				return err
			}
			if err := tx.InsertNotification(ctx, notification); err != nil {
				return err
			}
			completed = done
			return nil
		})
	})

	switch {
	case err == nil:
	case errors.Is(err, repository.ErrStaleVersion), errors.Is(err, repository.ErrDuplicateBooking):
		// another invocation settled the request first
		return m.current(ctx, br), outcomeNoop, nil
	case ctx.Err() != nil:
		return br, outcomeRetry, err
	default:
		return m.fail(ctx, br, err.Error(), order)
	}

	m.capture(ctx, completed, booking)
	m.publish(ctx, kafka.BookingEvent{
		Type:             kafka.EventBookingDone,
		BookingRequestID: completed.ID,
		BookingID:        booking.ID,
		UserID:           completed.UserID,
		TripRequestID:    completed.TripRequestID,
		Status:           string(completed.Status),
		Price:            booking.Price.StringFixed(2),
		Currency:         booking.Currency,
		OccurredAt:       m.now(),
	})
	return completed, outcomeDone, nil
}

func (m *BookingMatcher) GetBookingRequest(ctx context.Context, id string) (*domain.BookingRequest, error) {
	return recordstore.Execute(ctx, m.exec, "get_booking_request", func(ctx context.Context) (*domain.BookingRequest, error) {
		return m.repo.GetBookingRequest(ctx, id)
	})
}

// SweepStale re-drives processing requests untouched since olderThan and
// returns how many it settled.
func (m *BookingMatcher) SweepStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	stale, err := recordstore.Execute(ctx, m.exec, "list_stale_processing", func(ctx context.Context) ([]domain.BookingRequest, error) {
		return m.repo.ListStaleProcessing(ctx, olderThan, limit)
	})
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, br := range stale {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		if _, err := m.ProcessBookingRequest(ctx, br.ID); err != nil {
			continue
		}
		settled++
	}
	return settled, nil
}

// fail moves br to failed. Compensation runs only once this invocation owns
// the transition, so a concurrent winner never sees its order cancelled.
func (m *BookingMatcher) fail(ctx context.Context, br *domain.BookingRequest, message string, order *orders.Order) (*domain.BookingRequest, string, error) {
	failed, err := recordstore.Execute(ctx, m.exec, "mark_failed", func(ctx context.Context) (*domain.BookingRequest, error) {
		return m.repo.MarkFailed(ctx, br.ID, br.Version, message)
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleVersion) {
			return m.current(ctx, br), outcomeNoop, nil
		}
		return br, outcomeError, fmt.Errorf("mark booking request %s failed: %w", br.ID, err)
	}

	m.compensate(ctx, failed, order)
	m.publish(ctx, kafka.BookingEvent{
		Type:             kafka.EventBookingFailed,
		BookingRequestID: failed.ID,
		UserID:           failed.UserID,
		TripRequestID:    failed.TripRequestID,
		Status:           string(failed.Status),
		Error:            message,
		OccurredAt:       m.now(),
	})
	return failed, outcomeFailed, nil
}

func (m *BookingMatcher) compensate(ctx context.Context, br *domain.BookingRequest, order *orders.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CompensationTimeout)
	defer cancel()

	if order != nil && m.orders != nil {
		if err := m.orders.CancelOrder(ctx, order.ID); err != nil {
			logging.LogError(m.logger, moduleName, "compensate", "cancel order", logrus.Fields{"booking_request_id": br.ID, "order_id": order.ID}, err)
		}
	}
	if m.payments != nil && br.PaymentIntentID != "" {
		if err := m.payments.Cancel(ctx, br.PaymentIntentID); err != nil {
			logging.LogError(m.logger, moduleName, "compensate", "release payment hold", logrus.Fields{"booking_request_id": br.ID, "payment_intent_id": br.PaymentIntentID}, err)
		}
	}
}

// capture settles the payment hold. The booking is already committed, so a
// failure is recorded for reconciliation instead of being returned.
func (m *BookingMatcher) capture(ctx context.Context, br *domain.BookingRequest, b *domain.Booking) {
	if m.payments == nil || br.PaymentIntentID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CompensationTimeout)
	defer cancel()

	if err := m.payments.Capture(ctx, br.PaymentIntentID, b.Price, b.Currency, "capture_"+br.ID); err != nil {
		observability.PaymentCaptureFailures.Inc()
		logging.LogError(m.logger, moduleName, "capture", "capture payment after booking", logrus.Fields{"booking_request_id": br.ID, "payment_intent_id": br.PaymentIntentID}, err)
	}
}

func (m *BookingMatcher) publish(ctx context.Context, event kafka.BookingEvent) {
	if m.producer == nil || m.eventsTopic == "" {
		return
	}
	if err := m.producer.Publish(ctx, m.eventsTopic, event.BookingRequestID, event); err != nil {
		m.logger.WithError(err).WithField("booking_request_id", event.BookingRequestID).Warn("failed to publish booking event")
	}
}

func (m *BookingMatcher) current(ctx context.Context, fallback *domain.BookingRequest) *domain.BookingRequest {
	latest, err := m.repo.GetBookingRequest(context.WithoutCancel(ctx), fallback.ID)
	if err != nil {
		return fallback
	}
	return latest
}

func (m *BookingMatcher) orderInput(br *domain.BookingRequest, offer domain.OfferSnapshot) orders.CreateOrderInput {
	offerID := br.OfferID
	if offerID == "" {
		offerID = offer.OfferID
	}
	passengers := make([]orders.Passenger, 0, len(offer.Passengers))
	for _, p := range offer.Passengers {
		passengers = append(passengers, orders.Passenger{
			GivenName:   p.GivenName,
			FamilyName:  p.FamilyName,
			BornOn:      p.BornOn,
			Title:       p.Title,
			Gender:      p.Gender,
			Email:       p.Email,
			PhoneNumber: p.Phone,
		})
	}
	return orders.CreateOrderInput{
		OfferID:        offerID,
		Passengers:     passengers,
		TotalAmount:    offer.Price,
		Currency:       offer.Currency,
		IdempotencyKey: orders.IdempotencyKeyFor(br.ID),
		Metadata: map[string]string{
			"booking_request_id": br.ID,
			"trip_request_id":    br.TripRequestID,
		},
	}
}

func (m *BookingMatcher) buildBooking(br *domain.BookingRequest, trip *domain.TripRequest, offer domain.OfferSnapshot, order *orders.Order) *domain.Booking {
	details := domain.FlightDetails{
		Airline:      offer.Airline,
		FlightNumber: offer.FlightNumber,
		Origin:       trip.Origin,
		Destination:  trip.Destination,
	}
	if offer.DepartureTime != nil {
		details.DepartureTime = *offer.DepartureTime
	}
	if offer.ArrivalTime != nil {
		details.ArrivalTime = *offer.ArrivalTime
	}

	price, currency := offer.Price, offer.Currency
	if order != nil {
		details.OrderID = order.ID
		details.BookingReference = order.BookingReference
		if order.TotalAmount.IsPositive() {
			price = order.TotalAmount
		}
		if order.TotalCurrency != "" {
			currency = order.TotalCurrency
		}
	}

	source := domain.BookingSourceManual
	if br.Auto {
		source = domain.BookingSourceAuto
	}
	return &domain.Booking{
		ID:               m.newID(),
		TripRequestID:    br.TripRequestID,
		UserID:           br.UserID,
		BookingRequestID: br.ID,
		FlightDetails:    details,
		Price:            price,
		Currency:         currency,
		Source:           source,
		Status:           domain.BookingStatusBooked,
	}
}

func (m *BookingMatcher) buildNotification(b *domain.Booking, trip *domain.TripRequest) *domain.Notification {
	return &domain.Notification{
		ID:            m.newID(),
		UserID:        trip.UserID,
		TripRequestID: b.TripRequestID,
		Type:          domain.NotificationBookingConfirmed,
		Message:       domain.BookingConfirmedMessage(b, trip),
		Data: domain.NotificationData{
			BookingID:    b.ID,
			OfferPrice:   b.Price.StringFixed(2),
			Airline:      b.FlightDetails.Airline,
			FlightNumber: b.FlightDetails.FlightNumber,
		},
	}
}

var _ MatcherUseCase = (*BookingMatcher)(nil)
