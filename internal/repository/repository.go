package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/bookingcore/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStaleVersion means the request moved on since it was read: another writer won.
	ErrStaleVersion = errors.New("booking request version is stale")
	// ErrDuplicateBooking means a booking already exists for the booking request.
	ErrDuplicateBooking = errors.New("booking already exists for booking request")
)

// BookingRequestRepository is the persistence port of the booking matcher.
type BookingRequestRepository interface {
	GetBookingRequest(ctx context.Context, id string) (*domain.BookingRequest, error)
	GetTripRequest(ctx context.Context, id string) (*domain.TripRequest, error)
	// MarkFailed moves a processing request at expectedVersion to failed.
	MarkFailed(ctx context.Context, id string, expectedVersion int64, message string) (*domain.BookingRequest, error)
	ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]domain.BookingRequest, error)
	GetBookingByRequest(ctx context.Context, bookingRequestID string) (*domain.Booking, error)
	ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error)
	// WithinTx runs fn in a single transaction; any error from fn rolls everything back.
	WithinTx(ctx context.Context, fn func(tx FulfillmentTx) error) error
}

// FulfillmentTx holds the writes that must land together when a request completes.
type FulfillmentTx interface {
	CompleteRequest(ctx context.Context, id string, expectedVersion int64) (*domain.BookingRequest, error)
	InsertBooking(ctx context.Context, b *domain.Booking) error
	InsertNotification(ctx context.Context, n *domain.Notification) error
}
