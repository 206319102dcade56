package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/bookingcore/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

const bookingRequestColumns = `id, user_id, trip_request_id, offer_id, offer_data, auto, status, error_message, payment_intent_id, version, created_at, updated_at`

type PGBookingRequestRepository struct {
	db *pgxpool.Pool
}

func NewBookingRequestRepository(db *pgxpool.Pool) BookingRequestRepository {
	return &PGBookingRequestRepository{db: db}
}

func (r *PGBookingRequestRepository) GetBookingRequest(ctx context.Context, id string) (*domain.BookingRequest, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingRequestColumns+` FROM booking_requests WHERE id = $1`, id)
	br, err := scanBookingRequest(row)
	if err != nil {
		return nil, notFound(err, "booking request %s", id)
	}
	return br, nil
}

func (r *PGBookingRequestRepository) GetTripRequest(ctx context.Context, id string) (*domain.TripRequest, error) {
	row := r.db.QueryRow(ctx, `SELECT id, user_id, origin, destination, departure_date, return_date, adults, auto_book, budget, best_price, created_at
		FROM trip_requests WHERE id = $1`, id)

	var (
		t         domain.TripRequest
		budget    decimal.NullDecimal
		bestPrice decimal.NullDecimal
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Origin, &t.Destination, &t.DepartureDate, &t.ReturnDate, &t.Adults, &t.AutoBook, &budget, &bestPrice, &t.CreatedAt); err != nil {
		return nil, notFound(err, "trip request %s", id)
	}
	if budget.Valid {
		t.Budget = &budget.Decimal
	}
	if bestPrice.Valid {
		t.BestPrice = &bestPrice.Decimal
	}
	return &t, nil
}

func (r *PGBookingRequestRepository) MarkFailed(ctx context.Context, id string, expectedVersion int64, message string) (*domain.BookingRequest, error) {
	row := r.db.QueryRow(ctx, `UPDATE booking_requests
		SET status = $3, error_message = $4, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2 AND status = $5
		RETURNING `+bookingRequestColumns,
		id, expectedVersion, domain.BookingRequestFailed, message, domain.BookingRequestProcessing)
	br, err := scanBookingRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("mark booking request %s failed: %w", id, ErrStaleVersion)
		}
		return nil, err
	}
	return br, nil
}

func (r *PGBookingRequestRepository) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]domain.BookingRequest, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingRequestColumns+` FROM booking_requests
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`, domain.BookingRequestProcessing, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stale []domain.BookingRequest
	for rows.Next() {
		br, err := scanBookingRequest(rows)
		if err != nil {
			return nil, err
		}
		stale = append(stale, *br)
	}
	return stale, rows.Err()
}

func (r *PGBookingRequestRepository) GetBookingByRequest(ctx context.Context, bookingRequestID string) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT id, trip_request_id, user_id, booking_request_id, flight_details, price, currency, source, status, created_at
		FROM bookings WHERE booking_request_id = $1`, bookingRequestID)

	var (
		b       domain.Booking
		details []byte
	)
	if err := row.Scan(&b.ID, &b.TripRequestID, &b.UserID, &b.BookingRequestID, &details, &b.Price, &b.Currency, &b.Source, &b.Status, &b.CreatedAt); err != nil {
		return nil, notFound(err, "booking for request %s", bookingRequestID)
	}
	if err := json.Unmarshal(details, &b.FlightDetails); err != nil {
		return nil, fmt.Errorf("decode flight details: %w", err)
	}
	return &b, nil
}

func (r *PGBookingRequestRepository) ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	rows, err := r.db.Query(ctx, `SELECT id, user_id, trip_request_id, type, message, data, created_at
		FROM notifications WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var (
			n    domain.Notification
			data []byte
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.TripRequestID, &n.Type, &n.Message, &data, &n.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("decode notification data: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// WithinTx runs fn in one read-committed transaction. The version guard on
// CompleteRequest and the unique index on bookings make concurrent runs for
// the same request collapse into a single booking.
func (r *PGBookingRequestRepository) WithinTx(ctx context.Context, fn func(tx FulfillmentTx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgFulfillmentTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit fulfillment: %w", err)
	}
	return nil
}

// rowQuerier is the part of pgx.Tx the fulfillment statements need.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgFulfillmentTx struct {
	tx rowQuerier
}

func (t *pgFulfillmentTx) CompleteRequest(ctx context.Context, id string, expectedVersion int64) (*domain.BookingRequest, error) {
	row := t.tx.QueryRow(ctx, `UPDATE booking_requests
		SET status = $3, error_message = NULL, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2 AND status = $4
		RETURNING `+bookingRequestColumns,
		id, expectedVersion, domain.BookingRequestDone, domain.BookingRequestProcessing)
	br, err := scanBookingRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("complete booking request %s: %w", id, ErrStaleVersion)
		}
		return nil, err
	}
	return br, nil
}

func (t *pgFulfillmentTx) InsertBooking(ctx context.Context, b *domain.Booking) error {
	details, err := json.Marshal(b.FlightDetails)
	if err != nil {
		return fmt.Errorf("encode flight details: %w", err)
	}
	err = t.tx.QueryRow(ctx, `INSERT INTO bookings (id, trip_request_id, user_id, booking_request_id, flight_details, price, currency, source, status)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9)
		RETURNING created_at`,
		b.ID, b.TripRequestID, b.UserID, b.BookingRequestID, details, b.Price, b.Currency, b.Source, b.Status).
		Scan(&b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert booking for request %s: %w", b.BookingRequestID, ErrDuplicateBooking)
		}
		return err
	}
	return nil
}

func (t *pgFulfillmentTx) InsertNotification(ctx context.Context, n *domain.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("encode notification data: %w", err)
	}
	return t.tx.QueryRow(ctx, `INSERT INTO notifications (id, user_id, trip_request_id, type, message, data)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		RETURNING created_at`,
		n.ID, n.UserID, n.TripRequestID, n.Type, n.Message, data).
		Scan(&n.CreatedAt)
}

func scanBookingRequest(row pgx.Row) (*domain.BookingRequest, error) {
	var (
		br        domain.BookingRequest
		offerData []byte
		paymentID *string
	)
	if err := row.Scan(&br.ID, &br.UserID, &br.TripRequestID, &br.OfferID, &offerData, &br.Auto, &br.Status,
		&br.ErrorMessage, &paymentID, &br.Version, &br.CreatedAt, &br.UpdatedAt); err != nil {
		return nil, err
	}
	br.OfferData = offerData
	if paymentID != nil {
		br.PaymentIntentID = *paymentID
	}
	return &br, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return err
}

var (
	_ BookingRequestRepository = (*PGBookingRequestRepository)(nil)
	_ FulfillmentTx            = (*pgFulfillmentTx)(nil)
)
