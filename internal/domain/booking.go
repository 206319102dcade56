package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type BookingRequestStatus string

const (
	BookingRequestPending    BookingRequestStatus = "pending"
	BookingRequestProcessing BookingRequestStatus = "processing"
	BookingRequestDone       BookingRequestStatus = "done"
	BookingRequestFailed     BookingRequestStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s BookingRequestStatus) IsTerminal() bool {
	return s == BookingRequestDone || s == BookingRequestFailed
}

// BookingRequest is the unit of work "turn this offer into a booking".
// OfferData is kept raw; ParseOfferSnapshot turns it into an OfferSnapshot.
type BookingRequest struct {
	ID              string               `json:"id"`
	UserID          string               `json:"user_id"`
	TripRequestID   string               `json:"trip_request_id"`
	OfferID         string               `json:"offer_id"`
	OfferData       json.RawMessage      `json:"offer_data"`
	Auto            bool                 `json:"auto"`
	Status          BookingRequestStatus `json:"status"`
	ErrorMessage    *string              `json:"error_message,omitempty"`
	PaymentIntentID string               `json:"payment_intent_id,omitempty"`
	Version         int64                `json:"version"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

type BookingSource string

const (
	BookingSourceAuto   BookingSource = "auto"
	BookingSourceManual BookingSource = "manual"
)

type BookingStatus string

const (
	BookingStatusBooked    BookingStatus = "booked"
	BookingStatusCancelled BookingStatus = "cancelled"
)

type FlightDetails struct {
	Airline          string    `json:"airline"`
	FlightNumber     string    `json:"flight_number"`
	Origin           string    `json:"origin,omitempty"`
	Destination      string    `json:"destination,omitempty"`
	DepartureTime    time.Time `json:"departure_time,omitempty"`
	ArrivalTime      time.Time `json:"arrival_time,omitempty"`
	OrderID          string    `json:"order_id,omitempty"`
	BookingReference string    `json:"booking_reference,omitempty"`
}

type Booking struct {
	ID               string          `json:"id"`
	TripRequestID    string          `json:"trip_request_id"`
	UserID           string          `json:"user_id"`
	BookingRequestID string          `json:"booking_request_id"`
	FlightDetails    FlightDetails   `json:"flight_details"`
	Price            decimal.Decimal `json:"price"`
	Currency         string          `json:"currency"`
	Source           BookingSource   `json:"source"`
	Status           BookingStatus   `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
}
