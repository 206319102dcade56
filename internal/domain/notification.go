package domain

import (
	"fmt"
	"time"
)

const NotificationBookingConfirmed = "booking_confirmed"

// NotificationData is the payload consumed by the delivery worker.
type NotificationData struct {
	BookingID    string `json:"booking_id"`
	OfferPrice   string `json:"offer_price"`
	Airline      string `json:"airline"`
	FlightNumber string `json:"flight_number"`
}

type Notification struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	TripRequestID string           `json:"trip_request_id"`
	Type          string           `json:"type"`
	Message       string           `json:"message"`
	Data          NotificationData `json:"data"`
	CreatedAt     time.Time        `json:"created_at"`
}

// BookingConfirmedMessage renders the user-facing summary of a booking.
func BookingConfirmedMessage(b *Booking, trip *TripRequest) string {
	route := ""
	if trip != nil && trip.Origin != "" && trip.Destination != "" {
		route = fmt.Sprintf(" from %s to %s", trip.Origin, trip.Destination)
	}
	return fmt.Sprintf("Your flight %s %s%s has been booked for $%s.",
		b.FlightDetails.Airline, b.FlightDetails.FlightNumber, route, b.Price.StringFixed(2))
}
