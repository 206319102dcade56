package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	EventBookingDone   = "booking_done"
	EventBookingFailed = "booking_failed"
)

// BookingEvent is published after the matcher settles a booking request.
type BookingEvent struct {
	Type             string    `json:"type"`
	BookingRequestID string    `json:"booking_request_id"`
	BookingID        string    `json:"booking_id,omitempty"`
	UserID           string    `json:"user_id"`
	TripRequestID    string    `json:"trip_request_id"`
	Status           string    `json:"status"`
	Price            string    `json:"price,omitempty"`
	Currency         string    `json:"currency,omitempty"`
	Error            string    `json:"error,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// BookingTrigger asks the matcher to process one booking request.
type BookingTrigger struct {
	BookingRequestID string `json:"booking_request_id"`
}

// DecodeTrigger accepts a JSON body, falling back to the message key.
func DecodeTrigger(msg kafka.Message) (BookingTrigger, error) {
	var trigger BookingTrigger
	if len(msg.Value) > 0 {
		if err := json.Unmarshal(msg.Value, &trigger); err != nil {
			return trigger, fmt.Errorf("decode booking trigger at offset %d: %w", msg.Offset, err)
		}
	}
	if trigger.BookingRequestID == "" {
		trigger.BookingRequestID = strings.TrimSpace(string(msg.Key))
	}
	if trigger.BookingRequestID == "" {
		return trigger, fmt.Errorf("booking trigger at offset %d has no booking_request_id", msg.Offset)
	}
	return trigger, nil
}
