package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/bookingcore/internal/validation"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

var ErrInvalidOfferSnapshot = errors.New("invalid offer snapshot")

// OfferPassenger is a traveller captured together with the offer at match time.
type OfferPassenger struct {
	GivenName  string `json:"given_name" validate:"required"`
	FamilyName string `json:"family_name" validate:"required"`
	BornOn     string `json:"born_on" validate:"required,datetime=2006-01-02"`
	Title      string `json:"title,omitempty"`
	Gender     string `json:"gender,omitempty"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
	Phone      string `json:"phone_number,omitempty"`
}

// OfferSnapshot is the validated form of BookingRequest.OfferData.
type OfferSnapshot struct {
	OfferID       string           `json:"offer_id,omitempty"`
	Price         decimal.Decimal  `json:"price"`
	Currency      string           `json:"currency,omitempty" validate:"omitempty,len=3"`
	Airline       string           `json:"airline" validate:"required"`
	FlightNumber  string           `json:"flight_number" validate:"required"`
	DepartureTime *time.Time       `json:"departure_time,omitempty"`
	ArrivalTime   *time.Time       `json:"arrival_time,omitempty"`
	Passengers    []OfferPassenger `json:"passengers,omitempty" validate:"omitempty,dive"`
}

// ParseOfferSnapshot decodes and validates raw offer data. Anything that
// cannot be turned into a bookable snapshot is rejected here, before the
// state machine sees it.
func ParseOfferSnapshot(raw json.RawMessage) (OfferSnapshot, error) {
	var snap OfferSnapshot
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return snap, fmt.Errorf("%w: offer_data is empty", ErrInvalidOfferSnapshot)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("%w: %v", ErrInvalidOfferSnapshot, err)
	}
	if err := validation.Struct(snap); err != nil {
		return snap, fmt.Errorf("%w: %v", ErrInvalidOfferSnapshot, err)
	}
	if !snap.Price.IsPositive() {
		return snap, fmt.Errorf("%w: price must be positive", ErrInvalidOfferSnapshot)
	}
	if snap.DepartureTime != nil && snap.ArrivalTime != nil && snap.ArrivalTime.Before(*snap.DepartureTime) {
		return snap, fmt.Errorf("%w: arrival_time is before departure_time", ErrInvalidOfferSnapshot)
	}
	for i, p := range snap.Passengers {
		if p.Phone == "" {
			continue
		}
		phone, err := NormalizePhone(p.Phone)
		if err != nil {
			return snap, fmt.Errorf("%w: passenger %d: %v", ErrInvalidOfferSnapshot, i, err)
		}
		snap.Passengers[i].Phone = phone
	}
	snap.Currency = strings.ToUpper(snap.Currency)
	if snap.Currency == "" {
		snap.Currency = "USD"
	}
	return snap, nil
}

// NormalizePhone turns an international phone number into E.164 form.
func NormalizePhone(raw string) (string, error) {
	num, err := libphonenumber.Parse(strings.TrimSpace(raw), "")
	if err != nil {
		return "", fmt.Errorf("phone number %q: %w", raw, err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", fmt.Errorf("phone number %q is not valid", raw)
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}
