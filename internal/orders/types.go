package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Place struct {
	IATACode string `json:"iata_code"`
	Name     string `json:"name,omitempty"`
}

type Carrier struct {
	IATACode string `json:"iata_code"`
	Name     string `json:"name"`
}

type Segment struct {
	Origin                       Place     `json:"origin"`
	Destination                  Place     `json:"destination"`
	DepartingAt                  time.Time `json:"departing_at"`
	ArrivingAt                   time.Time `json:"arriving_at"`
	MarketingCarrier             Carrier   `json:"marketing_carrier"`
	MarketingCarrierFlightNumber string    `json:"marketing_carrier_flight_number"`
}

type Slice struct {
	Origin      Place     `json:"origin"`
	Destination Place     `json:"destination"`
	Segments    []Segment `json:"segments"`
}

type Offer struct {
	ID            string          `json:"id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TotalCurrency string          `json:"total_currency"`
	ExpiresAt     time.Time       `json:"expires_at"`
	Owner         Carrier         `json:"owner"`
	Slices        []Slice         `json:"slices"`
}

// FirstSegment returns the first flown segment, if any.
func (o *Offer) FirstSegment() (Segment, bool) {
	for _, s := range o.Slices {
		if len(s.Segments) > 0 {
			return s.Segments[0], true
		}
	}
	return Segment{}, false
}

type SearchSlice struct {
	Origin        string `json:"origin" validate:"required,len=3"`
	Destination   string `json:"destination" validate:"required,len=3"`
	DepartureDate string `json:"departure_date" validate:"required,datetime=2006-01-02"`
}

type SearchCriteria struct {
	Slices     []SearchSlice    `json:"slices" validate:"min=1,dive"`
	Adults     int              `json:"adults" validate:"min=1"`
	CabinClass string           `json:"cabin_class,omitempty"`
	MaxPrice   *decimal.Decimal `json:"max_price,omitempty"`
}

type Passenger struct {
	ID          string `json:"id,omitempty"`
	GivenName   string `json:"given_name" validate:"required"`
	FamilyName  string `json:"family_name" validate:"required"`
	BornOn      string `json:"born_on" validate:"required,datetime=2006-01-02"`
	Title       string `json:"title,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type CreateOrderInput struct {
	OfferID        string            `json:"offer_id" validate:"required"`
	Passengers     []Passenger       `json:"passengers" validate:"min=1,dive"`
	TotalAmount    decimal.Decimal   `json:"total_amount"`
	Currency       string            `json:"currency" validate:"required,len=3"`
	IdempotencyKey string            `json:"idempotency_key" validate:"required"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type Order struct {
	ID               string            `json:"id"`
	BookingReference string            `json:"booking_reference"`
	TotalAmount      decimal.Decimal   `json:"total_amount"`
	TotalCurrency    string            `json:"total_currency"`
	Slices           []Slice           `json:"slices,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// IdempotencyKeyFor derives the order idempotency key for a booking request.
// Every replay of the same request must submit the same key.
func IdempotencyKeyFor(bookingRequestID string) string {
	return "order_" + bookingRequestID
}

// wire payloads

type envelope[T any] struct {
	Data T `json:"data"`
}

type errorEnvelope struct {
	Errors []APIErrorDetail `json:"errors"`
}

type orderPayment struct {
	Type     string          `json:"type"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type createOrderPayload struct {
	Type           string            `json:"type"`
	SelectedOffers []string          `json:"selected_offers"`
	Passengers     []Passenger       `json:"passengers"`
	Payments       []orderPayment    `json:"payments"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type offerRequestPassenger struct {
	Type string `json:"type"`
}

type offerRequestPayload struct {
	Slices     []SearchSlice           `json:"slices"`
	Passengers []offerRequestPassenger `json:"passengers"`
	CabinClass string                  `json:"cabin_class,omitempty"`
}

type offerRequestResult struct {
	ID     string  `json:"id"`
	Offers []Offer `json:"offers"`
}

type orderCancellation struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
}
