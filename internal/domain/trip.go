package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TripRequest is created by the search flow and only read here.
type TripRequest struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Origin        string           `json:"origin"`
	Destination   string           `json:"destination"`
	DepartureDate time.Time        `json:"departure_date"`
	ReturnDate    *time.Time       `json:"return_date,omitempty"`
	Adults        int              `json:"adults"`
	AutoBook      bool             `json:"auto_book"`
	Budget        *decimal.Decimal `json:"budget,omitempty"`
	BestPrice     *decimal.Decimal `json:"best_price,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}
