package model

import (
	"time"

	"github.com/google/uuid"
)

// Address is the structured shipping destination. It is serialised to
// canonical JSON before at-rest encryption and re-inflated on read.
type Address struct {
	Line1    string `json:"line1"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city"`
	Postcode string `json:"postcode"`
	Country  string `json:"country,omitempty"`
}

// Order carries only the fields the admin plane touches. Phone and
// ShippingAddress round-trip through the PII envelope at the repository
// boundary; callers always see plaintext.
type Order struct {
	ID              uuid.UUID `json:"id"`
	CustomerEmail   string    `json:"customerEmail"`
	Status          string    `json:"status"`
	Phone           string    `json:"phone,omitempty"`
	ShippingAddress Address   `json:"shippingAddress"`
	Total           Pence     `json:"total"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Settings is the single-row store configuration. Deleting it resets the
// storefront to its embedded defaults.
type Settings struct {
	StoreName    string    `json:"storeName"`
	SupportEmail string    `json:"supportEmail"`
	Currency     string    `json:"currency"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
