package listing

import (
	"time"

	"marketflow/order"
)

// Listing mirrors the listings table.
type Listing struct {
	ID         string
	SellerID   string
	CategoryID *string
	Title      string
	Price      int64
	Stock      int
	Delivery   order.Delivery
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Category carries the platform fee charged on its listings.
type Category struct {
	ID         string
	Name       string
	FeePercent string
}

// CreateParams enumerates the fields a seller supplies for a new listing.
type CreateParams struct {
	SellerID   string
	CategoryID string
	Title      string
	Price      int64
	Stock      int
	Delivery   order.Delivery
}
