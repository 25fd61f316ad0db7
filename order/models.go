package order

import "time"

// Order mirrors the orders table. Rows are never deleted; resolution fields
// are write-once and the money columns are fixed at creation.
type Order struct {
	ID             string
	BuyerID        string
	SellerID       string
	ListingID      string
	Amount         int64
	FeeAmount      int64
	NetAmount      int64
	Status         Status
	DisputeReason  *string
	ResolutionNote *string
	ResolvedBy     *string
	ResolvedAt     *time.Time
	FundsReleaseAt *time.Time
	AutoConfirmAt  *time.Time
	PayoutStatus   PayoutStatus
	RevealedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PurchaseListing is the listing snapshot taken under lock when an order is
// created: everything the fee split and the stock check need.
type PurchaseListing struct {
	ID         string
	SellerID   string
	Price      int64
	Stock      int
	Delivery   Delivery
	FeePercent string
}

// InsertParams enumerates the columns written for a new order.
type InsertParams struct {
	ID        string
	BuyerID   string
	SellerID  string
	ListingID string
	Amount    int64
	FeeAmount int64
	NetAmount int64
}
