package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no order row exists for the identifier.
	ErrNotFound = errors.New("order: not found")
	// ErrListingNotFound is returned when the purchased listing does not exist.
	ErrListingNotFound = errors.New("order: listing not found")
	// ErrOutOfStock signals the listing has no remaining stock.
	ErrOutOfStock = errors.New("order: out of stock")
)

const orderColumns = `id, buyer_id, seller_id, listing_id, amount, fee_amount, net_amount,
       status::text, dispute_reason, resolution_note, resolved_by, resolved_at,
       funds_release_at, auto_confirm_at, payout_status::text, revealed_at, created_at, updated_at`

// Repository provides order persistence. Reads go through the pool; the
// transactional methods take the caller's pgx.Tx so a whole operation commits
// or rolls back as one unit.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetListingForPurchase locks the listing row and returns the snapshot the
// purchase needs. The FOR UPDATE serializes concurrent check-then-decrement
// sequences on the same listing.
func (r *Repository) GetListingForPurchase(ctx context.Context, tx pgx.Tx, listingID string) (PurchaseListing, error) {
	const query = `
		SELECT l.id, l.seller_id, l.price, l.stock, l.delivery_method::text,
		       COALESCE(c.fee_percent, 0)::text
		FROM listings l
		LEFT JOIN categories c ON c.id = l.category_id
		WHERE l.id = $1
		FOR UPDATE OF l
	`

	var pl PurchaseListing
	err := tx.QueryRow(ctx, query, listingID).
		Scan(&pl.ID, &pl.SellerID, &pl.Price, &pl.Stock, &pl.Delivery, &pl.FeePercent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseListing{}, ErrListingNotFound
		}
		return PurchaseListing{}, fmt.Errorf("order: lock listing: %w", err)
	}
	return pl, nil
}

// DecrementStock takes one unit off the listing. The stock > 0 predicate is a
// second guard behind the row lock; together with the table CHECK it keeps
// stock from ever going negative.
func (r *Repository) DecrementStock(ctx context.Context, tx pgx.Tx, listingID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE listings
		SET stock = stock - 1,
		    updated_at = now()
		WHERE id = $1 AND stock > 0
	`, listingID)
	if err != nil {
		return fmt.Errorf("order: decrement stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOutOfStock
	}
	return nil
}

// Insert writes a new order in pending_payment.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Order, error) {
	const query = `
		INSERT INTO orders (id, buyer_id, seller_id, listing_id, amount, fee_amount, net_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending_payment')
		RETURNING ` + orderColumns

	o, err := scanOrder(tx.QueryRow(ctx, query,
		params.ID,
		params.BuyerID,
		params.SellerID,
		params.ListingID,
		params.Amount,
		params.FeeAmount,
		params.NetAmount,
	))
	if err != nil {
		return Order{}, fmt.Errorf("order: insert: %w", err)
	}
	return o, nil
}

// GetForUpdate locks the order row and returns it with the listing's delivery
// mode, which payment confirmation and the reveal gate branch on.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (Order, Delivery, error) {
	const query = `
		SELECT o.id, o.buyer_id, o.seller_id, o.listing_id, o.amount, o.fee_amount, o.net_amount,
		       o.status::text, o.dispute_reason, o.resolution_note, o.resolved_by, o.resolved_at,
		       o.funds_release_at, o.auto_confirm_at, o.payout_status::text, o.revealed_at,
		       o.created_at, o.updated_at,
		       l.delivery_method::text
		FROM orders o
		JOIN listings l ON l.id = o.listing_id
		WHERE o.id = $1
		FOR UPDATE OF o
	`

	var (
		o        Order
		delivery Delivery
	)
	err := tx.QueryRow(ctx, query, orderID).Scan(
		&o.ID, &o.BuyerID, &o.SellerID, &o.ListingID, &o.Amount, &o.FeeAmount, &o.NetAmount,
		&o.Status, &o.DisputeReason, &o.ResolutionNote, &o.ResolvedBy, &o.ResolvedAt,
		&o.FundsReleaseAt, &o.AutoConfirmAt, &o.PayoutStatus, &o.RevealedAt,
		&o.CreatedAt, &o.UpdatedAt,
		&delivery,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, "", ErrNotFound
		}
		return Order{}, "", fmt.Errorf("order: lock order: %w", err)
	}
	return o, delivery, nil
}

// MarkEscrowed moves a paid coordinated-delivery order into escrow.
func (r *Repository) MarkEscrowed(ctx context.Context, tx pgx.Tx, orderID string) error {
	return r.exec(ctx, tx, "mark escrowed", `
		UPDATE orders
		SET status = 'escrowed',
		    updated_at = now()
		WHERE id = $1
	`, orderID)
}

// MarkDelivered records the seller handover and opens the auto-confirm window.
func (r *Repository) MarkDelivered(ctx context.Context, tx pgx.Tx, orderID string, autoConfirmAt time.Time) error {
	return r.exec(ctx, tx, "mark delivered", `
		UPDATE orders
		SET status = 'delivered',
		    auto_confirm_at = $2,
		    updated_at = now()
		WHERE id = $1
	`, orderID, autoConfirmAt)
}

// MarkCompleted finishes the order and schedules the payout.
func (r *Repository) MarkCompleted(ctx context.Context, tx pgx.Tx, orderID string, fundsReleaseAt time.Time) error {
	return r.exec(ctx, tx, "mark completed", `
		UPDATE orders
		SET status = 'completed',
		    funds_release_at = $2,
		    payout_status = 'pending',
		    updated_at = now()
		WHERE id = $1
	`, orderID, fundsReleaseAt)
}

// MarkDisputed freezes the order for arbitration with the tagged reason.
func (r *Repository) MarkDisputed(ctx context.Context, tx pgx.Tx, orderID, reason string) error {
	return r.exec(ctx, tx, "mark disputed", `
		UPDATE orders
		SET status = 'disputed',
		    dispute_reason = $2,
		    updated_at = now()
		WHERE id = $1
	`, orderID, reason)
}

// MarkCancelled terminates an unpaid order.
func (r *Repository) MarkCancelled(ctx context.Context, tx pgx.Tx, orderID string) error {
	return r.exec(ctx, tx, "mark cancelled", `
		UPDATE orders
		SET status = 'cancelled',
		    updated_at = now()
		WHERE id = $1
	`, orderID)
}

// AppendEvent adds a row to the append-only order audit trail.
func (r *Repository) AppendEvent(ctx context.Context, tx pgx.Tx, orderID, eventType string, actorID *string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("order: marshal event payload: %w", err)
	}
	var actor any
	if actorID != nil && *actorID != "" {
		actor = *actorID
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO order_events (order_id, type, actor_id, payload)
		VALUES ($1, $2, $3, $4::jsonb)
	`, orderID, eventType, actor, body); err != nil {
		return fmt.Errorf("order: append event: %w", err)
	}
	return nil
}

// Get fetches an order by ID outside any transaction.
func (r *Repository) Get(ctx context.Context, orderID string) (Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get: %w", err)
	}
	return o, nil
}

// ListForUser returns orders where the user is buyer or seller, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("order: list for user: %w", err)
	}
	defer rows.Close()

	out := make([]Order, 0, limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("order: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate: %w", err)
	}
	return out, nil
}

func (r *Repository) exec(ctx context.Context, tx pgx.Tx, verb, query string, args ...any) error {
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("order: %s: %w", verb, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.SellerID, &o.ListingID, &o.Amount, &o.FeeAmount, &o.NetAmount,
		&o.Status, &o.DisputeReason, &o.ResolutionNote, &o.ResolvedBy, &o.ResolvedAt,
		&o.FundsReleaseAt, &o.AutoConfirmAt, &o.PayoutStatus, &o.RevealedAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}
