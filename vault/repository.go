package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrOrderNotFound is returned when no order exists for the identifier.
	ErrOrderNotFound = errors.New("vault: order not found")
	// ErrListingNotFound is returned when the listing does not exist or does
	// not belong to the caller.
	ErrListingNotFound = errors.New("vault: listing not found")
	// ErrNoSecret signals the listing has no stored credential. For an
	// instant-delivery order mid-reveal this is a configuration fault and is
	// surfaced as ErrSecretMissing by the service.
	ErrNoSecret = errors.New("vault: no secret stored")
)

// Repository persists listing credentials and the reveal stamp.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrderForReveal locks the order row and returns the gate inputs.
func (r *Repository) GetOrderForReveal(ctx context.Context, tx pgx.Tx, orderID string) (RevealOrder, error) {
	const query = `
		SELECT o.buyer_id, o.listing_id, o.status::text, o.revealed_at IS NOT NULL,
		       l.delivery_method::text
		FROM orders o
		JOIN listings l ON l.id = o.listing_id
		WHERE o.id = $1
		FOR UPDATE OF o
	`

	var ro RevealOrder
	err := tx.QueryRow(ctx, query, orderID).
		Scan(&ro.BuyerID, &ro.ListingID, &ro.Status, &ro.RevealedAt, &ro.Delivery)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RevealOrder{}, ErrOrderNotFound
		}
		return RevealOrder{}, fmt.Errorf("vault: lock order: %w", err)
	}
	return ro, nil
}

// GetSecret loads the listing credential inside the reveal transaction.
func (r *Repository) GetSecret(ctx context.Context, tx pgx.Tx, listingID string) (Payload, error) {
	const query = `
		SELECT COALESCE(content, ''), COALESCE(username, ''), COALESCE(password, ''), COALESCE(note, '')
		FROM listing_secrets
		WHERE listing_id = $1
	`

	var p Payload
	err := tx.QueryRow(ctx, query, listingID).Scan(&p.Content, &p.Username, &p.Password, &p.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payload{}, ErrNoSecret
		}
		return Payload{}, fmt.Errorf("vault: load secret: %w", err)
	}
	return p, nil
}

// StampRevealed records the first disclosure time. COALESCE keeps an already
// set revealed_at untouched, so the stamp is write-once.
func (r *Repository) StampRevealed(ctx context.Context, tx pgx.Tx, orderID string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE orders
		SET revealed_at = COALESCE(revealed_at, now()),
		    updated_at = now()
		WHERE id = $1
	`, orderID); err != nil {
		return fmt.Errorf("vault: stamp revealed: %w", err)
	}
	return nil
}

// AppendRevealEvent adds the disclosure to the order audit trail.
func (r *Repository) AppendRevealEvent(ctx context.Context, tx pgx.Tx, orderID, buyerID string) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO order_events (order_id, type, actor_id, payload)
		VALUES ($1, 'SECRET_REVEALED', $2, '{}'::jsonb)
	`, orderID, buyerID); err != nil {
		return fmt.Errorf("vault: append reveal event: %w", err)
	}
	return nil
}

// OwnerPayload returns the raw credential to the listing's seller, with no
// state gating: sellers may always verify what they configured.
func (r *Repository) OwnerPayload(ctx context.Context, listingID, sellerID string) (Payload, error) {
	const query = `
		SELECT s.listing_id IS NOT NULL,
		       COALESCE(s.content, ''), COALESCE(s.username, ''), COALESCE(s.password, ''), COALESCE(s.note, '')
		FROM listings l
		LEFT JOIN listing_secrets s ON s.listing_id = l.id
		WHERE l.id = $1 AND l.seller_id = $2
	`

	var (
		has bool
		p   Payload
	)
	err := r.pool.QueryRow(ctx, query, listingID, sellerID).
		Scan(&has, &p.Content, &p.Username, &p.Password, &p.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payload{}, ErrListingNotFound
		}
		return Payload{}, fmt.Errorf("vault: owner payload: %w", err)
	}
	if !has {
		return Payload{}, ErrNoSecret
	}
	return p, nil
}

// SetSecret writes or replaces the listing credential, seller-only.
func (r *Repository) SetSecret(ctx context.Context, listingID, sellerID string, p Payload) error {
	const query = `
		INSERT INTO listing_secrets (listing_id, content, username, password, note)
		SELECT l.id, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, '')
		FROM listings l
		WHERE l.id = $1 AND l.seller_id = $2
		ON CONFLICT (listing_id) DO UPDATE
		SET content = EXCLUDED.content,
		    username = EXCLUDED.username,
		    password = EXCLUDED.password,
		    note = EXCLUDED.note,
		    updated_at = now()
	`

	tag, err := r.pool.Exec(ctx, query, listingID, sellerID, p.Content, p.Username, p.Password, p.Note)
	if err != nil {
		return fmt.Errorf("vault: set secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrListingNotFound
	}
	return nil
}
