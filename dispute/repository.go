package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrOrderNotFound is returned when no order exists for the identifier.
	ErrOrderNotFound = errors.New("dispute: order not found")
	// ErrNotDisputed signals the order is not frozen for arbitration.
	ErrNotDisputed = errors.New("dispute: order is not disputed")
	// ErrAlreadyResolved protects the write-once resolution fields.
	ErrAlreadyResolved = errors.New("dispute: already resolved")
)

// Repository runs the adjudication writes inside the caller's transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// GetDisputedForUpdate locks the order for ruling. It fails typed when the
// order is missing, not disputed, or already carries a resolution.
func (r *Repository) GetDisputedForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (Disputed, error) {
	const query = `
		SELECT id, buyer_id, seller_id, amount, resolved_at IS NOT NULL, status::text
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`

	var (
		d      Disputed
		status string
	)
	err := tx.QueryRow(ctx, query, orderID).Scan(&d.ID, &d.BuyerID, &d.SellerID, &d.Amount, &d.Resolved, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Disputed{}, ErrOrderNotFound
		}
		return Disputed{}, fmt.Errorf("dispute: lock order: %w", err)
	}
	if d.Resolved {
		return Disputed{}, ErrAlreadyResolved
	}
	if status != "disputed" {
		return Disputed{}, ErrNotDisputed
	}
	return d, nil
}

// Refund terminates the order in the buyer's favor. The resolved_at IS NULL
// predicate makes the resolution stamp write-once even under races. Any
// payout still queued from before the dispute is voided with it.
func (r *Repository) Refund(ctx context.Context, tx pgx.Tx, orderID, note, arbitratorID string) error {
	return r.rule(ctx, tx, `
		UPDATE orders
		SET status = 'cancelled',
		    payout_status = 'none',
		    funds_release_at = NULL,
		    resolution_note = $2,
		    resolved_by = $3,
		    resolved_at = now(),
		    updated_at = now()
		WHERE id = $1 AND status = 'disputed' AND resolved_at IS NULL
	`, orderID, note, arbitratorID)
}

// Release terminates the order in the seller's favor and schedules the payout
// immediately: arbitration already held the funds long enough.
func (r *Repository) Release(ctx context.Context, tx pgx.Tx, orderID, note, arbitratorID string) error {
	return r.rule(ctx, tx, `
		UPDATE orders
		SET status = 'completed',
		    resolution_note = $2,
		    resolved_by = $3,
		    resolved_at = now(),
		    funds_release_at = now(),
		    payout_status = 'pending',
		    updated_at = now()
		WHERE id = $1 AND status = 'disputed' AND resolved_at IS NULL
	`, orderID, note, arbitratorID)
}

func (r *Repository) rule(ctx context.Context, tx pgx.Tx, query, orderID, note, arbitratorID string) error {
	tag, err := tx.Exec(ctx, query, orderID, note, arbitratorID)
	if err != nil {
		return fmt.Errorf("dispute: apply ruling: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

// AppendEvent records the ruling on the order audit trail.
func (r *Repository) AppendEvent(ctx context.Context, tx pgx.Tx, orderID, arbitratorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispute: marshal event payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO order_events (order_id, type, actor_id, payload)
		VALUES ($1, 'DISPUTE_RESOLVED', $2, $3::jsonb)
	`, orderID, arbitratorID, body); err != nil {
		return fmt.Errorf("dispute: append event: %w", err)
	}
	return nil
}
