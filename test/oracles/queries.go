package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant queries. Each must return zero rows on a
// consistent database, no matter how the actors interleaved.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_money_conserved",
			SQL: `SELECT id, amount, fee_amount, net_amount FROM orders
                  WHERE fee_amount + net_amount <> amount
                     OR fee_amount < 0 OR net_amount < 0`,
		},
		{
			Name: "O2_stock_non_negative",
			SQL:  `SELECT id, stock FROM listings WHERE stock < 0`,
		},
		{
			Name: "O3_no_oversell",
			SQL: `SELECT l.id, l.stock, b.initial_stock FROM listings l
                  JOIN stress_baseline b ON b.listing_id = l.id
                  LEFT JOIN (SELECT listing_id, COUNT(*) AS sold FROM orders GROUP BY listing_id) o
                    ON o.listing_id = l.id
                  WHERE l.stock + COALESCE(o.sold, 0) <> b.initial_stock`,
		},
		{
			Name: "O4_resolution_terminal",
			SQL: `SELECT id, status FROM orders
                  WHERE resolved_at IS NOT NULL
                    AND status NOT IN ('completed', 'cancelled')`,
		},
		{
			Name: "O5_resolution_write_once",
			SQL: `SELECT id FROM orders
                  WHERE (resolved_at IS NULL) <> (resolved_by IS NULL)`,
		},
		{
			Name: "O6_payout_consistent",
			SQL: `SELECT id, status, payout_status FROM orders
                  WHERE (payout_status = 'released' AND funds_release_at IS NULL)
                     OR (payout_status <> 'none' AND status NOT IN ('completed', 'disputed'))`,
		},
		{
			Name: "O7_reveal_gate",
			SQL: `SELECT id, status FROM orders
                  WHERE revealed_at IS NOT NULL AND status = 'pending_payment'`,
		},
		{
			Name: "O8_auto_confirm_stamped",
			SQL:  `SELECT id FROM orders WHERE status = 'delivered' AND auto_confirm_at IS NULL`,
		},
		{
			Name: "O9_dispute_reason_present",
			SQL:  `SELECT id FROM orders WHERE status = 'disputed' AND dispute_reason IS NULL`,
		},
		{
			Name: "O10_single_ruling_event",
			SQL: `SELECT order_id, COUNT(*) FROM order_events
                  WHERE type = 'DISPUTE_RESOLVED'
                  GROUP BY order_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O11_conversation_ordering",
			SQL:  `SELECT id FROM conversations WHERE user_a >= user_b`,
		},
		{
			Name: "O12_system_sender_shape",
			SQL: `SELECT id FROM messages
                  WHERE (sender_kind = 'system' AND sender_user_id IS NOT NULL)
                     OR (sender_kind = 'user' AND sender_user_id IS NULL)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
