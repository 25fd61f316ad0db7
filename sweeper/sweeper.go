// Package sweeper drives the order deadlines that no request path triggers:
// auto-confirming delivered orders the buyer never acknowledged, and releasing
// payouts once the hold period passes. Both sweeps claim their rows with a
// conditional UPDATE, so re-running after a crash cannot apply a deadline twice.
package sweeper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketflow/order"
)

type Sweeper struct {
	pool       *pgxpool.Pool
	interval   time.Duration
	holdPeriod time.Duration
	now        func() time.Time
}

func New(pool *pgxpool.Pool, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		pool:       pool,
		interval:   interval,
		holdPeriod: order.HoldPeriod,
		now:        time.Now,
	}
}

// WithHoldPeriod overrides the payout hold stamped on auto-confirmed orders.
func (s *Sweeper) WithHoldPeriod(d time.Duration) *Sweeper {
	if d > 0 {
		s.holdPeriod = d
	}
	return s
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run sweeps on a ticker until the context is cancelled. Sweep errors are
// logged and retried on the next tick rather than stopping the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			confirmed, released, err := s.SweepOnce(ctx)
			if err != nil {
				log.Printf("sweeper: sweep failed: %v", err)
				continue
			}
			if confirmed > 0 || released > 0 {
				log.Printf("sweeper: auto-confirmed %d orders, released %d payouts", confirmed, released)
			}
		}
	}
}

// SweepOnce applies every due deadline exactly once and reports the counts.
func (s *Sweeper) SweepOnce(ctx context.Context) (confirmed, released int, err error) {
	confirmed, err = s.autoConfirm(ctx)
	if err != nil {
		return 0, 0, err
	}
	released, err = s.releasePayouts(ctx)
	if err != nil {
		return confirmed, 0, err
	}
	return confirmed, released, nil
}

// autoConfirm completes delivered orders whose confirmation window elapsed.
// The status predicate in the UPDATE is the claim: a row already completed by
// the buyer or a concurrent sweep does not match again. Deadlines are compared
// against the sweeper's clock, not the database's, so an injected clock
// governs claiming too.
func (s *Sweeper) autoConfirm(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweeper: begin auto-confirm: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE orders
		SET status = 'completed',
		    funds_release_at = $1,
		    payout_status = 'pending',
		    updated_at = now()
		WHERE status = 'delivered'
		  AND auto_confirm_at IS NOT NULL
		  AND auto_confirm_at <= $2
		  AND resolved_at IS NULL
		RETURNING id
	`, s.now().Add(s.holdPeriod).UTC(), s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweeper: auto-confirm: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return 0, fmt.Errorf("sweeper: auto-confirm ids: %w", err)
	}

	for _, id := range ids {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_events (order_id, type, payload)
			VALUES ($1, 'STATUS_CHANGED', '{"event":"auto_confirm","previous_status":"delivered","next_status":"completed"}'::jsonb)
		`, id); err != nil {
			return 0, fmt.Errorf("sweeper: auto-confirm event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("sweeper: commit auto-confirm: %w", err)
	}
	return len(ids), nil
}

// releasePayouts flips pending payouts whose hold period passed. The
// payout_status predicate is the claim.
func (s *Sweeper) releasePayouts(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweeper: begin release: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE orders
		SET payout_status = 'released',
		    updated_at = now()
		WHERE status = 'completed'
		  AND payout_status = 'pending'
		  AND funds_release_at IS NOT NULL
		  AND funds_release_at <= $1
		RETURNING id
	`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweeper: release payouts: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return 0, fmt.Errorf("sweeper: release ids: %w", err)
	}

	for _, id := range ids {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_events (order_id, type, payload)
			VALUES ($1, 'PAYOUT_RELEASED', '{}'::jsonb)
		`, id); err != nil {
			return 0, fmt.Errorf("sweeper: release event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("sweeper: commit release: %w", err)
	}
	return len(ids), nil
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
