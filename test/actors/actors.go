package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketflow/auth"
	"marketflow/dispute"
	"marketflow/order"
	"marketflow/sweeper"
	"marketflow/vault"
)

// benign reports whether the error is an expected outcome of racing actors
// rather than a harness failure.
func benign(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, order.ErrOutOfStock),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrAlreadyResolved),
		errors.Is(err, order.ErrPayoutReleased),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, dispute.ErrNotDisputed),
		errors.Is(err, dispute.ErrAlreadyResolved),
		errors.Is(err, dispute.ErrOrderNotFound),
		errors.Is(err, vault.ErrNotYetPaid),
		errors.Is(err, vault.ErrNotEntitled),
		errors.Is(err, vault.ErrSecretMissing),
		errors.Is(err, pgx.ErrNoRows):
		return true
	}
	// Chaos kills backends at random; severed connections are retried on the
	// next iteration, not treated as harness failures.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "57P01", "40001", "40P01": // admin shutdown, serialization, deadlock
			return true
		}
	}
	msg := err.Error()
	for _, fragment := range []string{"conn closed", "connection reset", "unexpected EOF", "broken pipe", "terminating connection"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// Buyer hammers the contested listing with purchases. Out-of-stock is the
// expected loss under contention, never an actor failure.
func Buyer(ctx context.Context, svc *order.Service, listingID, buyerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := svc.Create(ctx, listingID, buyerID); !benign(err) {
			return fmt.Errorf("buyer create: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Payer plays the payment gateway: it picks a random pending order and
// confirms its payment, idempotently losing races to other payers.
func Payer(ctx context.Context, pool *pgxpool.Pool, svc *order.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var orderID string
		err := pool.QueryRow(ctx, `SELECT id FROM orders WHERE status='pending_payment' ORDER BY random() LIMIT 1`).Scan(&orderID)
		if err == nil {
			err = svc.ConfirmPayment(ctx, orderID)
		}
		if !benign(err) {
			return fmt.Errorf("payer confirm: %w", err)
		}
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// Deliverer marks escrowed orders delivered on behalf of the seller.
func Deliverer(ctx context.Context, pool *pgxpool.Pool, svc *order.Service, sellerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var orderID string
		err := pool.QueryRow(ctx, `SELECT id FROM orders WHERE status='escrowed' AND seller_id=$1 ORDER BY random() LIMIT 1`, sellerID).Scan(&orderID)
		if err == nil {
			err = svc.ConfirmDelivery(ctx, orderID, sellerID)
		}
		if !benign(err) {
			return fmt.Errorf("deliverer confirm: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Receiver confirms receipt of delivered orders as their buyer.
func Receiver(ctx context.Context, pool *pgxpool.Pool, svc *order.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var orderID, buyerID string
		err := pool.QueryRow(ctx, `SELECT id, buyer_id FROM orders WHERE status='delivered' ORDER BY random() LIMIT 1`).Scan(&orderID, &buyerID)
		if err == nil {
			err = svc.ConfirmReceipt(ctx, orderID, buyerID)
		}
		if !benign(err) {
			return fmt.Errorf("receiver confirm: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Revealer reads secrets for paid instant orders, repeatedly, so idempotent
// disclosure is exercised while statuses churn underneath it.
func Revealer(ctx context.Context, pool *pgxpool.Pool, svc *vault.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var orderID, buyerID string
		err := pool.QueryRow(ctx, `SELECT id, buyer_id FROM orders ORDER BY random() LIMIT 1`).Scan(&orderID, &buyerID)
		if err == nil {
			_, err = svc.Reveal(ctx, orderID, buyerID)
		}
		if !benign(err) {
			return fmt.Errorf("revealer: %w", err)
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Disputer opens disputes on random live orders.
func Disputer(ctx context.Context, pool *pgxpool.Pool, svc *order.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var orderID, buyerID string
		err := pool.QueryRow(ctx, `SELECT id, buyer_id FROM orders WHERE status IN ('escrowed','delivered','completed') ORDER BY random() LIMIT 1`).Scan(&orderID, &buyerID)
		if err == nil {
			err = svc.Dispute(ctx, orderID, buyerID, "not_as_described", "stress dispute")
		}
		if !benign(err) {
			return fmt.Errorf("disputer: %w", err)
		}
		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}

// Arbitrator resolves disputed orders with a random ruling. Two arbitrators
// racing over the same order is the point: exactly one ruling may land.
func Arbitrator(ctx context.Context, pool *pgxpool.Pool, svc *dispute.Service, arbitratorID string, stop <-chan struct{}) error {
	actor := auth.Actor{ID: arbitratorID, Role: auth.RoleArbitrator}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var orderID string
		err := pool.QueryRow(ctx, `SELECT id FROM orders WHERE status='disputed' ORDER BY random() LIMIT 1`).Scan(&orderID)
		if err == nil {
			resolution := dispute.ResolutionRefund
			if rand.Intn(2) == 0 {
				resolution = dispute.ResolutionRelease
			}
			err = svc.Resolve(ctx, orderID, resolution, "stress ruling", actor)
		}
		if !benign(err) {
			return fmt.Errorf("arbitrator: %w", err)
		}
		time.Sleep(time.Duration(80+rand.Intn(80)) * time.Millisecond)
	}
}

// DeadlineSweeper runs sweep passes with a clock skewed into the future so
// auto-confirm and payout deadlines actually fire during the run.
func DeadlineSweeper(ctx context.Context, sw *sweeper.Sweeper, stop <-chan struct{}) error {
	skewed := sw.WithClock(func() time.Time { return time.Now().Add(48 * time.Hour) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, _, err := skewed.SweepOnce(ctx); !benign(err) {
			return fmt.Errorf("sweeper: %w", err)
		}
		time.Sleep(time.Duration(150+rand.Intn(150)) * time.Millisecond)
	}
}
