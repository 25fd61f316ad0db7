package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"marketflow/order"
)

var (
	// ErrNotEntitled signals the caller is not the paying buyer of an
	// instant-delivery order.
	ErrNotEntitled = errors.New("vault: not entitled to the secret")
	// ErrNotYetPaid signals a reveal attempt before the payment signal.
	ErrNotYetPaid = errors.New("vault: order not paid yet")
	// ErrSecretMissing is the fatal configuration fault of an instant-delivery
	// listing with nothing in the vault. It is never swallowed.
	ErrSecretMissing = errors.New("vault: instant listing has no stored secret")
)

// paidOrLater is the status set that opens the reveal gate.
var paidOrLater = map[order.Status]bool{
	order.StatusEscrowed:  true,
	order.StatusDelivered: true,
	order.StatusCompleted: true,
	order.StatusDisputed:  true,
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access required by the service.
type Store interface {
	GetOrderForReveal(ctx context.Context, tx pgx.Tx, orderID string) (RevealOrder, error)
	GetSecret(ctx context.Context, tx pgx.Tx, listingID string) (Payload, error)
	StampRevealed(ctx context.Context, tx pgx.Tx, orderID string) error
	AppendRevealEvent(ctx context.Context, tx pgx.Tx, orderID, buyerID string) error
	OwnerPayload(ctx context.Context, listingID, sellerID string) (Payload, error)
	SetSecret(ctx context.Context, listingID, sellerID string, p Payload) error
}

// Service enforces the reveal protocol: access control and idempotent
// disclosure. Refund policy around revealed orders lives elsewhere.
type Service struct {
	pool TxBeginner
	repo Store
}

func NewService(pool TxBeginner, repo Store) *Service {
	return &Service{pool: pool, repo: repo}
}

// Reveal disclosures the listing credential to the order's buyer. The first
// success stamps revealed_at; every later call returns the identical payload
// without touching the stamp. The gate is checked here, at the point of
// disclosure, inside the same transaction that writes the stamp.
func (s *Service) Reveal(ctx context.Context, orderID, callerID string) (Payload, error) {
	if orderID == "" || callerID == "" {
		return Payload{}, fmt.Errorf("vault: order id and caller id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payload{}, fmt.Errorf("vault: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ro, err := s.repo.GetOrderForReveal(ctx, tx, orderID)
	if err != nil {
		return Payload{}, err
	}

	if ro.BuyerID != callerID {
		return Payload{}, ErrNotEntitled
	}
	if ro.Delivery != order.DeliveryInstant {
		return Payload{}, ErrNotEntitled
	}
	// A prior legitimate disclosure stays readable; otherwise the order must
	// be in a paid state before any new disclosure happens.
	if !ro.RevealedAt && !paidOrLater[ro.Status] {
		return Payload{}, ErrNotYetPaid
	}

	payload, err := s.repo.GetSecret(ctx, tx, ro.ListingID)
	if err != nil {
		if errors.Is(err, ErrNoSecret) {
			return Payload{}, fmt.Errorf("%w: listing %s", ErrSecretMissing, ro.ListingID)
		}
		return Payload{}, err
	}

	if !ro.RevealedAt {
		if err := s.repo.StampRevealed(ctx, tx, orderID); err != nil {
			return Payload{}, err
		}
		if err := s.repo.AppendRevealEvent(ctx, tx, orderID, callerID); err != nil {
			return Payload{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Payload{}, fmt.Errorf("vault: commit reveal: %w", err)
	}
	return payload, nil
}

// OwnerPayload lets the seller read back the stored credential unconditionally.
func (s *Service) OwnerPayload(ctx context.Context, listingID, callerID string) (Payload, error) {
	return s.repo.OwnerPayload(ctx, listingID, callerID)
}

// SetSecret stores or replaces the listing credential for its seller.
func (s *Service) SetSecret(ctx context.Context, listingID, callerID string, p Payload) error {
	if p.Empty() {
		return fmt.Errorf("vault: empty payload")
	}
	return s.repo.SetSecret(ctx, listingID, callerID, p)
}
