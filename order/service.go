package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"marketflow/money"
)

var (
	// ErrSelfPurchase signals a buyer attempting to purchase their own listing.
	ErrSelfPurchase = errors.New("order: cannot purchase own listing")
	// ErrNotSeller signals a delivery confirmation by someone other than the seller.
	ErrNotSeller = errors.New("order: caller is not the seller")
	// ErrNotBuyer signals a buyer-only action attempted by someone else.
	ErrNotBuyer = errors.New("order: caller is not the buyer")
	// ErrNotParticipant signals a dispute raised by neither buyer nor seller.
	ErrNotParticipant = errors.New("order: caller is not a participant")
	// ErrAlreadyResolved guards orders terminated by arbitration against any
	// further transition.
	ErrAlreadyResolved = errors.New("order: already resolved by arbitration")
	// ErrPayoutReleased rejects disputes raised after funds left escrow.
	ErrPayoutReleased = errors.New("order: funds already released")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access required by the service.
type Store interface {
	GetListingForPurchase(ctx context.Context, tx pgx.Tx, listingID string) (PurchaseListing, error)
	DecrementStock(ctx context.Context, tx pgx.Tx, listingID string) error
	Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (Order, Delivery, error)
	MarkEscrowed(ctx context.Context, tx pgx.Tx, orderID string) error
	MarkDelivered(ctx context.Context, tx pgx.Tx, orderID string, autoConfirmAt time.Time) error
	MarkCompleted(ctx context.Context, tx pgx.Tx, orderID string, fundsReleaseAt time.Time) error
	MarkDisputed(ctx context.Context, tx pgx.Tx, orderID, reason string) error
	MarkCancelled(ctx context.Context, tx pgx.Tx, orderID string) error
	AppendEvent(ctx context.Context, tx pgx.Tx, orderID, eventType string, actorID *string, payload map[string]any) error
	Get(ctx context.Context, orderID string) (Order, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]Order, error)
}

// Service runs each ledger operation as a single transaction: the order row
// is locked first, the transition is validated against the state table, and
// the write plus its audit event commit together or not at all.
type Service struct {
	pool        TxBeginner
	repo        Store
	holdPeriod  time.Duration
	idGenerator func() string
	now         func() time.Time
}

// HoldPeriod is the delay applied to fund release and auto-confirmation.
const HoldPeriod = 24 * time.Hour

func NewService(pool TxBeginner, repo Store) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		holdPeriod:  HoldPeriod,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// WithHoldPeriod overrides the payout hold applied on completion.
func (s *Service) WithHoldPeriod(d time.Duration) *Service {
	if d > 0 {
		s.holdPeriod = d
	}
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create purchases one unit of the listing for the buyer. The listing lock,
// the stock decrement and the order insert share one transaction, so under
// concurrent purchases exactly stock orders succeed.
func (s *Service) Create(ctx context.Context, listingID, buyerID string) (Order, error) {
	if listingID == "" || buyerID == "" {
		return Order{}, fmt.Errorf("order: listing id and buyer id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	listing, err := s.repo.GetListingForPurchase(ctx, tx, listingID)
	if err != nil {
		return Order{}, err
	}
	if listing.SellerID == buyerID {
		return Order{}, ErrSelfPurchase
	}
	if listing.Stock <= 0 {
		return Order{}, ErrOutOfStock
	}

	fee, net, err := money.Split(listing.Price, money.MustPercent(listing.FeePercent))
	if err != nil {
		return Order{}, fmt.Errorf("order: fee split: %w", err)
	}

	ord, err := s.repo.Insert(ctx, tx, InsertParams{
		ID:        s.idGenerator(),
		BuyerID:   buyerID,
		SellerID:  listing.SellerID,
		ListingID: listingID,
		Amount:    listing.Price,
		FeeAmount: fee,
		NetAmount: net,
	})
	if err != nil {
		return Order{}, err
	}

	if err := s.repo.DecrementStock(ctx, tx, listingID); err != nil {
		return Order{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, ord.ID, "ORDER_CREATED", &buyerID, map[string]any{
		"listing_id": listingID,
		"amount":     ord.Amount,
		"fee_amount": ord.FeeAmount,
		"net_amount": ord.NetAmount,
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit create: %w", err)
	}
	return ord, nil
}

// ConfirmPayment applies the external payment signal. Instant-delivery orders
// complete immediately and enter the payout hold; coordinated ones move to
// escrow and wait for the seller.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string) error {
	return s.transition(ctx, orderID, func(tx pgx.Tx, o Order, delivery Delivery) (Event, error) {
		event := EventPayEscrow
		if delivery == DeliveryInstant {
			event = EventPayInstant
		}
		if _, err := Next(o.Status, event); err != nil {
			return "", err
		}

		if event == EventPayInstant {
			return event, s.repo.MarkCompleted(ctx, tx, o.ID, s.now().Add(s.holdPeriod))
		}
		return event, s.repo.MarkEscrowed(ctx, tx, o.ID)
	}, nil)
}

// ConfirmDelivery records the seller handover and opens the 24h window after
// which the sweeper completes the order on the buyer's behalf.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID, actorID string) error {
	return s.transition(ctx, orderID, func(tx pgx.Tx, o Order, _ Delivery) (Event, error) {
		if o.SellerID != actorID {
			return "", ErrNotSeller
		}
		if _, err := Next(o.Status, EventDeliver); err != nil {
			return "", err
		}
		return EventDeliver, s.repo.MarkDelivered(ctx, tx, o.ID, s.now().Add(s.holdPeriod))
	}, &actorID)
}

// ConfirmReceipt is the buyer's acknowledgement; it completes the order and
// schedules the payout.
func (s *Service) ConfirmReceipt(ctx context.Context, orderID, actorID string) error {
	return s.transition(ctx, orderID, func(tx pgx.Tx, o Order, _ Delivery) (Event, error) {
		if o.BuyerID != actorID {
			return "", ErrNotBuyer
		}
		if _, err := Next(o.Status, EventReceive); err != nil {
			return "", err
		}
		return EventReceive, s.repo.MarkCompleted(ctx, tx, o.ID, s.now().Add(s.holdPeriod))
	}, &actorID)
}

// Cancel abandons an unpaid order.
func (s *Service) Cancel(ctx context.Context, orderID, actorID string) error {
	return s.transition(ctx, orderID, func(tx pgx.Tx, o Order, _ Delivery) (Event, error) {
		if o.BuyerID != actorID {
			return "", ErrNotBuyer
		}
		if _, err := Next(o.Status, EventCancel); err != nil {
			return "", err
		}
		return EventCancel, s.repo.MarkCancelled(ctx, tx, o.ID)
	}, &actorID)
}

// Dispute freezes the order for arbitration. Either participant may raise it
// while the order is paid and funds are still in custody; a category tag is
// prefixed onto the free-text reason.
func (s *Service) Dispute(ctx context.Context, orderID, actorID, category, reason string) error {
	if category == "" {
		category = "other"
	}
	tagged := fmt.Sprintf("[%s] %s", category, reason)

	return s.transition(ctx, orderID, func(tx pgx.Tx, o Order, _ Delivery) (Event, error) {
		if o.BuyerID != actorID && o.SellerID != actorID {
			return "", ErrNotParticipant
		}
		if o.ResolvedAt != nil {
			return "", ErrAlreadyResolved
		}
		if o.Status == StatusCompleted && o.PayoutStatus == PayoutReleased {
			return "", ErrPayoutReleased
		}
		if !CanDispute(o.Status) {
			return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, EventDispute, o.Status)
		}
		return EventDispute, s.repo.MarkDisputed(ctx, tx, o.ID, tagged)
	}, &actorID)
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, orderID string) (Order, error) {
	return s.repo.Get(ctx, orderID)
}

// ListForUser returns the caller's orders as buyer or seller.
func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	return s.repo.ListForUser(ctx, userID, limit)
}

// transition wraps the shared lock-validate-write-audit sequence. The step
// callback performs the actor check, the table lookup and the status write,
// returning the event recorded on the audit trail.
func (s *Service) transition(ctx context.Context, orderID string, step func(pgx.Tx, Order, Delivery) (Event, error), actorID *string) error {
	if orderID == "" {
		return fmt.Errorf("order: order id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, delivery, err := s.repo.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return err
	}

	event, err := step(tx, o, delivery)
	if err != nil {
		return err
	}

	next, err := Next(o.Status, event)
	if err != nil {
		return err
	}
	if err := s.repo.AppendEvent(ctx, tx, o.ID, "STATUS_CHANGED", actorID, map[string]any{
		"event":           string(event),
		"previous_status": string(o.Status),
		"next_status":     string(next),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("order: commit transition: %w", err)
	}
	return nil
}
