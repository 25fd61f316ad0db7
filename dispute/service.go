package dispute

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"marketflow/auth"
	"marketflow/chat"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access required by the adjudicator.
type Store interface {
	GetDisputedForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (Disputed, error)
	Refund(ctx context.Context, tx pgx.Tx, orderID, note, arbitratorID string) error
	Release(ctx context.Context, tx pgx.Tx, orderID, note, arbitratorID string) error
	AppendEvent(ctx context.Context, tx pgx.Tx, orderID, arbitratorID string, payload map[string]any) error
}

// Service is the privileged arbitration workflow. The ruling and both
// participant notifications commit in one transaction.
type Service struct {
	pool   TxBeginner
	repo   Store
	bridge chat.Bridge
}

func NewService(pool TxBeginner, repo Store, bridge chat.Bridge) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{pool: pool, repo: repo, bridge: bridge}
}

// Resolve terminates a disputed order by refund or release. The actor must
// hold the arbitrator role; anything else fails with auth.ErrUnauthorized
// before any write happens.
func (s *Service) Resolve(ctx context.Context, orderID string, resolution Resolution, note string, actor auth.Actor) error {
	grant, err := auth.RequireArbitrator(actor)
	if err != nil {
		return err
	}
	if !resolution.Valid() {
		return fmt.Errorf("dispute: unknown resolution %q", resolution)
	}
	if orderID == "" {
		return fmt.Errorf("dispute: order id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.GetDisputedForUpdate(ctx, tx, orderID)
	if err != nil {
		return err
	}

	arbitratorID := grant.ActorID()
	switch resolution {
	case ResolutionRefund:
		err = s.repo.Refund(ctx, tx, d.ID, note, arbitratorID)
	case ResolutionRelease:
		err = s.repo.Release(ctx, tx, d.ID, note, arbitratorID)
	}
	if err != nil {
		return err
	}

	if err := s.repo.AppendEvent(ctx, tx, d.ID, arbitratorID, map[string]any{
		"resolution": string(resolution),
		"note":       note,
	}); err != nil {
		return err
	}

	notice := rulingNotice(d.ID, resolution, note)
	for _, participant := range []string{d.BuyerID, d.SellerID} {
		// An arbitrator ruling on their own order needs no notice to self.
		if participant == arbitratorID {
			continue
		}
		if err := s.notify(ctx, tx, participant, arbitratorID, notice); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit resolution: %w", err)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, tx pgx.Tx, participant, arbitratorID, notice string) error {
	convID, err := s.bridge.FindOrCreateDirect(ctx, tx, participant, arbitratorID, SupportContext)
	if err != nil {
		return fmt.Errorf("dispute: support conversation for %s: %w", participant, err)
	}
	if err := s.bridge.PostSystemMessage(ctx, tx, convID, notice); err != nil {
		return fmt.Errorf("dispute: notify %s: %w", participant, err)
	}
	return nil
}
