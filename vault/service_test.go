package vault

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"marketflow/order"
)

type fakeStore struct {
	ro    RevealOrder
	roErr error

	payload   Payload
	secretErr error

	stamped      bool
	auditWritten bool
}

func (f *fakeStore) GetOrderForReveal(_ context.Context, _ pgx.Tx, _ string) (RevealOrder, error) {
	return f.ro, f.roErr
}

func (f *fakeStore) GetSecret(_ context.Context, _ pgx.Tx, _ string) (Payload, error) {
	return f.payload, f.secretErr
}

func (f *fakeStore) StampRevealed(_ context.Context, _ pgx.Tx, _ string) error {
	f.stamped = true
	return nil
}

func (f *fakeStore) AppendRevealEvent(_ context.Context, _ pgx.Tx, _, _ string) error {
	f.auditWritten = true
	return nil
}

func (f *fakeStore) OwnerPayload(_ context.Context, _, _ string) (Payload, error) {
	return f.payload, f.secretErr
}

func (f *fakeStore) SetSecret(_ context.Context, _, _ string, _ Payload) error {
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

func paidOrder() RevealOrder {
	return RevealOrder{
		BuyerID:   "buyer-1",
		ListingID: "l1",
		Status:    order.StatusCompleted,
		Delivery:  order.DeliveryInstant,
	}
}

func TestReveal_FirstDisclosureStamps(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeStore{ro: paidOrder(), payload: Payload{Content: "key-1234"}}
	svc := NewService(pool, repo)

	payload, err := svc.Reveal(context.Background(), "o1", "buyer-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Content != "key-1234" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if !repo.stamped || !repo.auditWritten {
		t.Errorf("expected stamp and audit on first disclosure")
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
}

func TestReveal_RepeatIsIdempotent(t *testing.T) {
	ro := paidOrder()
	ro.RevealedAt = true
	pool := &fakePool{}
	repo := &fakeStore{ro: ro, payload: Payload{Content: "key-1234"}}
	svc := NewService(pool, repo)

	payload, err := svc.Reveal(context.Background(), "o1", "buyer-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Content != "key-1234" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if repo.stamped || repo.auditWritten {
		t.Errorf("repeat reveal must not restamp or re-audit")
	}

	again, err := svc.Reveal(context.Background(), "o1", "buyer-1")
	if err != nil {
		t.Fatalf("second reveal: %v", err)
	}
	if !bytes.Equal(payload.Bytes(), again.Bytes()) {
		t.Errorf("repeat reveal changed the wire form: %s vs %s", payload.Bytes(), again.Bytes())
	}
}

// Once revealed, a later status change cannot take the credential back.
func TestReveal_RevealedStaysReadable(t *testing.T) {
	ro := paidOrder()
	ro.RevealedAt = true
	ro.Status = order.StatusCancelled
	pool := &fakePool{}
	repo := &fakeStore{ro: ro, payload: Payload{Content: "key-1234"}}
	svc := NewService(pool, repo)

	if _, err := svc.Reveal(context.Background(), "o1", "buyer-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReveal_UnpaidRejected(t *testing.T) {
	ro := paidOrder()
	ro.Status = order.StatusPendingPayment
	pool := &fakePool{}
	repo := &fakeStore{ro: ro, payload: Payload{Content: "key-1234"}}
	svc := NewService(pool, repo)

	if _, err := svc.Reveal(context.Background(), "o1", "buyer-1"); !errors.Is(err, ErrNotYetPaid) {
		t.Fatalf("expected ErrNotYetPaid, got %v", err)
	}
	if repo.stamped {
		t.Errorf("no stamp on rejection")
	}
}

func TestReveal_CancelledUnrevealedRejected(t *testing.T) {
	ro := paidOrder()
	ro.Status = order.StatusCancelled
	pool := &fakePool{}
	repo := &fakeStore{ro: ro, payload: Payload{Content: "key-1234"}}
	svc := NewService(pool, repo)

	if _, err := svc.Reveal(context.Background(), "o1", "buyer-1"); !errors.Is(err, ErrNotYetPaid) {
		t.Fatalf("expected ErrNotYetPaid, got %v", err)
	}
}

func TestReveal_NonBuyerRejected(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeStore{ro: paidOrder(), payload: Payload{Content: "key-1234"}}
	svc := NewService(pool, repo)

	for _, caller := range []string{"seller-1", "stranger"} {
		if _, err := svc.Reveal(context.Background(), "o1", caller); !errors.Is(err, ErrNotEntitled) {
			t.Errorf("caller %s: expected ErrNotEntitled, got %v", caller, err)
		}
	}
}

func TestReveal_CoordinatedListingRejected(t *testing.T) {
	ro := paidOrder()
	ro.Delivery = order.DeliveryCoordinated
	pool := &fakePool{}
	repo := &fakeStore{ro: ro}
	svc := NewService(pool, repo)

	if _, err := svc.Reveal(context.Background(), "o1", "buyer-1"); !errors.Is(err, ErrNotEntitled) {
		t.Fatalf("expected ErrNotEntitled, got %v", err)
	}
}

func TestReveal_MissingSecretIsLoud(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeStore{ro: paidOrder(), secretErr: ErrNoSecret}
	svc := NewService(pool, repo)

	if _, err := svc.Reveal(context.Background(), "o1", "buyer-1"); !errors.Is(err, ErrSecretMissing) {
		t.Fatalf("expected ErrSecretMissing, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected rollback on missing secret")
	}
}

func TestSetSecret_EmptyPayloadRejected(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeStore{})
	if err := svc.SetSecret(context.Background(), "l1", "seller-1", Payload{}); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
