package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketflow/auth"
	"marketflow/dispute"
	"marketflow/order"
	"marketflow/vault"
)

type stubAccounts struct {
	actor auth.Actor
	err   error
}

func (s *stubAccounts) Register(_ context.Context, _ auth.RegisterRequest) (*auth.User, error) {
	return &auth.User{ID: "u1", Email: "buyer@example.com"}, nil
}

func (s *stubAccounts) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return auth.LoginResult{Token: "tok", User: auth.User{ID: "u1"}}, nil
}

func (s *stubAccounts) CurrentActor(_ string) (auth.Actor, error) {
	return s.actor, s.err
}

type stubOrders struct {
	created    order.Order
	createErr  error
	fetched    order.Order
	fetchErr   error
	actionErr  error
	lastAction string
}

func (s *stubOrders) Create(_ context.Context, _, _ string) (order.Order, error) {
	return s.created, s.createErr
}

func (s *stubOrders) ConfirmPayment(_ context.Context, _ string) error {
	s.lastAction = "payment"
	return s.actionErr
}

func (s *stubOrders) ConfirmDelivery(_ context.Context, _, _ string) error {
	s.lastAction = "delivery"
	return s.actionErr
}

func (s *stubOrders) ConfirmReceipt(_ context.Context, _, _ string) error {
	s.lastAction = "receipt"
	return s.actionErr
}

func (s *stubOrders) Cancel(_ context.Context, _, _ string) error {
	s.lastAction = "cancel"
	return s.actionErr
}

func (s *stubOrders) Dispute(_ context.Context, _, _, _, _ string) error {
	s.lastAction = "dispute"
	return s.actionErr
}

func (s *stubOrders) Get(_ context.Context, _ string) (order.Order, error) {
	return s.fetched, s.fetchErr
}

func (s *stubOrders) ListForUser(_ context.Context, _ string, _ int) ([]order.Order, error) {
	return []order.Order{s.fetched}, s.fetchErr
}

type stubVault struct {
	payload vault.Payload
	err     error
}

func (s *stubVault) Reveal(_ context.Context, _, _ string) (vault.Payload, error) {
	return s.payload, s.err
}

func (s *stubVault) OwnerPayload(_ context.Context, _, _ string) (vault.Payload, error) {
	return s.payload, s.err
}

func (s *stubVault) SetSecret(_ context.Context, _, _ string, _ vault.Payload) error {
	return s.err
}

type stubDisputes struct {
	err        error
	resolution dispute.Resolution
	actor      auth.Actor
}

func (s *stubDisputes) Resolve(_ context.Context, _ string, resolution dispute.Resolution, _ string, actor auth.Actor) error {
	s.resolution = resolution
	s.actor = actor
	return s.err
}

func authedServer(actor auth.Actor) *Server {
	return &Server{accounts: &stubAccounts{actor: actor}}
}

func bearerRequest(method, target string, body string) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer tok")
	return req
}

func TestHandleOrders_Create(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	server := authedServer(auth.Actor{ID: "buyer-1", Role: auth.RoleUser})
	server.orders = &stubOrders{created: order.Order{
		ID:        "o1",
		ListingID: "l1",
		BuyerID:   "buyer-1",
		SellerID:  "seller-1",
		Amount:    1000,
		FeeAmount: 100,
		NetAmount: 900,
		Status:    order.StatusPendingPayment,
		CreatedAt: now,
		UpdatedAt: now,
	}}

	req := bearerRequest(http.MethodPost, "/api/orders", `{"listing_id":"l1"}`)
	rec := httptest.NewRecorder()

	server.handleOrders(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] != "o1" || resp["status"] != "pending_payment" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if resp["fee_amount"].(float64)+resp["net_amount"].(float64) != resp["amount"].(float64) {
		t.Fatalf("fee and net do not sum to amount: %+v", resp)
	}
}

func TestHandleOrders_OutOfStock(t *testing.T) {
	server := authedServer(auth.Actor{ID: "buyer-1", Role: auth.RoleUser})
	server.orders = &stubOrders{createErr: order.ErrOutOfStock}

	req := bearerRequest(http.MethodPost, "/api/orders", `{"listing_id":"l1"}`)
	rec := httptest.NewRecorder()

	server.handleOrders(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleOrders_MissingToken(t *testing.T) {
	server := authedServer(auth.Actor{})

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	rec := httptest.NewRecorder()

	server.handleOrders(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleOrders_BadToken(t *testing.T) {
	server := &Server{accounts: &stubAccounts{err: errors.New("expired")}}

	req := bearerRequest(http.MethodGet, "/api/orders", "")
	rec := httptest.NewRecorder()

	server.handleOrders(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleOrder_Get(t *testing.T) {
	server := authedServer(auth.Actor{ID: "buyer-1", Role: auth.RoleUser})
	server.orders = &stubOrders{fetched: order.Order{ID: "o1", Status: order.StatusEscrowed}}

	req := bearerRequest(http.MethodGet, "/api/orders/o1", "")
	rec := httptest.NewRecorder()

	server.handleOrder(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "escrowed" {
		t.Fatalf("unexpected status: %v", resp["status"])
	}
}

func TestHandleOrder_NotFound(t *testing.T) {
	server := authedServer(auth.Actor{ID: "buyer-1", Role: auth.RoleUser})
	server.orders = &stubOrders{fetchErr: order.ErrNotFound}

	req := bearerRequest(http.MethodGet, "/api/orders/missing", "")
	rec := httptest.NewRecorder()

	server.handleOrder(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleOrder_PaymentRequiresAdmin(t *testing.T) {
	orders := &stubOrders{}
	server := authedServer(auth.Actor{ID: "buyer-1", Role: auth.RoleUser})
	server.orders = orders

	req := bearerRequest(http.MethodPost, "/api/orders/o1/payment", "")
	rec := httptest.NewRecorder()

	server.handleOrder(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if orders.lastAction != "" {
		t.Fatalf("payment dispatched despite denial: %q", orders.lastAction)
	}
}

func TestHandleOrder_PaymentAsAdmin(t *testing.T) {
	orders := &stubOrders{}
	server := authedServer(auth.Actor{ID: "ops-1", Role: auth.RoleAdmin})
	server.orders = orders

	req := bearerRequest(http.MethodPost, "/api/orders/o1/payment", "")
	rec := httptest.NewRecorder()

	server.handleOrder(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if orders.lastAction != "payment" {
		t.Fatalf("expected payment dispatch, got %q", orders.lastAction)
	}
}

func TestHandleOrder_InvalidTransition(t *testing.T) {
	server := authedServer(auth.Actor{ID: "seller-1", Role: auth.RoleUser})
	server.orders = &stubOrders{actionErr: order.ErrInvalidTransition}

	req := bearerRequest(http.MethodPost, "/api/orders/o1/delivery", "")
	rec := httptest.NewRecorder()

	server.handleOrder(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleOrder_Resolve(t *testing.T) {
	disputes := &stubDisputes{}
	server := authedServer(auth.Actor{ID: "arb-1", Role: auth.RoleArbitrator})
	server.disputes = disputes

	body := `{"resolution":"refund","note":"seller unresponsive"}`
	req := bearerRequest(http.MethodPost, "/api/orders/o1/resolve", body)
	rec := httptest.NewRecorder()

	server.handleOrder(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if disputes.resolution != dispute.ResolutionRefund {
		t.Fatalf("expected refund resolution, got %q", disputes.resolution)
	}
	if disputes.actor.ID != "arb-1" {
		t.Fatalf("expected actor arb-1, got %q", disputes.actor.ID)
	}
}

func TestHandleOrder_ResolveUnauthorized(t *testing.T) {
	server := authedServer(auth.Actor{ID: "buyer-1", Role: auth.RoleUser})
	server.disputes = &stubDisputes{err: auth.ErrUnauthorized}

	body := `{"resolution":"release","note":""}`
	req := bearerRequest(http.MethodPost, "/api/orders/o1/resolve", body)
	rec := httptest.NewRecorder()

	server.handleOrder(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleOrder_Secret(t *testing.T) {
	server := authedServer(auth.Actor{ID: "buyer-1", Role: auth.RoleUser})
	server.vault = &stubVault{payload: vault.Payload{Content: "key-ABCD"}}

	req := bearerRequest(http.MethodGet, "/api/orders/o1/secret", "")
	rec := httptest.NewRecorder()

	server.handleOrder(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload vault.Payload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Content != "key-ABCD" {
		t.Fatalf("unexpected payload content: %q", payload.Content)
	}
}

func TestHandleOrder_SecretNotYetPaid(t *testing.T) {
	server := authedServer(auth.Actor{ID: "buyer-1", Role: auth.RoleUser})
	server.vault = &stubVault{err: vault.ErrNotYetPaid}

	req := bearerRequest(http.MethodGet, "/api/orders/o1/secret", "")
	rec := httptest.NewRecorder()

	server.handleOrder(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleOrder_UnknownAction(t *testing.T) {
	server := authedServer(auth.Actor{ID: "buyer-1", Role: auth.RoleUser})

	req := bearerRequest(http.MethodPost, "/api/orders/o1/bogus", "")
	rec := httptest.NewRecorder()

	server.handleOrder(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleOrder_WrongMethod(t *testing.T) {
	server := authedServer(auth.Actor{ID: "buyer-1", Role: auth.RoleUser})

	req := bearerRequest(http.MethodDelete, "/api/orders/o1", "")
	rec := httptest.NewRecorder()

	server.handleOrder(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
