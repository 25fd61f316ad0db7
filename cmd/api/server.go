package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"marketflow/auth"
	"marketflow/dispute"
	"marketflow/listing"
	"marketflow/order"
	"marketflow/vault"
)

type orderService interface {
	Create(ctx context.Context, listingID, buyerID string) (order.Order, error)
	ConfirmPayment(ctx context.Context, orderID string) error
	ConfirmDelivery(ctx context.Context, orderID, actorID string) error
	ConfirmReceipt(ctx context.Context, orderID, actorID string) error
	Cancel(ctx context.Context, orderID, actorID string) error
	Dispute(ctx context.Context, orderID, actorID, category, reason string) error
	Get(ctx context.Context, orderID string) (order.Order, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]order.Order, error)
}

type vaultService interface {
	Reveal(ctx context.Context, orderID, callerID string) (vault.Payload, error)
	OwnerPayload(ctx context.Context, listingID, callerID string) (vault.Payload, error)
	SetSecret(ctx context.Context, listingID, callerID string, p vault.Payload) error
}

type disputeService interface {
	Resolve(ctx context.Context, orderID string, resolution dispute.Resolution, note string, actor auth.Actor) error
}

type accountService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	CurrentActor(token string) (auth.Actor, error)
}

// Server wires the HTTP surface onto the domain services.
type Server struct {
	accounts accountService
	orders   orderService
	vault    vaultService
	disputes disputeService
	listings *listing.Repository
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/register", s.handleRegister)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/orders", s.handleOrders)
	mux.HandleFunc("/api/orders/", s.handleOrder)
	mux.HandleFunc("/api/listings", s.handleListings)
	mux.HandleFunc("/api/listings/", s.handleListing)
	mux.HandleFunc("/api/categories", s.handleCategories)
	return mux
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	categories, err := s.listings.Categories(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(categories))
	for _, c := range categories {
		items = append(items, map[string]any{
			"id":          c.ID,
			"name":        c.Name,
			"fee_percent": c.FeePercent,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	user, err := s.accounts.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": user.ID, "email": user.Email})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	res, err := s.accounts.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": res.Token, "user_id": res.User.ID})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req struct {
			ListingID string `json:"listing_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		ord, err := s.orders.Create(r.Context(), req.ListingID, actor.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, orderResponse(ord))
	case http.MethodGet:
		orders, err := s.orders.ListForUser(r.Context(), actor.ID, 50)
		if err != nil {
			s.writeError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(orders))
		for _, o := range orders {
			items = append(items, orderResponse(o))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleOrder serves /api/orders/{id} and its action sub-paths.
func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/orders/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "order id required", http.StatusBadRequest)
		return
	}

	if action == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ord, err := s.orders.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orderResponse(ord))
		return
	}

	if action == "secret" {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		payload, err := s.vault.Reveal(r.Context(), id, actor.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		// Repeat reveals serve the same bytes the first one did.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(payload.Bytes())
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var err error
	switch action {
	case "payment":
		// Stand-in for the payment gateway callback; operators only.
		if actor.Role != auth.RoleAdmin {
			s.writeError(w, auth.ErrUnauthorized)
			return
		}
		err = s.orders.ConfirmPayment(r.Context(), id)
	case "delivery":
		err = s.orders.ConfirmDelivery(r.Context(), id, actor.ID)
	case "receipt":
		err = s.orders.ConfirmReceipt(r.Context(), id, actor.ID)
	case "cancel":
		err = s.orders.Cancel(r.Context(), id, actor.ID)
	case "dispute":
		var req struct {
			Category string `json:"category"`
			Reason   string `json:"reason"`
		}
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		err = s.orders.Dispute(r.Context(), id, actor.ID, req.Category, req.Reason)
	case "resolve":
		var req struct {
			Resolution string `json:"resolution"`
			Note       string `json:"note"`
		}
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		err = s.disputes.Resolve(r.Context(), id, dispute.Resolution(req.Resolution), req.Note, actor)
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}

	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req struct {
			CategoryID string `json:"category_id"`
			Title      string `json:"title"`
			Price      int64  `json:"price"`
			Stock      int    `json:"stock"`
			Delivery   string `json:"delivery_method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		l, err := s.listings.Create(r.Context(), listing.CreateParams{
			SellerID:   actor.ID,
			CategoryID: req.CategoryID,
			Title:      req.Title,
			Price:      req.Price,
			Stock:      req.Stock,
			Delivery:   order.Delivery(req.Delivery),
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": l.ID})
	case http.MethodGet:
		listings, err := s.listings.ListForSeller(r.Context(), actor.ID, 50)
		if err != nil {
			s.writeError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(listings))
		for _, l := range listings {
			items = append(items, listingResponse(l))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleListing serves /api/listings/{id} and the owner secret sub-path.
func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/listings/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "listing id required", http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		l, err := s.listings.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, listingResponse(l))
	case action == "secret" && r.Method == http.MethodGet:
		payload, err := s.vault.OwnerPayload(r.Context(), id, actor.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case action == "secret" && r.Method == http.MethodPut:
		var payload vault.Payload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if err := s.vault.SetSecret(r.Context(), id, actor.ID, payload); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// authenticate resolves the bearer token into an actor.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return auth.Actor{}, false
	}
	actor, err := s.accounts.CurrentActor(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return auth.Actor{}, false
	}
	return actor, true
}

// writeError maps domain sentinels onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, auth.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrListingNotFound),
		errors.Is(err, vault.ErrOrderNotFound),
		errors.Is(err, vault.ErrListingNotFound),
		errors.Is(err, dispute.ErrOrderNotFound),
		errors.Is(err, listing.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, order.ErrOutOfStock),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrAlreadyResolved),
		errors.Is(err, order.ErrPayoutReleased),
		errors.Is(err, dispute.ErrNotDisputed),
		errors.Is(err, dispute.ErrAlreadyResolved),
		errors.Is(err, auth.ErrDuplicateEmail):
		status = http.StatusConflict
	case errors.Is(err, order.ErrNotSeller),
		errors.Is(err, order.ErrNotBuyer),
		errors.Is(err, order.ErrNotParticipant),
		errors.Is(err, vault.ErrNotEntitled),
		errors.Is(err, vault.ErrNotYetPaid):
		status = http.StatusForbidden
	case errors.Is(err, order.ErrSelfPurchase),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, listing.ErrBadPrice),
		errors.Is(err, listing.ErrBadStock),
		errors.Is(err, listing.ErrBadCategory):
		status = http.StatusBadRequest
	default:
		log.Printf("api: internal error: %v", err)
		status = http.StatusInternalServerError
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func listingResponse(l listing.Listing) map[string]any {
	return map[string]any{
		"id":              l.ID,
		"seller_id":       l.SellerID,
		"category_id":     l.CategoryID,
		"title":           l.Title,
		"price":           l.Price,
		"stock":           l.Stock,
		"delivery_method": string(l.Delivery),
		"created_at":      l.CreatedAt,
		"updated_at":      l.UpdatedAt,
	}
}

func orderResponse(o order.Order) map[string]any {
	return map[string]any{
		"id":             o.ID,
		"listing_id":     o.ListingID,
		"buyer_id":       o.BuyerID,
		"seller_id":      o.SellerID,
		"amount":         o.Amount,
		"fee_amount":     o.FeeAmount,
		"net_amount":     o.NetAmount,
		"status":         string(o.Status),
		"payout_status":  string(o.PayoutStatus),
		"created_at":     o.CreatedAt,
		"updated_at":     o.UpdatedAt,
		"revealed":       o.RevealedAt != nil,
		"dispute_reason": o.DisputeReason,
	}
}
