package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketflow/order"
)

var (
	// ErrNotFound signals the requested listing does not exist.
	ErrNotFound = errors.New("listing: not found")
	// ErrBadCategory signals an unknown category reference.
	ErrBadCategory = errors.New("listing: unknown category")
	// ErrBadPrice rejects non-positive prices.
	ErrBadPrice = errors.New("listing: price must be positive")
	// ErrBadStock rejects negative initial stock.
	ErrBadStock = errors.New("listing: stock must not be negative")
)

const listingColumns = `id, seller_id, category_id, title, price, stock, delivery_method::text, created_at, updated_at`

// Repository provides access to listings and categories.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a listing for the seller.
func (r *Repository) Create(ctx context.Context, params CreateParams) (Listing, error) {
	if params.Price <= 0 {
		return Listing{}, ErrBadPrice
	}
	if params.Stock < 0 {
		return Listing{}, ErrBadStock
	}
	if params.Delivery != order.DeliveryInstant && params.Delivery != order.DeliveryCoordinated {
		return Listing{}, fmt.Errorf("listing: unknown delivery method %q", params.Delivery)
	}

	var category any
	if params.CategoryID != "" {
		category = params.CategoryID
	}

	const query = `
		INSERT INTO listings (seller_id, category_id, title, price, stock, delivery_method)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + listingColumns

	l, err := scanListing(r.pool.QueryRow(ctx, query,
		params.SellerID, category, params.Title, params.Price, params.Stock, params.Delivery))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Listing{}, ErrBadCategory
		}
		return Listing{}, fmt.Errorf("listing: create: %w", err)
	}
	return l, nil
}

// Get fetches a listing by ID.
func (r *Repository) Get(ctx context.Context, id string) (Listing, error) {
	l, err := scanListing(r.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("listing: get: %w", err)
	}
	return l, nil
}

// ListForSeller returns the seller's listings, newest first.
func (r *Repository) ListForSeller(ctx context.Context, sellerID string, limit int) ([]Listing, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sellerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing: list for seller: %w", err)
	}
	defer rows.Close()

	out := make([]Listing, 0, limit)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("listing: scan: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing: iterate: %w", err)
	}
	return out, nil
}

// Categories returns all fee categories.
func (r *Repository) Categories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, fee_percent::text FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing: categories: %w", err)
	}
	defer rows.Close()

	out := make([]Category, 0, 8)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.FeePercent); err != nil {
			return nil, fmt.Errorf("listing: scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing: iterate categories: %w", err)
	}
	return out, nil
}

func scanListing(row pgx.Row) (Listing, error) {
	var l Listing
	err := row.Scan(&l.ID, &l.SellerID, &l.CategoryID, &l.Title, &l.Price, &l.Stock, &l.Delivery, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return Listing{}, err
	}
	return l, nil
}
