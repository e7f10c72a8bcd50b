package listings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists listings.
type Repository interface {
	Insert(ctx context.Context, l Listing) (*Listing, error)
	// Update rewrites an existing listing owned by l.UserID.
	Update(ctx context.Context, l Listing) (*Listing, error)
	Get(ctx context.Context, id string) (*Listing, error)
	ListByOwner(ctx context.Context, userID string, limit int) ([]Listing, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const listingColumns = `id::text, user_id::text, title, description, price::float8, stock, category_id::text,
	platform, tags, images, auto_delivery, auto_delivery_content, status, created_at, updated_at`

// Insert adds a listing row and returns it with generated columns filled.
func (r *PGRepository) Insert(ctx context.Context, l Listing) (*Listing, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO listings (user_id, title, description, price, stock, category_id, platform, tags, images,
			auto_delivery, auto_delivery_content, status)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+listingColumns,
		l.UserID, l.Title, l.Description, l.Price, l.Stock, l.CategoryID, l.Platform, nonNil(l.Tags), nonNil(l.Images),
		l.AutoDelivery, l.AutoDeliveryContent, l.Status)
	return scanListing(row)
}

// Update rewrites the editable columns. A listing owned by someone else reports ErrNotOwner.
func (r *PGRepository) Update(ctx context.Context, l Listing) (*Listing, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE listings SET title = $3, description = $4, price = $5::numeric, stock = $6, category_id = $7,
			platform = $8, tags = $9, images = $10, auto_delivery = $11, auto_delivery_content = $12,
			status = $13, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING `+listingColumns,
		l.ID, l.UserID, l.Title, l.Description, l.Price, l.Stock, l.CategoryID, l.Platform, nonNil(l.Tags), nonNil(l.Images),
		l.AutoDelivery, l.AutoDeliveryContent, l.Status)
	updated, err := scanListing(row)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.Get(ctx, l.ID); getErr == nil {
			return nil, ErrNotOwner
		}
	}
	return updated, err
}

// Get loads one listing. Ids that are not UUIDs report ErrNotFound.
func (r *PGRepository) Get(ctx context.Context, id string) (*Listing, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	row := r.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	return scanListing(row)
}

// ListByOwner returns the newest listings of userID.
func (r *PGRepository) ListByOwner(ctx context.Context, userID string, limit int) ([]Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+listingColumns+` FROM listings WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Listing, error) {
		l, err := scanListing(row)
		if err != nil {
			return Listing{}, err
		}
		return *l, nil
	})
}

func scanListing(row pgx.Row) (*Listing, error) {
	var l Listing
	err := row.Scan(&l.ID, &l.UserID, &l.Title, &l.Description, &l.Price, &l.Stock, &l.CategoryID,
		&l.Platform, &l.Tags, &l.Images, &l.AutoDelivery, &l.AutoDeliveryContent, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Repository = (*PGRepository)(nil)
